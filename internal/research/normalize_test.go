package research

import "testing"

import "github.com/stretchr/testify/assert"

func TestNormalizeURL_StripsTrackingParamsAndFragment(t *testing.T) {
	got, ok := NormalizeURL("HTTPS://Example.com:443/Path/?utm_source=x&gclid=y&q=1#section")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/Path?q=1", got)
}

func TestNormalizeURL_TrimsTrailingSlashExceptRoot(t *testing.T) {
	got, ok := NormalizeURL("https://example.com/a/b/")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/a/b", got)

	got, ok = NormalizeURL("https://example.com/")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/", got)
}

func TestNormalizeURL_CollapsesDuplicateSlashes(t *testing.T) {
	got, ok := NormalizeURL("https://example.com//a///b")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/a/b", got)
}

func TestNormalizeURL_RejectsInvalid(t *testing.T) {
	_, ok := NormalizeURL("not a url")
	assert.False(t, ok)

	_, ok = NormalizeURL("ftp://example.com/file")
	assert.False(t, ok)

	_, ok = NormalizeURL("")
	assert.False(t, ok)
}

func TestNormalizeURL_SameURLDifferentFormsCanonicalizeEqual(t *testing.T) {
	a, _ := NormalizeURL("https://EXAMPLE.com:443/foo/?utm_campaign=z")
	b, _ := NormalizeURL("https://example.com/foo")
	assert.Equal(t, a, b)
}
