package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURLStore_DedupesAndBoostsFrequency(t *testing.T) {
	s := NewURLStore()
	c1, first1 := s.Add("https://example.com/a", "A")
	assert.True(t, first1)
	c2, first2 := s.Add("https://example.com/a/", "A again")
	assert.False(t, first2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, 1, s.Len())
}

func TestURLStore_DiversityCapLimitsPerHostname(t *testing.T) {
	s := NewURLStore()
	for i := 0; i < 5; i++ {
		s.Add(hostURL(i), "t")
	}
	top := s.TopN(10)
	counts := map[string]int{}
	for _, r := range top {
		counts[r.Hostname]++
	}
	for host, n := range counts {
		assert.LessOrEqualf(t, n, 2, "hostname %s exceeded diversity cap", host)
	}
}

func hostURL(i int) string {
	paths := []string{"/1", "/2", "/3", "/4", "/5"}
	return "https://same-host.example.com" + paths[i]
}

func TestURLStore_UnvisitedExcludesVisited(t *testing.T) {
	s := NewURLStore()
	canonical, _ := s.Add("https://example.com/a", "A")
	s.MarkVisited(canonical)
	s.Add("https://example.com/b", "B")

	unvisited := s.Unvisited(10)
	assert.Len(t, unvisited, 1)
	assert.Equal(t, "https://example.com/b", unvisited[0].URL)
}

func TestURLStore_InvalidURLIgnored(t *testing.T) {
	s := NewURLStore()
	_, ok := s.Add("not a url", "")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestURLStore_DuplicateCountTracksRepeats(t *testing.T) {
	s := NewURLStore()
	s.Add("https://example.com/a", "")
	assert.Equal(t, 0, s.DuplicateCount())
	s.Add("https://example.com/a", "")
	assert.Equal(t, 1, s.DuplicateCount())
}

func TestURLStore_NormalizationMergesOccurrences(t *testing.T) {
	s := NewURLStore()
	s.Add("HTTP://Example.com:80/a/?utm_source=x#frag", "")
	canonical, firstSeen := s.Add("http://example.com/a/", "")
	assert.False(t, firstSeen)
	assert.Equal(t, 1, s.Len())
	rec, ok := s.records[canonical]
	assert.True(t, ok)
	assert.Equal(t, 2, rec.Occurrences)
}

func TestURLStore_BadHostnameExcludedFromRanking(t *testing.T) {
	s := NewURLStoreWithPolicy(HostPolicy{Bad: []string{"bad.example.com"}})
	s.Add("https://bad.example.com/a", "")
	s.Add("https://good.example.com/a", "")
	top := s.TopN(10)
	assert.Len(t, top, 1)
	assert.Equal(t, "good.example.com", top[0].Hostname)
}

func TestURLStore_OnlyHostnameRestrictsRanking(t *testing.T) {
	s := NewURLStoreWithPolicy(HostPolicy{Only: []string{"example.com"}})
	s.Add("https://example.com/a", "")
	s.Add("https://other.com/a", "")
	top := s.TopN(10)
	assert.Len(t, top, 1)
	assert.Equal(t, "example.com", top[0].Hostname)
}

func TestURLStore_BoostHostnameOutranksAtEqualFrequency(t *testing.T) {
	s := NewURLStoreWithPolicy(HostPolicy{Boost: []string{"example.com"}})
	s.Add("https://example.com/a", "")
	s.Add("https://other.com/a", "")
	top := s.TopN(10)
	assert.Equal(t, "example.com", top[0].Hostname)
}
