package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetcherFetchConvertsHTMLToMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Example</title></head><body>
			<article><h1>Example</h1><p>Hello world.</p></article>
			<a href="/relative">relative link</a>
			<a href="https://other.example.com/page">absolute link</a>
		</body></html>`))
	}))
	defer srv.Close()

	f := NewFetcher()
	result, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "Hello world") {
		t.Fatalf("expected markdown body in content, got %q", result.Content)
	}
	if len(result.Links) == 0 {
		t.Fatalf("expected at least one extracted link")
	}
}

func TestFetcherFetchRejectsUnsupportedScheme(t *testing.T) {
	f := NewFetcher()
	if _, err := f.Fetch(context.Background(), "ftp://example.com/file"); err == nil {
		t.Fatalf("expected an error for an unsupported scheme")
	}
}

func TestFetcherFetchMarkdownStubsBinaryContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x00, 0x01, 0x02})
	}))
	defer srv.Close()

	f := NewFetcher()
	res, err := f.FetchMarkdown(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Markdown, "non-text resource") {
		t.Fatalf("expected a non-text stub, got %q", res.Markdown)
	}
}
