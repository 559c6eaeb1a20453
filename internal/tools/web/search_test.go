package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearcherSearchParsesJSONResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"One","url":"https://example.com/1","content":"first hit"},{"title":"Two","url":"https://example.com/2"}]}`))
	}))
	defer srv.Close()

	s := NewSearcher(srv.URL)
	results, err := s.Search(context.Background(), "test query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "https://example.com/1" || results[0].Description != "first hit" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
}

func TestSearcherSearchFallsBackToHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "json" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="https://example.com/result1">R1</a></body></html>`))
	}))
	defer srv.Close()

	s := NewSearcher(srv.URL)
	s.rateCfg.BaseDelay = 0
	s.rateCfg.MaxDelay = 0
	results, err := s.Search(context.Background(), "test query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 || results[0].URL != "https://example.com/result1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}
