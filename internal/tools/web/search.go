// Package web adapts SearXNG-backed search, HTTP/JS page fetching, and an
// HTTP reranker endpoint to the research package's Searcher/Fetcher/Reranker
// collaborator interfaces.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"manifold/internal/research"
)

// RateLimitConfig controls how aggressively Searcher retries a flaky SearXNG
// instance without tripping its own rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	JitterPercent     float64
}

// DefaultRateLimitConfig returns sensible defaults to avoid getting banned.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 0.5,
		BurstSize:         2,
		MaxRetries:        3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		JitterPercent:     0.3,
	}
}

type tokenBucket struct {
	capacity   int
	tokens     int
	refillAt   time.Time
	refillRate time.Duration
	mu         sync.Mutex
}

func newTokenBucket(capacity int, refillRate time.Duration) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity, refillAt: time.Now(), refillRate: refillRate}
}

func (tb *tokenBucket) takeToken() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	if now.After(tb.refillAt) {
		elapsed := now.Sub(tb.refillAt)
		tokensToAdd := int(elapsed / tb.refillRate)
		if tokensToAdd > 0 {
			tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
			tb.refillAt = tb.refillAt.Add(time.Duration(tokensToAdd) * tb.refillRate)
		}
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) waitForToken(ctx context.Context) error {
	for {
		if tb.takeToken() {
			return nil
		}
		tb.mu.Lock()
		waitTime := time.Until(tb.refillAt)
		tb.mu.Unlock()
		if waitTime <= 0 {
			waitTime = tb.refillRate
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

var uaList = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:102.0) Gecko/20100101 Firefox/102.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36 Edg/115.0.0.0",
}

func randomUA() string {
	return uaList[int(time.Now().UnixNano())%len(uaList)]
}

// Searcher issues queries against a SearXNG instance, preferring its JSON API
// and falling back to scraping result links out of the HTML response.
type Searcher struct {
	http        *http.Client
	searxngURL  string
	rateLimiter *tokenBucket
	rateCfg     RateLimitConfig
	maxResults  int
}

// NewSearcher constructs a Searcher against the given SearXNG base URL.
func NewSearcher(searxngURL string) *Searcher {
	cfg := DefaultRateLimitConfig()
	refillRate := time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
	return &Searcher{
		http:        &http.Client{Timeout: 12 * time.Second},
		searxngURL:  strings.TrimSuffix(searxngURL, "/"),
		rateLimiter: newTokenBucket(cfg.BurstSize, refillRate),
		rateCfg:     cfg,
		maxResults:  8,
	}
}

var _ research.Searcher = (*Searcher)(nil)

// Search satisfies research.Searcher.
func (s *Searcher) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	if err := s.rateLimiter.waitForToken(ctx); err != nil {
		return nil, fmt.Errorf("rate limited: %w", err)
	}
	return s.searchWithRetry(ctx, strings.TrimSpace(query))
}

func (s *Searcher) searchWithRetry(ctx context.Context, query string) ([]research.SearchResult, error) {
	var lastErr error
	for attempt := 0; attempt < s.rateCfg.MaxRetries; attempt++ {
		results, err := s.searchOnce(ctx, query)
		if err == nil && len(results) > 0 {
			return results, nil
		}
		lastErr = err

		delay := s.rateCfg.BaseDelay * (1 << attempt)
		if delay > s.rateCfg.MaxDelay {
			delay = s.rateCfg.MaxDelay
		}
		jitter := time.Duration(float64(delay) * s.rateCfg.JitterPercent * (0.5 + randFloat64()))
		delay += jitter

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("search failed after %d retries: %w", s.rateCfg.MaxRetries, lastErr)
}

func randFloat64() float64 {
	return float64(time.Now().UnixNano()%1000) / 1000.0
}

func (s *Searcher) searchOnce(ctx context.Context, query string) ([]research.SearchResult, error) {
	results, err := s.searchJSON(ctx, query)
	if err == nil && len(results) > 0 {
		return results, nil
	}
	return s.searchHTML(ctx, query)
}

func (s *Searcher) searchJSON(ctx context.Context, query string) ([]research.SearchResult, error) {
	v := url.Values{}
	v.Set("q", query)
	v.Set("format", "json")
	v.Set("categories", "general")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.searxngURL+"/search?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", randomUA())

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("searxng http %d", resp.StatusCode)
	}

	var searxngResp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searxngResp); err != nil {
		return nil, err
	}

	results := make([]research.SearchResult, 0, len(searxngResp.Results))
	for i, r := range searxngResp.Results {
		if i >= s.maxResults {
			break
		}
		results = append(results, research.SearchResult{
			Title:       strings.TrimSpace(r.Title),
			URL:         r.URL,
			Description: strings.TrimSpace(r.Content),
		})
	}
	return results, nil
}

func (s *Searcher) searchHTML(ctx context.Context, query string) ([]research.SearchResult, error) {
	v := url.Values{}
	v.Set("q", query)
	v.Set("categories", "general")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.searxngURL+"/search?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", randomUA())

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("searxng http %d", resp.StatusCode)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	urls, err := extractURLsFromHTML(root)
	if err != nil {
		return nil, err
	}

	results := make([]research.SearchResult, 0, len(urls))
	seen := map[string]struct{}{}
	for _, urlStr := range urls {
		if _, exists := seen[urlStr]; exists {
			continue
		}
		seen[urlStr] = struct{}{}

		title := urlStr
		if u, err := url.Parse(urlStr); err == nil && u.Host != "" {
			title = u.Host + u.Path
		}
		results = append(results, research.SearchResult{Title: title, URL: urlStr})
		if len(results) >= s.maxResults {
			break
		}
	}
	return results, nil
}

// extractURLsFromHTML walks a parsed HTML document and collects anchor hrefs
// that look like absolute links.
func extractURLsFromHTML(doc *html.Node) ([]string, error) {
	var urls []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.Contains(attr.Val, "http") {
					urls = append(urls, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return urls, nil
}
