package web

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"manifold/internal/research"
)

// RenderFetcher retrieves a URL by driving a headless Chrome instance,
// for pages whose content only appears after client-side JavaScript runs.
type RenderFetcher struct {
	Timeout time.Duration
}

// NewRenderFetcher returns a RenderFetcher with a sensible page-load timeout.
func NewRenderFetcher() *RenderFetcher {
	return &RenderFetcher{Timeout: 25 * time.Second}
}

var _ research.Fetcher = (*RenderFetcher)(nil)

// Fetch satisfies research.Fetcher by rendering the page and returning its
// post-render text content as markdown-plain text.
func (r *RenderFetcher) Fetch(ctx context.Context, rawURL string) (research.FetchResult, error) {
	ctx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, r.Timeout)
	defer timeoutCancel()

	var title, text string
	var hrefs []string
	err := chromedp.Run(ctx,
		chromedp.Navigate(rawURL),
		chromedp.Title(&title),
		chromedp.Text("body", &text, chromedp.NodeVisible),
		chromedp.Evaluate(`Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`, &hrefs),
	)
	if err != nil {
		return research.FetchResult{}, fmt.Errorf("render %s: %w", rawURL, err)
	}

	return research.FetchResult{
		URL:     rawURL,
		Title:   title,
		Content: text,
		Links:   hrefs,
	}, nil
}
