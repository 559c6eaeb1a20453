package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"manifold/internal/research"
)

// Result is a single fetched page, converted to markdown.
type Result struct {
	InputURL     string
	FinalURL     string
	Status       int
	ContentType  string
	Charset      string
	Title        string
	Markdown     string
	Links        []string
	UsedReadable bool
	FetchedAt    time.Time
}

// FetchOptions tunes a Fetcher. The zero value is never used directly; see
// NewFetcher for defaults.
type FetchOptions struct {
	Timeout        time.Duration
	MaxBytes       int64
	PreferReadable bool
	UserAgent      string
	MaxRedirects   int
}

// Option configures a Fetcher.
type Option func(*FetchOptions)

// WithTimeout sets the total request timeout.
func WithTimeout(d time.Duration) Option { return func(o *FetchOptions) { o.Timeout = d } }

// WithMaxBytes caps the number of response bytes read.
func WithMaxBytes(n int64) Option { return func(o *FetchOptions) { o.MaxBytes = n } }

// WithPreferReadable toggles readability-based article extraction.
func WithPreferReadable(v bool) Option { return func(o *FetchOptions) { o.PreferReadable = v } }

// WithUserAgent overrides the rotating default user agent.
func WithUserAgent(ua string) Option { return func(o *FetchOptions) { o.UserAgent = ua } }

// WithMaxRedirects caps how many redirects a single fetch will follow.
func WithMaxRedirects(n int) Option { return func(o *FetchOptions) { o.MaxRedirects = n } }

// Fetcher retrieves a URL and converts its content to markdown, extracting
// outbound links along the way so the scheduler can discover new candidates.
type Fetcher struct {
	client *http.Client
	opts   FetchOptions
}

// NewFetcher builds a Fetcher with hardened defaults: capped body size,
// a bounded redirect policy, and readability-first HTML extraction.
func NewFetcher(opts ...Option) *Fetcher {
	o := FetchOptions{
		Timeout:        20 * time.Second,
		MaxBytes:       8 * 1000 * 1000,
		PreferReadable: true,
		MaxRedirects:   10,
	}
	for _, fn := range opts {
		fn(&o)
	}

	dialer := &net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	checkRedirect := func(req *http.Request, via []*http.Request) error {
		limit := o.MaxRedirects
		if limit <= 0 {
			limit = 10
		}
		if len(via) > limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	}

	client := &http.Client{Transport: transport, CheckRedirect: checkRedirect, Timeout: o.Timeout}
	return &Fetcher{client: client, opts: o}
}

var _ research.Fetcher = (*Fetcher)(nil)

// Fetch satisfies research.Fetcher, adapting FetchMarkdown's richer Result
// into the scheduler's FetchResult shape.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (research.FetchResult, error) {
	res, err := f.FetchMarkdown(ctx, rawURL)
	if err != nil {
		return research.FetchResult{}, err
	}
	return research.FetchResult{
		URL:     res.FinalURL,
		Title:   res.Title,
		Content: res.Markdown,
		Links:   res.Links,
	}, nil
}

// FetchMarkdown fetches rawURL and returns best-effort markdown content. It
// never returns a nil Result on success; unsupported content types get a
// short stub instead of an error.
func (f *Fetcher) FetchMarkdown(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	ua := f.opts.UserAgent
	if ua == "" {
		ua = randomUA()
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	finalURL := resp.Request.URL.String()
	ct, cs := parseContentType(resp.Header.Get("Content-Type"))

	limited := io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, fmt.Errorf("response exceeds max bytes (%d)", f.opts.MaxBytes)
	}

	utf8Body, err := toUTF8(body, cs)
	if err != nil {
		return nil, fmt.Errorf("charset decode: %w", err)
	}

	res := &Result{
		InputURL:    rawURL,
		FinalURL:    finalURL,
		Status:      resp.StatusCode,
		ContentType: ct,
		Charset:     cs,
		FetchedAt:   time.Now(),
	}

	switch {
	case isHTML(ct):
		htmlStr := string(utf8Body)

		if links, lerr := parseLinks(htmlStr, finalURL); lerr == nil {
			res.Links = links
		}

		var (
			articleHTML string
			title       string
			usedRead    bool
		)
		if f.opts.PreferReadable {
			base, _ := url.Parse(finalURL)
			art, rerr := readability.FromReader(strings.NewReader(htmlStr), base)
			if rerr == nil && strings.TrimSpace(art.Content) != "" {
				articleHTML = art.Content
				title = strings.TrimSpace(art.Title)
				usedRead = true
			}
		}
		if articleHTML == "" {
			articleHTML = htmlStr
		}

		base := baseOrigin(finalURL)
		md, mdErr := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(base))
		if mdErr != nil {
			return nil, fmt.Errorf("html->markdown: %w", mdErr)
		}
		if title != "" && !hasLeadingH1(md) {
			md = "# " + title + "\n\n" + md
		}

		res.Markdown = strings.TrimSpace(md)
		res.Title = title
		res.UsedReadable = usedRead
		return res, nil

	case strings.HasPrefix(ct, "text/"):
		res.Markdown = fenced(string(utf8Body), guessFenceLanguage(ct))
		return res, nil

	case ct == "application/json" || strings.HasSuffix(ct, "+json"):
		res.Markdown = fenced(string(utf8Body), "json")
		return res, nil

	default:
		name := ct
		if name == "" {
			name = "application/octet-stream"
		}
		res.Markdown = fmt.Sprintf(
			"**Downloaded a non-text resource** (`%s`, %d bytes).\n\n[Download original](%s)",
			name, len(body), finalURL,
		)
		return res, nil
	}
}

// parseLinks extracts and resolves every anchor href in htmlStr against base.
func parseLinks(htmlStr, base string) ([]string, error) {
	root, err := nethtml.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return nil, err
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var links []string
	var walk func(*nethtml.Node)
	walk = func(n *nethtml.Node) {
		if n.Type == nethtml.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, perr := url.Parse(attr.Val)
				if perr != nil {
					continue
				}
				resolved := baseURL.ResolveReference(ref)
				if resolved.Scheme != "http" && resolved.Scheme != "https" {
					continue
				}
				s := resolved.String()
				if _, ok := seen[s]; ok {
					continue
				}
				seen[s] = struct{}{}
				links = append(links, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links, nil
}

func parseContentType(h string) (ctype, cs string) {
	if h == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(h)
	if err != nil {
		return h, ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

func isHTML(ct string) bool {
	return ct == "text/html" || ct == "application/xhtml+xml" || strings.HasSuffix(ct, "html")
}

func toUTF8(b []byte, charsetLabel string) ([]byte, error) {
	if charsetLabel == "" || strings.EqualFold(charsetLabel, "utf-8") || strings.EqualFold(charsetLabel, "utf8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(charsetLabel, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func guessFenceLanguage(ct string) string {
	switch ct {
	case "text/markdown":
		return "md"
	case "text/csv":
		return "csv"
	case "text/xml", "application/xml":
		return "xml"
	case "text/html", "application/xhtml+xml":
		return "html"
	default:
		return ""
	}
}

func fenced(s, lang string) string {
	s = strings.TrimRight(s, "\n")
	if lang != "" {
		return "```" + lang + "\n" + s + "\n```"
	}
	return "```\n" + s + "\n```"
}

func hasLeadingH1(md string) bool {
	md = strings.TrimLeft(md, "\n")
	return strings.HasPrefix(md, "# ")
}
