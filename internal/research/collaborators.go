package research

import "context"

// SearchResult is one hit returned by the Searcher collaborator.
type SearchResult struct {
	URL         string
	Title       string
	Description string
}

// Searcher issues a query against a search engine.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// FetchResult is the content of a visited page.
type FetchResult struct {
	URL         string
	Title       string
	Description string
	Content     string
	DateModified string
	Links       []string
}

// Fetcher retrieves and converts the content of a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Reranker scores a set of candidate URLs against a question.
type Reranker interface {
	Rerank(ctx context.Context, question string, urls []string) (map[string]float64, error)
}

// SandboxResult is the outcome of handing a problem to the coding sandbox.
type SandboxResult struct {
	Code   string
	Output string
}

// Sandbox solves a concrete, self-contained coding problem.
type Sandbox interface {
	Solve(ctx context.Context, issue string) (SandboxResult, error)
}

// ObjectGenerator is the generateObject collaborator: a schema-constrained
// structured completion call against an LLM provider. usedTokens is a best
// effort estimate (providers in this module don't universally expose exact
// usage through the portable Provider interface).
type ObjectGenerator interface {
	GenerateObject(ctx context.Context, system string, userPrompt string, schema map[string]any) (result map[string]any, usedTokens int, err error)
}

// Collaborators bundles every external dependency the scheduler needs. A
// single research.Run holds exactly one of these, built fresh per request.
type Collaborators struct {
	LLM      ObjectGenerator
	Search   Searcher
	Fetch    Fetcher
	Rerank   Reranker
	Sandbox  Sandbox
}
