package research

import "context"

// fakeLLM returns a scripted queue of GenerateObject results, falling back
// to defaultResp once the queue is drained (e.g. for evaluator criteria
// calls a test doesn't care to script individually).
type fakeLLM struct {
	queue       []map[string]any
	defaultResp map[string]any
	calls       int
}

func (f *fakeLLM) GenerateObject(_ context.Context, _ string, _ string, _ map[string]any) (map[string]any, int, error) {
	f.calls++
	if len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		return next, 10, nil
	}
	return f.defaultResp, 10, nil
}

type fakeSearcher struct {
	results map[string][]SearchResult
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]SearchResult, error) {
	return f.results[query], nil
}

type fakeFetcher struct {
	pages map[string]FetchResult
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (FetchResult, error) {
	if r, ok := f.pages[url]; ok {
		return r, nil
	}
	return FetchResult{URL: url, Content: "no content"}, nil
}
