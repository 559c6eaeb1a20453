package research

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Execute_HappyPathSearchVisitAnswer(t *testing.T) {
	llm := &fakeLLM{
		queue: []map[string]any{
			{"criteria": []any{}},
			{"action": "search", "think": "let's search", "queries": []any{"golang testing"}},
			{"action": "visit", "think": "let's read it", "urls": []any{"https://example.com/a"}},
			{"action": "answer", "think": "i know now", "text": "Go is a language.", "references": []any{
				map[string]any{"url": "https://example.com/a", "exactQuote": "Go is a language."},
			}},
		},
		defaultResp: map[string]any{"pass": true, "reasoning": "looks good"},
	}
	search := &fakeSearcher{results: map[string][]SearchResult{
		"golang testing": {{URL: "https://example.com/a", Title: "A", Description: "desc"}},
	}}
	fetch := &fakeFetcher{pages: map[string]FetchResult{
		"https://example.com/a": {URL: "https://example.com/a", Content: "Go is a statically typed language."},
	}}

	run := NewRun("what is Go?", Budget{MaxTokens: 10000, MaxBadAttempts: 2, MaxSteps: 10}, Collaborators{
		LLM:    llm,
		Search: search,
		Fetch:  fetch,
	}, "test-model", RunOptions{})

	done := make(chan struct{})
	go func() {
		for range run.Stream.Chunks() {
		}
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	answer, err := run.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Go is a language.", answer.Text)
	assert.Len(t, answer.References, 1)
	assert.Equal(t, 1, run.QueriesIssued())
	assert.Equal(t, 1, run.NumURLs())

	<-done
}

func TestRun_Execute_ForcesAnswerWhenBudgetExhausted(t *testing.T) {
	llm := &fakeLLM{
		defaultResp: map[string]any{"text": "best guess", "references": []any{}},
	}
	run := NewRun("unanswerable question", Budget{MaxTokens: 0, MaxBadAttempts: 1, MaxSteps: 5}, Collaborators{
		LLM: llm,
	}, "test-model", RunOptions{})

	go func() {
		for range run.Stream.Chunks() {
		}
	}()

	answer, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "best guess", answer.Text)
}
