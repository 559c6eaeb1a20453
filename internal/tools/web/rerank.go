package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"manifold/internal/research"
)

// rerankRequest is the payload sent to a llama.cpp-compatible reranker
// endpoint.
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	TopN      int      `json:"top_n"`
	Documents []string `json:"documents"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Model   string         `json:"model"`
	Results []rerankResult `json:"results"`
}

// Reranker scores a set of candidate URLs against a question by calling an
// HTTP reranker endpoint with the URLs standing in for the documents.
type Reranker struct {
	Host   string
	Model  string
	client *http.Client
}

// NewReranker builds a Reranker against an HTTP endpoint, using model as the
// reranker model name.
func NewReranker(host, model string) *Reranker {
	return &Reranker{Host: host, Model: model, client: &http.Client{Timeout: 15 * time.Second}}
}

var _ research.Reranker = (*Reranker)(nil)

// Rerank satisfies research.Reranker, scoring each URL as if it were the
// document to rerank against question.
func (r *Reranker) Rerank(ctx context.Context, question string, urls []string) (map[string]float64, error) {
	if len(urls) == 0 {
		return map[string]float64{}, nil
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     r.Model,
		Query:     question,
		TopN:      len(urls),
		Documents: urls,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Host, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make(map[string]float64, len(urls))
	for _, result := range parsed.Results {
		if result.Index < 0 || result.Index >= len(urls) {
			continue
		}
		scores[urls[result.Index]] = result.RelevanceScore
	}
	return scores, nil
}
