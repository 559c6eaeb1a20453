package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manifold/internal/config"
	"manifold/internal/research"
)

func TestStripThinkRemovesReasoningSpan(t *testing.T) {
	got := stripThink("<think>scratch work</think>final answer")
	assert.Equal(t, "final answer", got)
}

func TestStripThinkLeavesPlainTextAlone(t *testing.T) {
	got := stripThink("no reasoning here")
	assert.Equal(t, "no reasoning here", got)
}

func TestExtractQuestionPicksLastUserMessage(t *testing.T) {
	messages := []chatMessage{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "an answer"},
		{Role: "user", Content: "second question"},
	}
	assert.Equal(t, "second question", extractQuestion(messages))
}

func TestFlattenContentJoinsTextAndImageParts(t *testing.T) {
	content := []any{
		map[string]any{"type": "text", "text": "what is in this picture?"},
		map[string]any{"type": "image_url", "image_url": map[string]any{"url": "https://example.com/cat.png"}},
	}
	got := flattenContent(content)
	assert.Contains(t, got, "what is in this picture?")
	assert.Contains(t, got, "https://example.com/cat.png")
}

func TestBudgetForEffortMapsLowMediumHigh(t *testing.T) {
	budgets := config.BudgetConfig{
		Low:    config.EffortBudget{TokenBudget: 1, MaxBadAttempts: 1, MaxSteps: 1},
		Medium: config.EffortBudget{TokenBudget: 2, MaxBadAttempts: 1, MaxSteps: 2},
		High:   config.EffortBudget{TokenBudget: 3, MaxBadAttempts: 2, MaxSteps: 3},
	}

	assert.Equal(t, 1, budgetForEffort("low", budgets).MaxTokens)
	assert.Equal(t, 2, budgetForEffort("", budgets).MaxTokens)
	assert.Equal(t, 2, budgetForEffort("medium", budgets).MaxTokens)
	assert.Equal(t, 3, budgetForEffort("HIGH", budgets).MaxTokens)
}

func TestResolveBudget_AppliesOverridesInPrecedenceOrder(t *testing.T) {
	budgets := config.BudgetConfig{
		Medium: config.EffortBudget{TokenBudget: 500, MaxBadAttempts: 1, MaxSteps: 10},
	}

	got := resolveBudget(chatRequest{Effort: "medium"}, budgets)
	assert.Equal(t, 500, got.MaxTokens)

	got = resolveBudget(chatRequest{Effort: "medium", MaxCompletionTokens: 1000}, budgets)
	assert.Equal(t, 1000, got.MaxTokens)

	got = resolveBudget(chatRequest{Effort: "medium", MaxCompletionTokens: 1000, BudgetTokens: 2000}, budgets)
	assert.Equal(t, 2000, got.MaxTokens)

	got = resolveBudget(chatRequest{Effort: "medium", MaxAttempts: 5}, budgets)
	assert.Equal(t, 5, got.MaxBadAttempts)
}

type stubLLM struct {
	resp map[string]any
}

func (s *stubLLM) GenerateObject(_ context.Context, _ string, _ string, _ map[string]any) (map[string]any, int, error) {
	return s.resp, 5, nil
}

func TestHandleChatCompletions_NonStreamingReturnsJSONBody(t *testing.T) {
	llm := &stubLLM{resp: map[string]any{"text": "Go is a language.", "references": []any{}}}
	srv := NewServer(research.Collaborators{LLM: llm}, "test-model", config.BudgetConfig{
		Medium: config.EffortBudget{TokenBudget: 0, MaxBadAttempts: 1, MaxSteps: 1},
	})

	body, err := json.Marshal(map[string]any{
		"model":    "test-model",
		"stream":   false,
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp chatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Go is a language.", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
}
