package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCriteria(maxAttempts int) []*ActiveCriterion {
	active := make([]*ActiveCriterion, 0, len(evaluationOrder))
	for _, c := range evaluationOrder {
		active = append(active, &ActiveCriterion{Type: c, Remaining: maxAttempts})
	}
	return active
}

func TestEvaluator_ShortCircuitsOnFirstFailure(t *testing.T) {
	llm := &fakeLLM{
		queue: []map[string]any{
			{"pass": true, "reasoning": "definitive enough"},
			{"pass": false, "reasoning": "answer is stale", "improvement_plan": "find a newer source"},
		},
	}
	ev := NewEvaluator(llm)
	active := allCriteria(2)
	tracker := NewTokenTracker(10000)

	result, err := ev.Evaluate(context.Background(), "q", "a", nil, active, nil, tracker)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, CriterionFreshness, result.Criterion)
	assert.Equal(t, "find a newer source", result.Improvement)
	assert.Equal(t, 1, findActive(active, CriterionFreshness).Remaining)
	assert.Equal(t, 2, llm.calls)
}

func TestEvaluator_CriterionDroppedAfterAttemptsExhausted(t *testing.T) {
	llm := &fakeLLM{defaultResp: map[string]any{"pass": false, "reasoning": "no"}}
	ev := NewEvaluator(llm)
	active := allCriteria(1)
	tracker := NewTokenTracker(10000)

	result, err := ev.Evaluate(context.Background(), "q", "a", nil, active, nil, tracker)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, CriterionDefinitive, result.Criterion)
	assert.Equal(t, 0, findActive(active, CriterionDefinitive).Remaining)

	// Definitive is now dropped; the chain moves straight to freshness.
	result2, err := ev.Evaluate(context.Background(), "q", "a", nil, active, nil, tracker)
	require.NoError(t, err)
	assert.Equal(t, CriterionFreshness, result2.Criterion)
}

func TestEvaluator_NoActiveCriteriaPassesTrivially(t *testing.T) {
	llm := &fakeLLM{defaultResp: map[string]any{"pass": false, "reasoning": "should never be asked"}}
	ev := NewEvaluator(llm)
	tracker := NewTokenTracker(10000)

	result, err := ev.Evaluate(context.Background(), "sub-question", "a", nil, nil, nil, tracker)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, 0, llm.calls)
}

func TestEvaluator_AttributionPromptIncludesFetchedEvidence(t *testing.T) {
	var capturedPrompt string
	llm := &capturingLLM{
		resp: map[string]any{"pass": true, "reasoning": "backed by quote"},
		onCall: func(_ string, user string) {
			capturedPrompt = user
		},
	}
	ev := NewEvaluator(llm)
	active := []*ActiveCriterion{{Type: CriterionAttribution, Remaining: 1}}
	refs := []Reference{{URL: "https://example.com/a", Exact: "Go is a language."}}
	evidence := map[string]string{"https://example.com/a": "Go is a statically typed language."}
	tracker := NewTokenTracker(10000)

	_, err := ev.Evaluate(context.Background(), "what is Go?", "Go is a language.", refs, active, evidence, tracker)
	require.NoError(t, err)
	assert.Contains(t, capturedPrompt, "Go is a language.")
	assert.Contains(t, capturedPrompt, "statically typed language")
}

type capturingLLM struct {
	resp   map[string]any
	onCall func(system, user string)
}

func (c *capturingLLM) GenerateObject(_ context.Context, system, user string, _ map[string]any) (map[string]any, int, error) {
	if c.onCall != nil {
		c.onCall(system, user)
	}
	return c.resp, 10, nil
}
