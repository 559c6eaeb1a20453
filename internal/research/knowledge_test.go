package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnowledgeBase_MaybeCompactNoOpBelowThreshold(t *testing.T) {
	kb := NewKnowledgeBase()
	for i := 0; i < 3; i++ {
		kb.Add(KnowledgeItem{Question: "q", Answer: "a"})
	}
	tracker := NewTokenTracker(1000)
	llm := &fakeLLM{}

	err := kb.MaybeCompact(context.Background(), llm, tracker)
	require.NoError(t, err)
	assert.Len(t, kb.Items(), 3)
	assert.Equal(t, 0, llm.calls)
}

func TestKnowledgeBase_MaybeCompactSummarizesOldestWhenNearLimit(t *testing.T) {
	kb := NewKnowledgeBase()
	for i := 0; i < 10; i++ {
		kb.Add(KnowledgeItem{Question: "q", Answer: "a"})
	}
	tracker := NewTokenTracker(100)
	tracker.Spend(80) // 80% spent, above the 75% trigger

	llm := &fakeLLM{defaultResp: map[string]any{"summary": "condensed"}}
	err := kb.MaybeCompact(context.Background(), llm, tracker)
	require.NoError(t, err)

	items := kb.Items()
	assert.Len(t, items, minKeepRecent+1)
	assert.Equal(t, "side-info", items[0].Type)
	assert.Equal(t, "condensed", items[0].Answer)
}
