package research

import (
	"context"
	"fmt"
)

// compactionTriggerFraction is how full the token budget must be before
// KnowledgeBase proactively summarizes its oldest entries, grounded on the
// teacher agent engine's context-window reserve-buffer idiom.
const compactionTriggerFraction = 0.75

// minKeepRecent is the number of most recent knowledge items that are
// never folded into a summary, so the immediately relevant context always
// survives compaction verbatim.
const minKeepRecent = 6

// KnowledgeBase accumulates facts, page summaries and sub-answers over a
// run and keeps them within the token budget by summarizing older entries
// when the budget comes under pressure.
type KnowledgeBase struct {
	items []KnowledgeItem
}

// NewKnowledgeBase returns an empty knowledge base.
func NewKnowledgeBase() *KnowledgeBase { return &KnowledgeBase{} }

// Add appends a knowledge item.
func (k *KnowledgeBase) Add(item KnowledgeItem) {
	k.items = append(k.items, item)
}

// Items returns all current knowledge items, oldest first.
func (k *KnowledgeBase) Items() []KnowledgeItem {
	return k.items
}

// MaybeCompact summarizes the oldest knowledge items into a single
// "side-info" item via one generateObject call when tracker reports the
// budget is under pressure, keeping the most recent minKeepRecent items
// untouched. No-op if there's nothing worth summarizing yet.
func (k *KnowledgeBase) MaybeCompact(ctx context.Context, llm ObjectGenerator, tracker *TokenTracker) error {
	if !tracker.NearLimit(compactionTriggerFraction) {
		return nil
	}
	if len(k.items) <= minKeepRecent {
		return nil
	}

	cut := len(k.items) - minKeepRecent
	old := k.items[:cut]
	recent := k.items[cut:]

	var body string
	for _, item := range old {
		body += fmt.Sprintf("Q: %s\nA: %s\n\n", item.Question, item.Answer)
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
		"required": []string{"summary"},
	}
	system := "Summarize the following research notes into a single dense paragraph, preserving every fact, name, number and URL. Do not add commentary."
	obj, used, err := llm.GenerateObject(ctx, system, body, schema)
	if err != nil {
		return fmt.Errorf("compact knowledge: %w", err)
	}
	tracker.Spend(used)

	summary, _ := obj["summary"].(string)
	compacted := KnowledgeItem{
		Question: "(summary of earlier research)",
		Answer:   summary,
		Type:     "side-info",
	}
	k.items = append([]KnowledgeItem{compacted}, recent...)
	return nil
}
