package research

import (
	"context"
	"fmt"
)

// ForcedAnswer produces the single terminal "beast mode" answer once a
// run's budget is exhausted: one generateObject call that must answer with
// whatever knowledge has been gathered so far, using pipImprovements as
// binding feedback from the last failed evaluation. This is deliberately a
// single non-recursive call — there is no remaining budget for a second
// forced pass, so unlike the normal flow, its result is never itself
// re-evaluated.
func ForcedAnswer(ctx context.Context, llm ObjectGenerator, question string, knowledge []KnowledgeItem, pipImprovements []string, tracker *TokenTracker) (AnswerAction, error) {
	system := "You have run out of budget to do further research. Using only the knowledge below, give the best possible definitive answer to the question now. Do not say you cannot answer; commit to your best-supported conclusion."
	if len(pipImprovements) > 0 {
		system += " Address these specific shortcomings identified in a prior attempt:\n"
		for _, p := range pipImprovements {
			system += "- " + p + "\n"
		}
	}

	body := fmt.Sprintf("Question: %s\n\nKnowledge:\n", question)
	for _, k := range knowledge {
		body += fmt.Sprintf("- Q: %s\n  A: %s\n", k.Question, k.Answer)
	}

	obj, used, err := llm.GenerateObject(ctx, system, body, AnswerOnlySchema())
	if err != nil {
		return AnswerAction{}, fmt.Errorf("forced answer: %w", err)
	}
	tracker.Spend(used)

	text, _ := obj["text"].(string)
	var refs []Reference
	if rawRefs, ok := obj["references"].([]any); ok {
		for _, r := range rawRefs {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			ref := Reference{}
			ref.URL, _ = m["url"].(string)
			ref.Title, _ = m["title"].(string)
			ref.Exact, _ = m["exactQuote"].(string)
			ref.DateModified, _ = m["dateModified"].(string)
			refs = append(refs, ref)
		}
	}
	return AnswerAction{Text: text, References: refs}, nil
}
