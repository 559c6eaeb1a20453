package research

import (
	"context"
	"fmt"
	"strings"
)

// evaluationOrder is the fixed short-circuit order criteria run in: the
// first criterion to fail stops the chain, since later criteria build on
// assumptions earlier ones establish (e.g. attribution only matters once
// the answer is judged definitive).
var evaluationOrder = []EvaluationCriterion{
	CriterionDefinitive,
	CriterionFreshness,
	CriterionPlurality,
	CriterionAttribution,
	CriterionCompleteness,
	CriterionStrict,
}

// selectableCriteria is the subset of criteria the criterion-selection call
// may choose from; strict is appended unconditionally by SelectCriteria.
var selectableCriteria = []EvaluationCriterion{
	CriterionDefinitive,
	CriterionFreshness,
	CriterionPlurality,
	CriterionAttribution,
	CriterionCompleteness,
}

// criterionPrompts holds the per-criterion judging instruction.
var criterionPrompts = map[EvaluationCriterion]string{
	CriterionDefinitive:   "Judge whether the answer gives a definitive, non-hedging response to the question, rather than saying it cannot be determined.",
	CriterionFreshness:    "Judge whether the answer reflects information that is current enough for the question asked.",
	CriterionPlurality:    "Judge whether the answer addresses every distinct item the question asked about, not just one of several.",
	CriterionAttribution:  "Judge whether every factual claim in the answer is backed by a reference whose exact quote appears in the cited page's fetched content.",
	CriterionCompleteness: "Judge whether the answer fully covers all explicit aspects of the question.",
	CriterionStrict:       "Judge the answer against the strictest reasonable reading of the question, flagging any remaining gap.",
}

// ActiveCriterion is one evaluation criterion still in play for a question,
// together with how many more times it may fail before being dropped.
type ActiveCriterion struct {
	Type      EvaluationCriterion
	Remaining int
}

func isSelectable(c EvaluationCriterion) bool {
	for _, s := range selectableCriteria {
		if s == c {
			return true
		}
	}
	return false
}

// findActive returns the ActiveCriterion matching c, or nil if it isn't (or
// is no longer) in play.
func findActive(active []*ActiveCriterion, c EvaluationCriterion) *ActiveCriterion {
	for _, a := range active {
		if a.Type == c {
			return a
		}
	}
	return nil
}

func hasCriterion(active []*ActiveCriterion, c EvaluationCriterion) bool {
	return findActive(active, c) != nil
}

func anyRemaining(active []*ActiveCriterion) bool {
	for _, a := range active {
		if a.Remaining > 0 {
			return true
		}
	}
	return false
}

func criterionSelectionSchema() map[string]any {
	names := make([]any, 0, len(selectableCriteria))
	for _, c := range selectableCriteria {
		names = append(names, string(c))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"criteria": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "enum": names},
			},
		},
		"required": []string{"criteria"},
	}
}

// SelectCriteria runs the criterion-selection call against the LLM for
// question, returning the subset of selectableCriteria it chose plus the
// unconditional strict criterion, each seeded with maxAttempts remaining
// failures before being dropped.
func SelectCriteria(ctx context.Context, llm ObjectGenerator, question string, maxAttempts int, tracker *TokenTracker) ([]*ActiveCriterion, error) {
	system := "Given the research question below, choose which evaluation criteria a satisfactory final answer must be judged against. Only include a criterion when the question's phrasing actually calls for it (e.g. freshness only for time-sensitive questions, plurality only when multiple items are requested)."
	obj, used, err := llm.GenerateObject(ctx, system, question, criterionSelectionSchema())
	if err != nil {
		return nil, fmt.Errorf("select evaluation criteria: %w", err)
	}
	tracker.Spend(used)

	chosen := toStringSlice(obj["criteria"])
	active := make([]*ActiveCriterion, 0, len(chosen)+1)
	seen := map[EvaluationCriterion]bool{}
	for _, c := range chosen {
		ec := EvaluationCriterion(c)
		if !isSelectable(ec) || seen[ec] {
			continue
		}
		seen[ec] = true
		active = append(active, &ActiveCriterion{Type: ec, Remaining: maxAttempts})
	}
	active = append(active, &ActiveCriterion{Type: CriterionStrict, Remaining: maxAttempts})
	return active, nil
}

// Evaluator runs the evaluation chain against a candidate answer. It does
// not own any per-question state; callers pass in the active criteria for
// the question being evaluated and observe the same pointers mutated on
// failure.
type Evaluator struct {
	LLM ObjectGenerator
}

// NewEvaluator returns an evaluator backed by llm.
func NewEvaluator(llm ObjectGenerator) *Evaluator {
	return &Evaluator{LLM: llm}
}

// Evaluate runs each still-active criterion in order against the candidate
// answer, stopping at the first failure. evidence maps a reference URL to
// the fetched page text backing it, used to ground the attribution
// criterion in actual quotes rather than a bare reference count. A
// candidate with no active criteria (e.g. a reflected sub-question) passes
// trivially. It returns that failing result (or the last passing result if
// all active criteria pass).
func (e *Evaluator) Evaluate(ctx context.Context, question, answer string, references []Reference, active []*ActiveCriterion, evidence map[string]string, tracker *TokenTracker) (EvaluationResult, error) {
	var last EvaluationResult
	last.Pass = true
	for _, c := range evaluationOrder {
		ac := findActive(active, c)
		if ac == nil || ac.Remaining <= 0 {
			continue
		}
		result, used, err := e.runCriterion(ctx, c, question, answer, references, evidence)
		if err != nil {
			return EvaluationResult{}, fmt.Errorf("evaluate %s: %w", c, err)
		}
		tracker.Spend(used)
		last = result
		if !result.Pass {
			ac.Remaining--
			return result, nil
		}
	}
	last.Pass = true
	return last, nil
}

func (e *Evaluator) runCriterion(ctx context.Context, c EvaluationCriterion, question, answer string, references []Reference, evidence map[string]string) (EvaluationResult, int, error) {
	prompt := criterionPrompts[c]
	user := buildCriterionPrompt(c, question, answer, references, evidence)
	obj, used, err := e.LLM.GenerateObject(ctx, prompt, user, EvaluationSchema())
	if err != nil {
		return EvaluationResult{}, 0, err
	}
	pass, _ := obj["pass"].(bool)
	reasoning, _ := obj["reasoning"].(string)
	improvement, _ := obj["improvement_plan"].(string)
	return EvaluationResult{
		Criterion:   c,
		Pass:        pass,
		Reasoning:   reasoning,
		Improvement: improvement,
	}, used, nil
}

const attributionEvidenceMaxChars = 2000

// buildCriterionPrompt composes the evaluation call's user content. For
// attribution, it includes the actual reference quotes and any fetched page
// text backing them, rather than a bare reference count, so the judgement
// can verify the quote actually appears in the source.
func buildCriterionPrompt(c EvaluationCriterion, question, answer string, references []Reference, evidence map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nAnswer: %s\n\n", question, answer)

	if c != CriterionAttribution {
		fmt.Fprintf(&b, "References: %d provided.", len(references))
		return b.String()
	}

	if len(references) == 0 {
		b.WriteString("References: none provided.")
		return b.String()
	}

	b.WriteString("References:\n")
	for _, ref := range references {
		fmt.Fprintf(&b, "- %s\n  Quoted: %q\n", ref.URL, ref.Exact)
		if page, ok := evidence[ref.URL]; ok && page != "" {
			fmt.Fprintf(&b, "  Fetched page content: %s\n", truncate(page, attributionEvidenceMaxChars))
		} else {
			b.WriteString("  Fetched page content: (not available)\n")
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

var analysisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"recap":       map[string]any{"type": "string"},
		"blame":       map[string]any{"type": "string"},
		"improvement": map[string]any{"type": "string"},
	},
	"required": []string{"recap", "blame", "improvement"},
}

// analyzeFailure asks the LLM to diagnose why a rejected answer failed its
// evaluation criterion, producing a recap/blame/improvement triple that is
// folded back into knowledge so the next attempt at the same question
// doesn't repeat the mistake.
func analyzeFailure(ctx context.Context, llm ObjectGenerator, question, answer string, result EvaluationResult, tracker *TokenTracker) (string, error) {
	system := "Diagnose why the following answer failed evaluation. Identify what's missing, what's to blame (the search strategy, the sources gathered, or the answer's framing), and one concrete improvement for the next attempt."
	user := fmt.Sprintf("Question: %s\n\nAnswer: %s\n\nFailed criterion: %s\nReasoning: %s", question, answer, result.Criterion, result.Reasoning)
	obj, used, err := llm.GenerateObject(ctx, system, user, analysisSchema)
	if err != nil {
		return "", fmt.Errorf("analyze failure: %w", err)
	}
	tracker.Spend(used)
	recap, _ := obj["recap"].(string)
	blame, _ := obj["blame"].(string)
	improvement, _ := obj["improvement"].(string)
	return fmt.Sprintf("Recap: %s\nBlame: %s\nImprovement: %s", recap, blame, improvement), nil
}
