// Package research implements the iterative plan/search/visit/reflect/answer
// control loop described for the deep research agent: a bounded, budget-aware
// scheduler that narrows its action space to whatever is currently allowed
// and drives an LLM provider, web search/fetch tools and a coding sandbox to
// produce a cited answer.
package research

import "time"

// ActionKind identifies which variant of StepAction a step chose.
type ActionKind string

const (
	ActionSearch  ActionKind = "search"
	ActionVisit   ActionKind = "visit"
	ActionReflect ActionKind = "reflect"
	ActionAnswer  ActionKind = "answer"
	ActionCoding  ActionKind = "coding"
)

// StepAction is the closed tagged union the scheduler chooses between on
// every step. Exactly one of the pointer fields is non-nil; Kind says which.
type StepAction struct {
	Kind ActionKind

	Search  *SearchAction
	Visit   *VisitAction
	Reflect *ReflectAction
	Answer  *AnswerAction
	Coding  *CodingAction

	// Think is the model's rationale for this step, surfaced verbatim to the
	// StreamChannel as think chunks.
	Think string
}

// SearchAction issues one or more search engine queries.
type SearchAction struct {
	Queries []string `json:"queries"`
}

// VisitAction fetches the content of one or more URLs.
type VisitAction struct {
	URLs []string `json:"urls"`
}

// ReflectAction poses follow-up sub-questions to be answered before the
// final answer is produced.
type ReflectAction struct {
	Questions []string `json:"questions"`
}

// AnswerAction is the terminal action: a candidate final answer together
// with the references that support it.
type AnswerAction struct {
	Text       string      `json:"text"`
	References []Reference `json:"references"`
}

// CodingAction hands a concrete problem to the sandbox collaborator.
type CodingAction struct {
	Issue string `json:"issue"`
}

// Reference is a citation attached to an answer.
type Reference struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	Exact        string `json:"exactQuote,omitempty"`
	DateModified string `json:"dateModified,omitempty"`
}

// AllowedActions narrows the schema the scheduler presents to the model on
// a given step. All fields default to false; the scheduler flips them on
// based on budget, step history and prior failures.
type AllowedActions struct {
	Search  bool
	Visit   bool
	Reflect bool
	Answer  bool
	Coding  bool
}

// Any reports whether at least one action is currently allowed.
func (a AllowedActions) Any() bool {
	return a.Search || a.Visit || a.Reflect || a.Answer || a.Coding
}

// KnowledgeItem is one fact, page summary or sub-answer accumulated over the
// course of a run and fed back into subsequent prompts.
type KnowledgeItem struct {
	Question  string    `json:"question"`
	Answer    string     `json:"answer"`
	Type      string    `json:"type"` // "qa" | "url" | "coding" | "side-info"
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"-"`
}

// EvaluationCriterion is one independent judgement the evaluator runs
// against a candidate answer before it is allowed to reach the user.
type EvaluationCriterion string

const (
	CriterionDefinitive  EvaluationCriterion = "definitive"
	CriterionFreshness   EvaluationCriterion = "freshness"
	CriterionPlurality   EvaluationCriterion = "plurality"
	CriterionAttribution EvaluationCriterion = "attribution"
	CriterionCompleteness EvaluationCriterion = "completeness"
	CriterionStrict      EvaluationCriterion = "strict"
)

// EvaluationResult is the verdict for a single criterion.
type EvaluationResult struct {
	Criterion        EvaluationCriterion `json:"criterion"`
	Pass             bool                `json:"pass"`
	Reasoning        string              `json:"reasoning"`
	Improvement      string              `json:"improvement_plan,omitempty"`
}

// DiaryEntry records what happened on one step, for post-hoc reconstruction
// of a run and for feeding "what have I tried" context back into prompts.
type DiaryEntry struct {
	Step      int        `json:"step"`
	Action    ActionKind `json:"action"`
	Summary   string     `json:"summary"`
	Success   bool       `json:"success"`
	Timestamp time.Time  `json:"timestamp"`
}

// Budget bounds a single research run.
type Budget struct {
	MaxTokens      int
	MaxBadAttempts int
	MaxSteps       int
}

// EffortToBudget maps the chat-completions surface's low/medium/high effort
// levels onto concrete token and bad-attempt budgets.
func EffortToBudget(effort string) Budget {
	switch effort {
	case "high":
		return Budget{MaxTokens: 1_000_000, MaxBadAttempts: 2, MaxSteps: 80}
	case "low":
		return Budget{MaxTokens: 100_000, MaxBadAttempts: 1, MaxSteps: 20}
	default: // "medium"
		return Budget{MaxTokens: 500_000, MaxBadAttempts: 1, MaxSteps: 40}
	}
}
