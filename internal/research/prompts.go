package research

import (
	"fmt"
	"strings"
)

// SystemPrompt builds the control-loop system prompt for one step, giving
// the model the question, accumulated knowledge, the diary of prior
// attempts and the top candidate URLs, narrowed to whatever actions are
// currently allowed.
func SystemPrompt(question string, knowledge []KnowledgeItem, diary *Diary, urls []URLRecord, allowed AllowedActions) string {
	var b strings.Builder
	b.WriteString("You are a deep research agent. Decide the single best next action toward fully answering the question below, then act.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	if len(knowledge) > 0 {
		b.WriteString("Knowledge accumulated so far:\n")
		for _, k := range knowledge {
			fmt.Fprintf(&b, "- (%s) Q: %s\n  A: %s\n", k.Type, k.Question, k.Answer)
		}
		b.WriteString("\n")
	}

	b.WriteString("Actions already tried:\n")
	b.WriteString(diary.Render())
	b.WriteString("\n")

	if len(urls) > 0 {
		b.WriteString("Candidate URLs ranked by relevance (not yet visited unless noted):\n")
		for _, u := range urls {
			visited := ""
			if u.Visited {
				visited = " (visited)"
			}
			fmt.Fprintf(&b, "- %s%s — %s\n", u.URL, visited, u.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("Actions you may take on this step: ")
	var names []string
	if allowed.Search {
		names = append(names, string(ActionSearch))
	}
	if allowed.Visit {
		names = append(names, string(ActionVisit))
	}
	if allowed.Reflect {
		names = append(names, string(ActionReflect))
	}
	if allowed.Answer {
		names = append(names, string(ActionAnswer))
	}
	if allowed.Coding {
		names = append(names, string(ActionCoding))
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".\n")

	return b.String()
}

// StepActionSchema returns a JSON Schema object narrowed to only the
// currently-enabled action variants, so the model cannot choose a
// disallowed action even if it wanted to.
func StepActionSchema(allowed AllowedActions) map[string]any {
	oneOf := []any{}
	if allowed.Search {
		oneOf = append(oneOf, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":  map[string]any{"const": "search"},
				"think":   map[string]any{"type": "string"},
				"queries": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 1},
			},
			"required": []string{"action", "think", "queries"},
		})
	}
	if allowed.Visit {
		oneOf = append(oneOf, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"const": "visit"},
				"think":  map[string]any{"type": "string"},
				"urls":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 1},
			},
			"required": []string{"action", "think", "urls"},
		})
	}
	if allowed.Reflect {
		oneOf = append(oneOf, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":    map[string]any{"const": "reflect"},
				"think":     map[string]any{"type": "string"},
				"questions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 1},
			},
			"required": []string{"action", "think", "questions"},
		})
	}
	if allowed.Answer {
		oneOf = append(oneOf, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"const": "answer"},
				"think":  map[string]any{"type": "string"},
				"text":   map[string]any{"type": "string"},
				"references": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"url":          map[string]any{"type": "string"},
							"title":        map[string]any{"type": "string"},
							"exactQuote":   map[string]any{"type": "string"},
							"dateModified": map[string]any{"type": "string"},
						},
						"required": []string{"url", "exactQuote"},
					},
				},
			},
			"required": []string{"action", "think", "text", "references"},
		})
	}
	if allowed.Coding {
		oneOf = append(oneOf, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"const": "coding"},
				"think":  map[string]any{"type": "string"},
				"issue":  map[string]any{"type": "string"},
			},
			"required": []string{"action", "think", "issue"},
		})
	}
	return map[string]any{"oneOf": oneOf}
}

// AnswerOnlySchema is the schema used for the forced-answer terminal, where
// Answer is the only legal action.
func AnswerOnlySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
			"references": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"url":        map[string]any{"type": "string"},
						"title":      map[string]any{"type": "string"},
						"exactQuote": map[string]any{"type": "string"},
					},
					"required": []string{"url", "exactQuote"},
				},
			},
		},
		"required": []string{"text", "references"},
	}
}

// EvaluationSchema is the schema used for every evaluator criterion call.
func EvaluationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pass":             map[string]any{"type": "boolean"},
			"reasoning":        map[string]any{"type": "string"},
			"improvement_plan": map[string]any{"type": "string"},
		},
		"required": []string{"pass", "reasoning"},
	}
}
