package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// emitResultToolName names the synthetic function-call schema used to coax a
// schema-constrained JSON object out of providers whose native interface is
// tool/function calling rather than a first-class structured-output mode.
const emitResultToolName = "emit_result"

// ObjectGenerator drives a Provider's Chat method with a single forced
// "emit_result" tool so the model's response is always a JSON object
// conforming to the caller's schema. It satisfies research.ObjectGenerator
// without this package depending on the research package.
type ObjectGenerator struct {
	Provider Provider
	Model    string
}

// NewObjectGenerator returns a generator bound to the given provider/model.
func NewObjectGenerator(p Provider, model string) *ObjectGenerator {
	return &ObjectGenerator{Provider: p, Model: model}
}

// GenerateObject asks the model to produce an object matching schema,
// returning the decoded object and a best-effort token estimate.
func (g *ObjectGenerator) GenerateObject(ctx context.Context, system, userPrompt string, schema map[string]any) (map[string]any, int, error) {
	tools := []ToolSchema{{
		Name:        emitResultToolName,
		Description: "Emit the final structured result. You must call this exactly once.",
		Parameters:  schema,
	}}
	msgs := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userPrompt},
	}

	resp, err := g.Provider.Chat(ctx, msgs, tools, g.Model)
	if err != nil {
		return nil, 0, fmt.Errorf("generateObject: chat: %w", err)
	}

	var args json.RawMessage
	for _, tc := range resp.ToolCalls {
		if tc.Name == emitResultToolName {
			args = tc.Args
			break
		}
	}
	if args == nil {
		// Some providers/models answer in plain content instead of calling
		// the tool; fall back to treating the content as the JSON object.
		args = json.RawMessage(resp.Content)
	}

	var obj map[string]any
	if err := json.Unmarshal(args, &obj); err != nil {
		return nil, 0, fmt.Errorf("generateObject: response did not match schema: %w", err)
	}

	est := EstimateTokensForMessages(msgs) + EstimateTokens(resp.Content) + EstimateTokens(string(args))
	return obj, est, nil
}
