package llm

import (
	"context"
	"encoding/json"
	"testing"
)

type toolCallProvider struct {
	toolName string
	args     string
	content  string
}

func (p *toolCallProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	if p.toolName == "" {
		return Message{Content: p.content}, nil
	}
	return Message{
		Content:   p.content,
		ToolCalls: []ToolCall{{Name: p.toolName, Args: json.RawMessage(p.args), ID: "1"}},
	}, nil
}

func (p *toolCallProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	return nil
}

func TestGenerateObjectExtractsEmitResultToolCall(t *testing.T) {
	provider := &toolCallProvider{toolName: emitResultToolName, args: `{"answer":"42"}`}
	gen := NewObjectGenerator(provider, "test-model")

	obj, tokens, err := gen.GenerateObject(context.Background(), "system", "user", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["answer"] != "42" {
		t.Fatalf("expected answer 42, got %v", obj["answer"])
	}
	if tokens <= 0 {
		t.Fatalf("expected a positive token estimate, got %d", tokens)
	}
}

func TestGenerateObjectFallsBackToContentWithoutToolCall(t *testing.T) {
	provider := &toolCallProvider{content: `{"answer":"fallback"}`}
	gen := NewObjectGenerator(provider, "test-model")

	obj, _, err := gen.GenerateObject(context.Background(), "system", "user", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["answer"] != "fallback" {
		t.Fatalf("expected fallback answer, got %v", obj["answer"])
	}
}

func TestGenerateObjectErrorsOnMalformedContent(t *testing.T) {
	provider := &toolCallProvider{content: "not json"}
	gen := NewObjectGenerator(provider, "test-model")

	if _, _, err := gen.GenerateObject(context.Background(), "system", "user", map[string]any{"type": "object"}); err == nil {
		t.Fatalf("expected an error for malformed content")
	}
}
