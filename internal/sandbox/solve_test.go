package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	obj map[string]any
	err error
}

func (f *fakeGenerator) GenerateObject(ctx context.Context, system, userPrompt string, schema map[string]any) (map[string]any, int, error) {
	return f.obj, 42, f.err
}

func TestCodeSandboxSolveRunsGeneratedCode(t *testing.T) {
	gen := &fakeGenerator{obj: map[string]any{"code": "print(2 + 2)"}}
	sb := NewCodeSandbox(gen)

	result, err := sb.Solve(context.Background(), "what is 2 + 2?")
	require.NoError(t, err)
	assert.Equal(t, "print(2 + 2)", result.Code)
	assert.Equal(t, "4\n", result.Output)
}

func TestCodeSandboxSolveRejectsEmptyCode(t *testing.T) {
	gen := &fakeGenerator{obj: map[string]any{"code": ""}}
	sb := NewCodeSandbox(gen)

	_, err := sb.Solve(context.Background(), "anything")
	assert.Error(t, err)
}

func TestCodeSandboxSolvePropagatesGenerationError(t *testing.T) {
	gen := &fakeGenerator{err: assert.AnError}
	sb := NewCodeSandbox(gen)

	_, err := sb.Solve(context.Background(), "anything")
	assert.Error(t, err)
}

func TestCodeSandboxSolveRejectsBlockedInterpreter(t *testing.T) {
	gen := &fakeGenerator{obj: map[string]any{"code": "print(1)"}}
	sb := NewCodeSandbox(gen)
	sb.Interpreter = "rm"

	_, err := sb.Solve(context.Background(), "anything")
	assert.Error(t, err)
}

func TestCodeSandboxSolveHonorsContextBaseDir(t *testing.T) {
	gen := &fakeGenerator{obj: map[string]any{"code": "print(7)"}}
	sb := NewCodeSandbox(gen)
	base := t.TempDir()

	ctx := WithBaseDir(context.Background(), base)
	result, err := sb.Solve(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, "7\n", result.Output)
}
