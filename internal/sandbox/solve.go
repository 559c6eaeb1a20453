package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"manifold/internal/research"
)

// ObjectGenerator is the subset of the LLM collaborator the code sandbox
// needs to turn a natural-language issue into runnable code.
type ObjectGenerator interface {
	GenerateObject(ctx context.Context, system, userPrompt string, schema map[string]any) (map[string]any, int, error)
}

// CodeSandbox implements research.Sandbox: it asks the LLM to write a
// short Python script solving issue, then executes it in a confined,
// throwaway directory and returns its stdout.
type CodeSandbox struct {
	LLM     ObjectGenerator
	Timeout time.Duration

	// BaseDir is the directory each solve's scratch subdirectory is
	// created under. Empty uses the OS temp directory. A WithBaseDir value
	// on the Solve context takes precedence over this field.
	BaseDir string
	// Interpreter is the binary invoked to run generated code.
	Interpreter string
	// BlockedBinaries rejects specific interpreter names outright, on top
	// of the standing rule that any interpreter containing a path
	// separator is always blocked.
	BlockedBinaries map[string]struct{}
}

// NewCodeSandbox returns a sandbox that uses llm to generate solutions,
// running them with python3 and the OS temp directory as defaults.
func NewCodeSandbox(llm ObjectGenerator) *CodeSandbox {
	return &CodeSandbox{
		LLM:         llm,
		Timeout:     20 * time.Second,
		Interpreter: "python3",
		BlockedBinaries: map[string]struct{}{
			"rm": {}, "sudo": {}, "curl": {}, "wget": {},
		},
	}
}

var codeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"code": map[string]any{"type": "string", "description": "A self-contained Python 3 script that prints its result to stdout."},
	},
	"required": []string{"code"},
}

// Solve implements research.Sandbox.
func (s *CodeSandbox) Solve(ctx context.Context, issue string) (research.SandboxResult, error) {
	system := "Write a short, self-contained Python 3 script that solves the given problem and prints only the final result to stdout. Do not read files or access the network."
	obj, _, err := s.LLM.GenerateObject(ctx, system, issue, codeSchema)
	if err != nil {
		return research.SandboxResult{}, fmt.Errorf("generate solution code: %w", err)
	}
	code, _ := obj["code"].(string)
	if code == "" {
		return research.SandboxResult{}, fmt.Errorf("model returned no code")
	}

	output, err := s.run(ctx, code)
	if err != nil {
		return research.SandboxResult{Code: code}, fmt.Errorf("execute solution: %w", err)
	}
	return research.SandboxResult{Code: code, Output: output}, nil
}

func (s *CodeSandbox) run(ctx context.Context, code string) (string, error) {
	interpreter := s.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}
	if IsBinaryBlocked(interpreter, s.BlockedBinaries) {
		return "", fmt.Errorf("interpreter %q is not allowed", interpreter)
	}

	base := ResolveBaseDir(ctx, s.BaseDir)
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", fmt.Errorf("prepare sandbox base dir: %w", err)
		}
	}
	tempDir, err := os.MkdirTemp(base, "research-sandbox")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	codeFile, err := SanitizeArg(tempDir, "solution.py")
	if err != nil {
		return "", fmt.Errorf("sanitize solution path: %w", err)
	}
	codePath := filepath.Join(tempDir, codeFile)
	if err := os.WriteFile(codePath, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("write solution: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, interpreter, codeFile)
	cmd.Dir = tempDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}
