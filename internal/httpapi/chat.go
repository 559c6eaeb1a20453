package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"manifold/internal/config"
	"manifold/internal/observability"
	"manifold/internal/research"
)

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThink removes any <think>...</think> spans a prior assistant turn may
// carry, so reasoning from an earlier research run never leaks back into the
// question sent to the next one.
func stripThink(content string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(content, ""))
}

// extractQuestion pulls the research question out of the final user message,
// normalizing multi-part content (text + image_url parts) down to the text
// the research run actually reasons over. Images are noted but not otherwise
// handled, since the research control loop is text-only.
func extractQuestion(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		return flattenContent(messages[i].Content)
	}
	return ""
}

func flattenContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, raw := range v {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch m["type"] {
			case "text":
				if t, ok := m["text"].(string); ok {
					parts = append(parts, t)
				}
			case "image_url":
				if iu, ok := m["image_url"].(map[string]any); ok {
					if u, ok := iu["url"].(string); ok {
						parts = append(parts, fmt.Sprintf("[image: %s]", u))
					}
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// budgetForEffort maps the request's reasoning_effort onto a research.Budget,
// preferring operator-configured overrides when present.
func budgetForEffort(effort string, budgets config.BudgetConfig) research.Budget {
	toBudget := func(b config.EffortBudget) research.Budget {
		return research.Budget{MaxTokens: b.TokenBudget, MaxBadAttempts: b.MaxBadAttempts, MaxSteps: b.MaxSteps}
	}
	switch strings.ToLower(strings.TrimSpace(effort)) {
	case "low":
		return toBudget(budgets.Low)
	case "high":
		return toBudget(budgets.High)
	default:
		return toBudget(budgets.Medium)
	}
}

// resolveBudget starts from the effort-derived budget and applies the
// request's explicit overrides on top: max_completion_tokens and then
// budget_tokens each replace the token budget in turn (so budget_tokens,
// being the more specific knob, wins if both are set), and max_attempts
// replaces the bad-attempt allowance.
func resolveBudget(req chatRequest, budgets config.BudgetConfig) research.Budget {
	budget := budgetForEffort(req.Effort, budgets)
	if req.MaxCompletionTokens > 0 {
		budget.MaxTokens = req.MaxCompletionTokens
	}
	if req.BudgetTokens > 0 {
		budget.MaxTokens = req.BudgetTokens
	}
	if req.MaxAttempts > 0 {
		budget.MaxBadAttempts = req.MaxAttempts
	}
	return budget
}

func runOptionsFromRequest(req chatRequest) research.RunOptions {
	return research.RunOptions{
		NoDirectAnswer:  req.NoDirectAnswer,
		MaxReturnedURLs: req.MaxReturnedURLs,
		BoostHostnames:  req.BoostHostnames,
		BadHostnames:    req.BadHostnames,
		OnlyHostnames:   req.OnlyHostnames,
	}
}

// handleChatCompletions parses the request, builds the research run, and
// dispatches to the streaming or non-streaming response path depending on
// the request's stream field.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	for i := range req.Messages {
		if req.Messages[i].Role == "assistant" {
			if s, ok := req.Messages[i].Content.(string); ok {
				req.Messages[i].Content = stripThink(s)
			}
		}
	}

	question := strings.TrimSpace(extractQuestion(req.Messages))
	if question == "" {
		http.Error(w, "no user message found", http.StatusBadRequest)
		return
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	budget := resolveBudget(req, s.budgets)
	run := research.NewRun(question, budget, s.collab, model, runOptionsFromRequest(req))
	id := "chatcmpl-" + uuid.NewString()

	if !req.Stream {
		s.handleNonStreaming(w, r, run, model, id)
		return
	}
	s.handleStreaming(w, r, run, model, id)
}

// handleStreaming runs a full research session and streams it back as a
// chat-completions-compatible SSE response: reasoning chunks wrapped in a
// <think> block (delta.type "think"), a "thinking_end" boundary, the answer
// text (delta.type "text"), and a final chunk carrying finish_reason "stop"
// plus a usage block with run statistics.
func (s *Server) handleStreaming(w http.ResponseWriter, r *http.Request, run *research.Run, model, id string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	write := func(chunk streamChunk) {
		b, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		fl.Flush()
	}

	ctx := r.Context()
	log := observability.LoggerWithTrace(ctx)

	go func() {
		if _, err := run.Execute(ctx); err != nil {
			log.Warn().Err(err).Msg("research run ended with error")
			run.Stream.EmitError(err.Error())
		}
	}()

	// The opening marker is written unconditionally, before any think text
	// arrives, so a response always carries exactly one of it regardless of
	// whether the run ever actually reasons out loud.
	write(streamChunk{ID: id, Object: "chat.completion.chunk", Model: model, Choices: []streamChoice{{Delta: streamDelta{Type: "think", Content: "<think>"}}}})

	for chunk := range run.Stream.Chunks() {
		switch chunk.Type {
		case research.ChunkThink:
			if chunk.FinishReason == "thinking_end" {
				reason := "thinking_end"
				write(streamChunk{ID: id, Object: "chat.completion.chunk", Model: model, Choices: []streamChoice{{Delta: streamDelta{Type: "think", Content: "</think>\n\n"}, FinishReason: &reason}}})
				continue
			}
			delta := streamDelta{Type: "think", Content: chunk.Data}
			if chunk.URL != "" {
				delta.URL = chunk.URL
			}
			write(streamChunk{ID: id, Object: "chat.completion.chunk", Model: model, Choices: []streamChoice{{Delta: delta}}})
		case research.ChunkText:
			if chunk.FinishReason == "stop" {
				writeFinal(write, id, model, run, chunk.Data)
				return
			}
			write(streamChunk{ID: id, Object: "chat.completion.chunk", Model: model, Choices: []streamChoice{{Delta: streamDelta{Type: "text", Content: chunk.Data}}}})
		case research.ChunkJSON:
			write(streamChunk{ID: id, Object: "chat.completion.chunk", Model: model, Choices: []streamChoice{{Delta: streamDelta{Type: "json", Content: chunk.Data}}}})
		case research.ChunkError:
			reason := "stop"
			write(streamChunk{ID: id, Object: "chat.completion.chunk", Model: model, Choices: []streamChoice{{Delta: streamDelta{Type: "error", Content: chunk.Data}, FinishReason: &reason}}})
			return
		}
	}
}

func writeFinal(write func(streamChunk), id, model string, run *research.Run, answerText string) {
	reason := "stop"
	n := run.MaxReturnedURLs()
	visited := run.VisitedURLs(n)
	read := run.ReadURLs(n)
	visitedURLs := make([]string, 0, len(visited))
	for _, v := range visited {
		visitedURLs = append(visitedURLs, v.URL)
	}
	readURLs := make([]string, 0, len(read))
	for _, v := range read {
		readURLs = append(readURLs, v.URL)
	}
	write(streamChunk{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []streamChoice{{
			Delta:        streamDelta{Type: "text", Content: answerText},
			FinishReason: &reason,
		}},
		Usage: &usageBlock{
			QueriesIssued: run.QueriesIssued(),
			NumURLs:       run.NumURLs(),
			DuplicateURLs: run.DuplicateURLs(),
			VisitedURLs:   visitedURLs,
			ReadURLs:      readURLs,
		},
	})
}

// handleNonStreaming runs the research session to completion and returns a
// single JSON chat-completions response, draining the stream channel in the
// background (its content is discarded; only the final answer matters here).
func (s *Server) handleNonStreaming(w http.ResponseWriter, r *http.Request, run *research.Run, model, id string) {
	go func() {
		for range run.Stream.Chunks() {
		}
	}()

	ctx := r.Context()
	answer, err := run.Execute(ctx)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{
			ID:     id,
			Object: "chat.completion",
			Model:  model,
			Choices: []chatCompletionChoice{{
				Message:      chatCompletionMessage{Role: "assistant", Type: "error", Content: err.Error()},
				FinishReason: "stop",
			}},
		})
		return
	}

	n := run.MaxReturnedURLs()
	visited := run.VisitedURLs(n)
	read := run.ReadURLs(n)
	visitedURLs := make([]string, 0, len(visited))
	for _, v := range visited {
		visitedURLs = append(visitedURLs, v.URL)
	}
	readURLs := make([]string, 0, len(read))
	for _, v := range read {
		readURLs = append(readURLs, v.URL)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(chatCompletionResponse{
		ID:     id,
		Object: "chat.completion",
		Model:  model,
		Choices: []chatCompletionChoice{{
			Message:      chatCompletionMessage{Role: "assistant", Content: answer.Text},
			FinishReason: "stop",
		}},
		Usage: &usageBlock{
			QueriesIssued: run.QueriesIssued(),
			NumURLs:       run.NumURLs(),
			DuplicateURLs: run.DuplicateURLs(),
			VisitedURLs:   visitedURLs,
			ReadURLs:      readURLs,
		},
	})
}
