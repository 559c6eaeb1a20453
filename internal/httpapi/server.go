// Package httpapi exposes the research daemon's chat-completions-compatible
// streaming endpoint.
package httpapi

import (
	"net/http"

	"manifold/internal/config"
	"manifold/internal/research"
)

// Server serves the streaming research endpoint over a chat-completions
// compatible wire format.
type Server struct {
	mux     *http.ServeMux
	collab  research.Collaborators
	model   string
	budgets config.BudgetConfig
}

// NewServer builds a Server that runs every request against collab, using
// model as the default when a request doesn't name one.
func NewServer(collab research.Collaborators, model string, budgets config.BudgetConfig) *Server {
	s := &Server{mux: http.NewServeMux(), collab: collab, model: model, budgets: budgets}
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
