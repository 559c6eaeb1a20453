// Command deepresearchd serves the deep-research control loop behind a
// chat-completions-compatible streaming HTTP endpoint.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"manifold/internal/config"
	"manifold/internal/httpapi"
	"manifold/internal/llm"
	"manifold/internal/llm/anthropic"
	"manifold/internal/llm/google"
	"manifold/internal/llm/openai"
	"manifold/internal/observability"
	"manifold/internal/research"
	"manifold/internal/sandbox"
	"manifold/internal/tools/web"
	"manifold/internal/version"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	observability.InitLogger("deepresearchd.log", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	if cfg.Obs.ServiceVersion == "" || cfg.Obs.ServiceVersion == "dev" {
		cfg.Obs.ServiceVersion = version.Version
	}

	shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)

	provider, model := buildProvider(cfg, httpClient)
	objectGen := llm.NewObjectGenerator(provider, model)

	collab := research.Collaborators{
		Search: web.NewSearcher(cfg.Search.SearXNGURL),
		Fetch:  web.NewFetcher(),
		LLM:    objectGen,
	}
	if cfg.Reranker.Host != "" {
		collab.Rerank = web.NewReranker(cfg.Reranker.Host, cfg.Reranker.Model)
	}
	codeSandbox := sandbox.NewCodeSandbox(objectGen)
	codeSandbox.Timeout = time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second
	codeSandbox.BaseDir = cfg.Sandbox.WorkDir
	if cfg.Sandbox.Interpreter != "" {
		codeSandbox.Interpreter = cfg.Sandbox.Interpreter
	}
	if len(cfg.Sandbox.BlockedBinaries) > 0 {
		blocked := make(map[string]struct{}, len(cfg.Sandbox.BlockedBinaries))
		for _, b := range cfg.Sandbox.BlockedBinaries {
			blocked[b] = struct{}{}
		}
		codeSandbox.BlockedBinaries = blocked
	}
	collab.Sandbox = codeSandbox

	server := httpapi.NewServer(collab, model, cfg.Budget)

	log.Info().Str("addr", cfg.ListenAddr).Msg("deepresearchd listening")
	if err := http.ListenAndServe(cfg.ListenAddr, server); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// buildProvider selects the LLM backend named by cfg.LLMProvider and returns
// it alongside the model name to use for research.Run's decide/evaluate
// calls.
func buildProvider(cfg config.Config, httpClient *http.Client) (llm.Provider, string) {
	switch cfg.LLMProvider {
	case "openai":
		model := cfg.OpenAI.Model
		if model == "" {
			model = "gpt-4o"
		}
		return openai.New(cfg.OpenAI, httpClient), model
	case "google":
		model := cfg.Google.Model
		if model == "" {
			model = "gemini-1.5-flash"
		}
		client, err := google.New(cfg.Google, httpClient)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init google client")
		}
		return client, model
	default:
		model := cfg.Anthropic.Model
		if model == "" {
			model = "claude-3-7-sonnet-latest"
		}
		return anthropic.New(cfg.Anthropic, httpClient), model
	}
}
