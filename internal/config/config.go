// Package config loads runtime configuration for the research daemon from
// environment variables, optionally overridden by a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	yaml "gopkg.in/yaml.v3"
)

// AnthropicPromptCacheConfig controls which parts of a request are marked
// for Anthropic's prompt caching.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cacheSystem"`
	CacheTools    bool `yaml:"cacheTools"`
	CacheMessages bool `yaml:"cacheMessages"`
}

// AnthropicConfig configures the Anthropic LLM backend.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"apiKey"`
	BaseURL     string                     `yaml:"baseUrl"`
	Model       string                     `yaml:"model"`
	PromptCache AnthropicPromptCacheConfig `yaml:"promptCache"`
	ExtraParams map[string]any             `yaml:"extraParams"`
}

// OpenAIConfig configures the OpenAI (or OpenAI-compatible) LLM backend.
type OpenAIConfig struct {
	APIKey      string         `yaml:"apiKey"`
	BaseURL     string         `yaml:"baseUrl"`
	Model       string         `yaml:"model"`
	API         string         `yaml:"api"` // "completions" (default) or "responses"
	LogPayloads bool           `yaml:"logPayloads"`
	ExtraParams map[string]any `yaml:"extraParams"`
}

// GoogleConfig configures the Gemini LLM backend.
type GoogleConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeoutSeconds"`
}

// ObsConfig controls OpenTelemetry tracing/metrics export.
type ObsConfig struct {
	OTLP           string `yaml:"otlp"`
	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`
	Environment    string `yaml:"environment"`
}

// SearchConfig points at the web search backend.
type SearchConfig struct {
	SearXNGURL string `yaml:"searxngUrl"`
	MaxResults int    `yaml:"maxResults"`
}

// RerankerConfig points at an optional cross-encoder reranker endpoint.
// Host is left empty to disable reranking.
type RerankerConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// SandboxConfig controls the code execution collaborator.
type SandboxConfig struct {
	TimeoutSeconds int `yaml:"timeoutSeconds"`
	// WorkDir is the base directory generated code executes under; each
	// solve gets its own subdirectory beneath it. Empty uses the OS temp
	// directory.
	WorkDir string `yaml:"workDir"`
	// Interpreter is the binary used to run generated code (default
	// "python3").
	Interpreter string `yaml:"interpreter"`
	// BlockedBinaries rejects an interpreter name outright, on top of the
	// standing rule that any interpreter containing a path separator is
	// always blocked.
	BlockedBinaries []string `yaml:"blockedBinaries"`
}

// BudgetConfig lets an operator override the per-effort-level defaults
// a run starts with.
type BudgetConfig struct {
	Low    EffortBudget `yaml:"low"`
	Medium EffortBudget `yaml:"medium"`
	High   EffortBudget `yaml:"high"`
}

// EffortBudget is one effort tier's resource ceiling.
type EffortBudget struct {
	TokenBudget int `yaml:"tokenBudget"`
	MaxBadAttempts int `yaml:"maxBadAttempts"`
	MaxSteps    int `yaml:"maxSteps"`
}

// Config is the full set of settings the daemon needs to run.
type Config struct {
	ListenAddr  string `yaml:"listenAddr"`
	LLMProvider string `yaml:"llmProvider"` // "anthropic" | "openai" | "google"

	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Google    GoogleConfig    `yaml:"google"`

	Search   SearchConfig   `yaml:"search"`
	Reranker RerankerConfig `yaml:"reranker"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Budget   BudgetConfig   `yaml:"budget"`

	Obs      ObsConfig `yaml:"obs"`
	LogPath  string    `yaml:"logPath"`
	LogLevel string    `yaml:"logLevel"`
}

// Load builds a Config from environment variables (optionally loaded from a
// .env file), then applies an optional YAML file named by CONFIG_PATH on
// top, then fills in defaults for anything still unset.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	cfg.ListenAddr = strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))

	cfg.Anthropic.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.Anthropic.BaseURL = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	cfg.Anthropic.Model = strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))

	cfg.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	cfg.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	cfg.OpenAI.API = strings.TrimSpace(os.Getenv("OPENAI_API"))

	cfg.Google.APIKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	cfg.Google.BaseURL = strings.TrimSpace(os.Getenv("GOOGLE_BASE_URL"))
	cfg.Google.Model = strings.TrimSpace(os.Getenv("GOOGLE_MODEL"))

	cfg.Search.SearXNGURL = strings.TrimSpace(os.Getenv("SEARXNG_URL"))
	if v := strings.TrimSpace(os.Getenv("SEARCH_MAX_RESULTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxResults = n
		}
	}

	cfg.Reranker.Host = strings.TrimSpace(os.Getenv("RERANKER_HOST"))
	cfg.Reranker.Model = strings.TrimSpace(os.Getenv("RERANKER_MODEL"))

	cfg.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.Obs.ServiceName = strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	cfg.Obs.Environment = strings.TrimSpace(os.Getenv("DEPLOY_ENV"))

	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := applyYAMLOverride(&cfg, path); err != nil {
			return cfg, err
		}
	}

	applyDefaults(&cfg)

	log.Info().Msg("configuration loaded")
	return cfg, nil
}

func applyYAMLOverride(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	merge(cfg, overlay)
	return nil
}

// merge overlays non-zero fields from o onto cfg, so a value set in the YAML
// file overrides the env value. The provider API keys are the exception: an
// env key already set on cfg wins, and the YAML key is used only when it is
// blank.
func merge(cfg *Config, o Config) {
	if o.ListenAddr != "" {
		cfg.ListenAddr = o.ListenAddr
	}
	if o.LLMProvider != "" {
		cfg.LLMProvider = o.LLMProvider
	}
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = o.Anthropic.APIKey
	}
	if o.Anthropic.BaseURL != "" {
		cfg.Anthropic.BaseURL = o.Anthropic.BaseURL
	}
	if o.Anthropic.Model != "" {
		cfg.Anthropic.Model = o.Anthropic.Model
	}
	cfg.Anthropic.PromptCache = o.Anthropic.PromptCache
	if len(o.Anthropic.ExtraParams) > 0 {
		cfg.Anthropic.ExtraParams = o.Anthropic.ExtraParams
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = o.OpenAI.APIKey
	}
	if o.OpenAI.BaseURL != "" {
		cfg.OpenAI.BaseURL = o.OpenAI.BaseURL
	}
	if o.OpenAI.Model != "" {
		cfg.OpenAI.Model = o.OpenAI.Model
	}
	if o.OpenAI.API != "" {
		cfg.OpenAI.API = o.OpenAI.API
	}
	cfg.OpenAI.LogPayloads = cfg.OpenAI.LogPayloads || o.OpenAI.LogPayloads
	if len(o.OpenAI.ExtraParams) > 0 {
		cfg.OpenAI.ExtraParams = o.OpenAI.ExtraParams
	}
	if cfg.Google.APIKey == "" {
		cfg.Google.APIKey = o.Google.APIKey
	}
	if o.Google.BaseURL != "" {
		cfg.Google.BaseURL = o.Google.BaseURL
	}
	if o.Google.Model != "" {
		cfg.Google.Model = o.Google.Model
	}
	if o.Google.Timeout != 0 {
		cfg.Google.Timeout = o.Google.Timeout
	}
	if o.Search.SearXNGURL != "" {
		cfg.Search.SearXNGURL = o.Search.SearXNGURL
	}
	if o.Search.MaxResults != 0 {
		cfg.Search.MaxResults = o.Search.MaxResults
	}
	if o.Reranker.Host != "" {
		cfg.Reranker.Host = o.Reranker.Host
	}
	if o.Reranker.Model != "" {
		cfg.Reranker.Model = o.Reranker.Model
	}
	if o.Sandbox.TimeoutSeconds != 0 {
		cfg.Sandbox.TimeoutSeconds = o.Sandbox.TimeoutSeconds
	}
	if o.Sandbox.WorkDir != "" {
		cfg.Sandbox.WorkDir = o.Sandbox.WorkDir
	}
	if o.Sandbox.Interpreter != "" {
		cfg.Sandbox.Interpreter = o.Sandbox.Interpreter
	}
	if len(o.Sandbox.BlockedBinaries) > 0 {
		cfg.Sandbox.BlockedBinaries = o.Sandbox.BlockedBinaries
	}
	cfg.Budget = o.Budget
	if o.Obs.OTLP != "" {
		cfg.Obs.OTLP = o.Obs.OTLP
	}
	if o.Obs.ServiceName != "" {
		cfg.Obs.ServiceName = o.Obs.ServiceName
	}
	if o.Obs.ServiceVersion != "" {
		cfg.Obs.ServiceVersion = o.Obs.ServiceVersion
	}
	if o.Obs.Environment != "" {
		cfg.Obs.Environment = o.Obs.Environment
	}
	if o.LogPath != "" {
		cfg.LogPath = o.LogPath
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8089"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = 8
	}
	if cfg.Sandbox.TimeoutSeconds <= 0 {
		cfg.Sandbox.TimeoutSeconds = 20
	}
	if cfg.Sandbox.Interpreter == "" {
		cfg.Sandbox.Interpreter = "python3"
	}
	if len(cfg.Sandbox.BlockedBinaries) == 0 {
		cfg.Sandbox.BlockedBinaries = []string{"rm", "sudo", "curl", "wget"}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "deepresearchd"
	}
	if cfg.Obs.ServiceVersion == "" {
		cfg.Obs.ServiceVersion = "dev"
	}
	if cfg.Obs.Environment == "" {
		cfg.Obs.Environment = "development"
	}

	if cfg.Budget.Low.TokenBudget <= 0 {
		cfg.Budget.Low = EffortBudget{TokenBudget: 100_000, MaxBadAttempts: 1, MaxSteps: 20}
	}
	if cfg.Budget.Medium.TokenBudget <= 0 {
		cfg.Budget.Medium = EffortBudget{TokenBudget: 500_000, MaxBadAttempts: 1, MaxSteps: 40}
	}
	if cfg.Budget.High.TokenBudget <= 0 {
		cfg.Budget.High = EffortBudget{TokenBudget: 1_000_000, MaxBadAttempts: 2, MaxSteps: 80}
	}

	if cfg.Anthropic.APIKey == "" {
		log.Warn().Msg("no Anthropic API key configured")
	}
}
