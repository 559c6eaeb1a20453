package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	for _, k := range []string{"LISTEN_ADDR", "LLM_PROVIDER", "CONFIG_PATH", "ANTHROPIC_API_KEY"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8089", cfg.ListenAddr)
	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.Equal(t, 8, cfg.Search.MaxResults)
	assert.Equal(t, 100_000, cfg.Budget.Low.TokenBudget)
	assert.Equal(t, "deepresearchd", cfg.Obs.ServiceName)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "")
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: \":9090\"\nsearch:\n  maxResults: 3\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.Search.MaxResults)
}

func TestLoadEnvWinsOverYAMLForSecrets(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("anthropic:\n  apiKey: \"yaml-key\"\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Anthropic.APIKey)
}
