package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the rsrisk config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	dir := filepath.Join(home, ".config", "rsrisk")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embeddings.Model)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, 3, cfg.Retrieval.K)
	assert.Equal(t, Duration(10*time.Minute), cfg.Retrieval.BuildTimeout)
	assert.True(t, cfg.Pipeline.UseRAG)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_YAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  port: 9100
  shutdown_timeout: 3s
llm:
  provider: anthropic
  model: claude-sonnet-4
  api_key: sk-file
retrieval:
  k: 5
  score_threshold: 0.25
pipeline:
  use_rag: false
guardrail:
  window: 64
vectorstore:
  provider: qdrant
  qdrant_host: qdrant.internal
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-file", cfg.LLM.APIKey.Value())
	assert.Equal(t, 5, cfg.Retrieval.K)
	assert.InDelta(t, 0.25, cfg.Retrieval.ScoreThreshold, 1e-9)
	assert.False(t, cfg.Pipeline.UseRAG, "explicit false must override the default")
	assert.Equal(t, 64, cfg.Guardrail.Window)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.QdrantHost)
	assert.Equal(t, 6334, cfg.VectorStore.QdrantPort)

	// untouched sections keep defaults
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "llm:\n  model: gpt-4o-mini\npipeline:\n  workers: 2\n", 0600)

	t.Setenv("RSRISK_LLM_MODEL", "gpt-4.1")
	t.Setenv("RSRISK_PIPELINE_WORKERS", "8")
	t.Setenv("RSRISK_PIPELINE_USE_RAG", "false")
	t.Setenv("RSRISK_RETRIEVAL_SCORE_THRESHOLD", "0.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.False(t, cfg.Pipeline.UseRAG)
	assert.InDelta(t, 0.5, cfg.Retrieval.ScoreThreshold, 1e-9)
}

func TestLoad_APIKeyFallback(t *testing.T) {
	setupTestHome(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey.Value())
	assert.Equal(t, "sk-env", cfg.Embeddings.APIKey.Value())

	t.Setenv("RSRISK_LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "ak-env")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "ak-env", cfg.LLM.APIKey.Value())
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "retrieval:\n  k: 50\nvectorstore:\n  provider: redis\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "retrieval.k")
	assert.Contains(t, err.Error(), "vectorstore.provider")
}

func TestLoad_PathValidation(t *testing.T) {
	setupTestHome(t)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  port: 1\n"), 0600))

	_, err := Load(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "~/.config/rsrisk/")
}

func TestLoad_PrefixSiblingDirRejected(t *testing.T) {
	dir := setupTestHome(t)
	sibling := dir + "-evil"
	require.NoError(t, os.MkdirAll(sibling, 0700))

	_, err := Load(filepath.Join(sibling, "config.yaml"))
	assert.Error(t, err)
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9000\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, dir, big, 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"RSRISK_LLM_API_KEY":                "llm.api_key",
		"RSRISK_SERVER_PORT":                "server.port",
		"RSRISK_VECTORSTORE_QDRANT_USE_TLS": "vectorstore.qdrant_use_tls",
		"RSRISK_DEBUG":                      "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, "idx"), ExpandPath("~/idx"))
	assert.Equal(t, "/var/lib/rsrisk", ExpandPath("/var/lib/rsrisk"))
}
