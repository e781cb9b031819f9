package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "soffice", cfg.Converter.Binary)
	assert.Equal(t, 120*time.Second, cfg.Converter.Timeout)
	assert.Equal(t, 2, cfg.Converter.Workers)
	assert.Equal(t, 200, cfg.Rasterizer.DPI)
	assert.Equal(t, 4, cfg.Rasterizer.Workers)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Summarizer.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Summarizer.Model)
	assert.Equal(t, 8, cfg.Summarizer.MaxConcurrentCalls)
	assert.Equal(t, 3, cfg.Summarizer.MaxRetries)
	assert.Equal(t, 8099, cfg.Server.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
indexer:
  input_dir: /srv/dataroom/incoming
  output_dir: /srv/dataroom/index
converter:
  binary: /opt/libreoffice/program/soffice
  workers: 4
rasterizer:
  dpi: 150
summarizer:
  model: gpt-4o
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/dataroom/incoming", cfg.Indexer.InputDir)
	assert.Equal(t, "/srv/dataroom/index", cfg.Indexer.OutputDir)
	assert.Equal(t, "/opt/libreoffice/program/soffice", cfg.Converter.Binary)
	assert.Equal(t, 4, cfg.Converter.Workers)
	assert.Equal(t, 150, cfg.Rasterizer.DPI)
	assert.Equal(t, "gpt-4o", cfg.Summarizer.Model)

	// Untouched keys keep their defaults.
	assert.Equal(t, 120*time.Second, cfg.Converter.Timeout)
	assert.Equal(t, 8, cfg.Summarizer.MaxConcurrentCalls)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("indexer: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATAROOM_INPUT_DIR", "/mnt/deals/acme")
	t.Setenv("DATAROOM_OUTPUT_DIR", "/mnt/deals/acme-index")
	t.Setenv("SOFFICE_BIN", "/usr/bin/soffice")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("SUMMARY_MODEL", "llava")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/mnt/deals/acme", cfg.Indexer.InputDir)
	assert.Equal(t, "/mnt/deals/acme-index", cfg.Indexer.OutputDir)
	assert.Equal(t, "/usr/bin/soffice", cfg.Converter.Binary)
	assert.Equal(t, "sk-test", cfg.Summarizer.APIKey)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Summarizer.BaseURL)
	assert.Equal(t, "llava", cfg.Summarizer.Model)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"port too large", func(cfg *Config) { cfg.Server.Port = 70000 }},
		{"empty converter binary", func(cfg *Config) { cfg.Converter.Binary = "" }},
		{"zero converter workers", func(cfg *Config) { cfg.Converter.Workers = 0 }},
		{"dpi too low", func(cfg *Config) { cfg.Rasterizer.DPI = 10 }},
		{"dpi too high", func(cfg *Config) { cfg.Rasterizer.DPI = 1200 }},
		{"empty model", func(cfg *Config) { cfg.Summarizer.Model = "" }},
		{"zero concurrent calls", func(cfg *Config) { cfg.Summarizer.MaxConcurrentCalls = 0 }},
		{"negative retries", func(cfg *Config) { cfg.Summarizer.MaxRetries = -1 }},
		{"backoff window inverted", func(cfg *Config) { cfg.Summarizer.MaxBackoff = time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolveRelativePath(t *testing.T) {
	assert.Equal(t, "/abs/path", ResolveRelativePath("/etc/indexer/config.yaml", "/abs/path"))
	assert.Equal(t, "/etc/indexer/data", ResolveRelativePath("/etc/indexer/config.yaml", "data"))
}
