// Package config provides unified configuration loading for the indexer.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the data room indexer.
type Config struct {
	Indexer       IndexerConfig       `yaml:"indexer"`
	Converter     ConverterConfig     `yaml:"converter"`
	Rasterizer    RasterizerConfig    `yaml:"rasterizer"`
	Summarizer    SummarizerConfig    `yaml:"summarizer"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// IndexerConfig holds the input and output locations for a run.
type IndexerConfig struct {
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
}

// ConverterConfig holds settings for the external document converter.
type ConverterConfig struct {
	Binary  string        `yaml:"binary"`
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
}

// RasterizerConfig holds page rendering settings.
type RasterizerConfig struct {
	DPI     int `yaml:"dpi"`
	Workers int `yaml:"workers"`
}

// SummarizerConfig holds settings for the summarization model endpoint.
// APIKey is taken from the environment only and never from YAML.
type SummarizerConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Model              string        `yaml:"model"`
	APIKey             string        `yaml:"-"`
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls"`
	MaxRetries         int           `yaml:"max_retries"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	PageMaxTokens      int           `yaml:"page_max_tokens"`
	DocMaxTokens       int           `yaml:"doc_max_tokens"`
}

// ServerConfig holds HTTP server settings for the read API.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Indexer: IndexerConfig{
			InputDir:  "",
			OutputDir: "dataroom_index",
		},
		Converter: ConverterConfig{
			Binary:  "soffice",
			Timeout: 120 * time.Second,
			Workers: 2,
		},
		Rasterizer: RasterizerConfig{
			DPI:     200,
			Workers: 4,
		},
		Summarizer: SummarizerConfig{
			BaseURL:            "https://api.openai.com/v1",
			Model:              "gpt-4o-mini",
			MaxConcurrentCalls: 8,
			MaxRetries:         3,
			InitialBackoff:     1 * time.Second,
			MaxBackoff:         30 * time.Second,
			RequestTimeout:     90 * time.Second,
			PageMaxTokens:      200,
			DocMaxTokens:       250,
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8099,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Converter.Binary == "" {
		return fmt.Errorf("converter binary must be set")
	}

	if c.Converter.Timeout <= 0 {
		return fmt.Errorf("converter timeout must be positive")
	}

	if c.Converter.Workers < 1 {
		return fmt.Errorf("converter workers must be at least 1")
	}

	if c.Rasterizer.DPI < 50 || c.Rasterizer.DPI > 600 {
		return fmt.Errorf("rasterizer dpi must be between 50 and 600")
	}

	if c.Rasterizer.Workers < 1 {
		return fmt.Errorf("rasterizer workers must be at least 1")
	}

	if c.Summarizer.BaseURL == "" {
		return fmt.Errorf("summarizer base_url must be set")
	}

	if c.Summarizer.Model == "" {
		return fmt.Errorf("summarizer model must be set")
	}

	if c.Summarizer.MaxConcurrentCalls < 1 {
		return fmt.Errorf("summarizer max_concurrent_calls must be at least 1")
	}

	if c.Summarizer.MaxRetries < 0 {
		return fmt.Errorf("summarizer max_retries must not be negative")
	}

	if c.Summarizer.InitialBackoff <= 0 || c.Summarizer.MaxBackoff < c.Summarizer.InitialBackoff {
		return fmt.Errorf("summarizer backoff window is invalid")
	}

	if c.Summarizer.RequestTimeout <= 0 {
		return fmt.Errorf("summarizer request_timeout must be positive")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATAROOM_INPUT_DIR"); v != "" {
		cfg.Indexer.InputDir = v
	}

	if v := os.Getenv("DATAROOM_OUTPUT_DIR"); v != "" {
		cfg.Indexer.OutputDir = v
	}

	if v := os.Getenv("SOFFICE_BIN"); v != "" {
		cfg.Converter.Binary = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Summarizer.APIKey = v
	}

	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Summarizer.BaseURL = v
	}

	if v := os.Getenv("SUMMARY_MODEL"); v != "" {
		cfg.Summarizer.Model = v
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
