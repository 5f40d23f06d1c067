// Package config loads invoicechat configuration from YAML with environment
// variable overrides. A missing config file yields defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all invoicechat configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configures the reasoning capability.
	LLM LLMConfig `yaml:"llm"`

	// Embedding configures the vector embedding engine.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Store configures the invoice record store.
	Store StoreConfig `yaml:"store"`

	// Session configures conversational session handling.
	Session SessionConfig `yaml:"session"`

	// RateLimit configures per-identity admission control.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Logging configures zap output.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the reasoning capability client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
	// MaxInFlight bounds concurrent calls into the reasoning capability.
	MaxInFlight int `yaml:"max_in_flight"`
	// MaxRetries bounds internal retries before surfacing unavailability.
	MaxRetries int `yaml:"max_retries"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai or ollama
	GenAIModel     string `yaml:"genai_model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	Timeout        string `yaml:"timeout"`
}

// StoreConfig configures the SQLite record store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	QueryTimeout string `yaml:"query_timeout"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	TTL           string `yaml:"ttl"`
	SweepInterval string `yaml:"sweep_interval"`
	MaxMessages   int    `yaml:"max_messages"`
}

// RateLimitConfig configures the sliding-window rate limiter.
type RateLimitConfig struct {
	Window      string `yaml:"window"`
	MaxRequests int    `yaml:"max_requests"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "invoicechat",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Timeout:     "2s",
			MaxInFlight: 8,
			MaxRetries:  2,
		},

		Embedding: EmbeddingConfig{
			Provider:       "genai",
			GenAIModel:     "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			Timeout:        "2s",
		},

		Store: StoreConfig{
			DatabasePath: "data/invoices.db",
			QueryTimeout: "1s",
		},

		Session: SessionConfig{
			TTL:           "30m",
			SweepInterval: "5m",
			MaxMessages:   10,
		},

		RateLimit: RateLimitConfig{
			Window:      "60s",
			MaxRequests: 20,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("INVOICECHAT_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("INVOICECHAT_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if ep := os.Getenv("OLLAMA_HOST"); ep != "" {
		c.Embedding.OllamaEndpoint = ep
	}
}

// Duration parses a duration field, falling back to def on empty or invalid
// values.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
