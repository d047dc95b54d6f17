// Package config loads the carescout configuration from defaults, an
// optional YAML file, and CARESCOUT_* environment variable overrides, in
// that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete carescout configuration.
type Config struct {
	// LLM configures the language model provider used for query
	// classification and action planning.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Browser configures the remote browser session service.
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`

	// Agent configures the navigation loop.
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Retry configures the shared retry policy for remote calls.
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Redis configures the classification cache. Leave Addr empty to run
	// without a cache.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Store configures search history persistence.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics configures the Prometheus registry.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// LLMConfig configures the chat completion provider.
type LLMConfig struct {
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	Model             string        `yaml:"model" env:"MODEL"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Temperature       float64       `yaml:"temperature" env:"TEMPERATURE"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// BrowserConfig configures the remote browser session service.
type BrowserConfig struct {
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Headless bool          `yaml:"headless" env:"HEADLESS"`
}

// AgentConfig configures the navigation loop.
type AgentConfig struct {
	// ErrorThreshold aborts a session after this many consecutive
	// iteration failures.
	ErrorThreshold int `yaml:"error_threshold" env:"ERROR_THRESHOLD"`
	// ActionTimeout bounds a single browser action attempt.
	ActionTimeout time.Duration `yaml:"action_timeout" env:"ACTION_TIMEOUT"`
	// VisibilityDelay is the pause after each successful action.
	VisibilityDelay time.Duration `yaml:"visibility_delay" env:"VISIBILITY_DELAY"`
	// MaxIterations caps loop iterations; zero means unlimited.
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
}

// RetryConfig configures the shared retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
}

// RedisConfig configures the classification cache.
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TTL          time.Duration `yaml:"ttl" env:"TTL"`
}

// StoreConfig configures search history persistence.
type StoreConfig struct {
	// Path is the SQLite database file; empty disables persistence.
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			Timeout:           60 * time.Second,
			Temperature:       0.2,
			RequestsPerSecond: 2,
		},
		Browser: BrowserConfig{
			BaseURL:  "http://localhost:7331",
			Timeout:  60 * time.Second,
			Headless: true,
		},
		Agent: AgentConfig{
			ErrorThreshold:  3,
			ActionTimeout:   10 * time.Second,
			VisibilityDelay: time.Second,
			MaxIterations:   0,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
		Redis: RedisConfig{
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			TTL:          24 * time.Hour,
		},
		Store: StoreConfig{
			Path: "carescout.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "carescout",
		},
	}
}

// Validate rejects configurations the system cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.APIKey == "" {
		errs = append(errs, "llm.api_key is required")
	}
	if c.LLM.Model == "" {
		errs = append(errs, "llm.model is required")
	}
	if c.Browser.BaseURL == "" {
		errs = append(errs, "browser.base_url is required")
	}
	if c.Agent.ErrorThreshold <= 0 {
		errs = append(errs, "agent.error_threshold must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
