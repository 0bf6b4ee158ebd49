package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string             `toml:"environment"` // "development" or "production"
	Server      ServerConfig       `toml:"server"`
	Storage     StorageConfig      `toml:"storage"`
	Logging     LoggingConfig      `toml:"logging"`
	Batch       BatchConfig        `toml:"batch"`
	Gemini      GeminiConfig       `toml:"gemini"`
	Claude      ClaudeConfig       `toml:"claude"`
	Providers   ProvidersConfig    `toml:"providers"`
	Scheduler   SchedulerConfig    `toml:"scheduler"`
	WebSocket   WebSocketConfig    `toml:"websocket"`
	Costs       map[string]float64 `toml:"costs"` // model -> cost per completed subtask
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// BatchConfig controls the batch runner and polling engine.
type BatchConfig struct {
	Concurrency    int `toml:"concurrency"`      // Per-batch worker pool size (default: 4)
	SubmitRetryMax int `toml:"submit_retry_max"` // Submission attempts before a subtask fails (default: 3)

	InitialPollDelay string  `toml:"initial_poll_delay"` // Wait before first status check (default: "2s")
	BackoffFactor    float64 `toml:"backoff_factor"`     // Exponential backoff multiplier (default: 1.5)
	MaxPollDelay     string  `toml:"max_poll_delay"`     // Backoff ceiling (default: "30s")
	Jitter           bool    `toml:"jitter"`             // Apply ±10% jitter to poll delays (default: false)

	PollDeadline      string `toml:"poll_deadline"`       // Per-subtask polling budget (default: "10m")
	VideoPollDeadline string `toml:"video_poll_deadline"` // Budget override for video batches (default: "30m")
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`      // Default model (default: "gemini-3-flash-preview")
	RateLimit string `toml:"rate_limit"` // Minimum interval between API calls (default: "4s")
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`      // Default model (default: "claude-sonnet-4-20250514")
	MaxTokens int    `toml:"max_tokens"` // Per-request output cap (default: 4096)
	RateLimit string `toml:"rate_limit"` // Minimum interval between API calls (default: "2s")
}

// ProvidersConfig selects the default provider when a model string is
// not prefixed with a provider name.
type ProvidersConfig struct {
	Default string `toml:"default"` // "gemini" or "claude"
}

// SchedulerConfig controls the stale-batch janitor.
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`  // Cron expression (default: "*/5 * * * *")
	StaleAge string `toml:"stale_age"` // Running batch with no live runner older than this is failed (default: "30m")
}

// WebSocketConfig controls progress event streaming.
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
}

// DefaultConfig returns the configuration defaults applied before any
// file, environment, or flag overrides.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/fabrica.db",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Batch: BatchConfig{
			Concurrency:       4,
			SubmitRetryMax:    3,
			InitialPollDelay:  "2s",
			BackoffFactor:     1.5,
			MaxPollDelay:      "30s",
			PollDeadline:      "10m",
			VideoPollDeadline: "30m",
		},
		Gemini: GeminiConfig{
			Model:     "gemini-3-flash-preview",
			RateLimit: "4s",
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
			RateLimit: "2s",
		},
		Providers: ProvidersConfig{
			Default: "gemini",
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
			StaleAge: "30m",
		},
		Costs: map[string]float64{},
	}
}

// LoadFromFiles loads configuration in priority order:
// defaults -> file1 -> file2 -> ... -> environment variables.
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies FABRICA_* environment variables on top of the
// loaded configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FABRICA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("FABRICA_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("FABRICA_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("FABRICA_DATA_DIR"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("FABRICA_GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("FABRICA_CLAUDE_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
// Zero values leave the configuration unchanged.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Batch.BackoffFactor < 1.0 {
		return fmt.Errorf("batch backoff_factor must be >= 1.0, got %f", c.Batch.BackoffFactor)
	}
	for _, field := range []struct {
		name, value string
	}{
		{"batch.initial_poll_delay", c.Batch.InitialPollDelay},
		{"batch.max_poll_delay", c.Batch.MaxPollDelay},
		{"batch.poll_deadline", c.Batch.PollDeadline},
		{"batch.video_poll_deadline", c.Batch.VideoPollDeadline},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", field.name, field.value)
		}
	}
	return nil
}

// ParseDurationOr parses a duration string, falling back to the given
// default on empty or malformed input.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// InitialPollDelayDuration returns the parsed initial poll delay.
func (c *BatchConfig) InitialPollDelayDuration() time.Duration {
	return ParseDurationOr(c.InitialPollDelay, 2*time.Second)
}

// MaxPollDelayDuration returns the parsed backoff ceiling.
func (c *BatchConfig) MaxPollDelayDuration() time.Duration {
	return ParseDurationOr(c.MaxPollDelay, 30*time.Second)
}

// PollDeadlineDuration returns the polling budget for the given media type.
func (c *BatchConfig) PollDeadlineDuration(mediaType string) time.Duration {
	if mediaType == "video" {
		return ParseDurationOr(c.VideoPollDeadline, 30*time.Minute)
	}
	return ParseDurationOr(c.PollDeadline, 10*time.Minute)
}

// StaleAgeDuration returns the parsed janitor staleness threshold.
func (c *SchedulerConfig) StaleAgeDuration() time.Duration {
	return ParseDurationOr(c.StaleAge, 30*time.Minute)
}
