package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port == 0 {
		t.Error("default server port not set")
	}
	if cfg.Batch.Concurrency < 1 {
		t.Errorf("default concurrency = %d", cfg.Batch.Concurrency)
	}
	if cfg.Batch.SubmitRetryMax != 3 {
		t.Errorf("default submit_retry_max = %d, want 3", cfg.Batch.SubmitRetryMax)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadFromFilesOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabrica.toml")
	content := `
environment = "production"

[server]
port = 9090

[batch]
concurrency = 8
initial_poll_delay = "5s"

[costs]
"test-model" = 0.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles() error: %v", err)
	}

	if cfg.Environment != "production" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Batch.Concurrency != 8 {
		t.Errorf("concurrency = %d, want 8", cfg.Batch.Concurrency)
	}
	if cfg.Batch.InitialPollDelayDuration() != 5*time.Second {
		t.Errorf("initial poll delay = %v", cfg.Batch.InitialPollDelayDuration())
	}
	if cfg.Costs["test-model"] != 0.5 {
		t.Errorf("cost = %v", cfg.Costs["test-model"])
	}
	// Unset fields keep their defaults.
	if cfg.Batch.SubmitRetryMax != 3 {
		t.Errorf("submit_retry_max = %d, want default 3", cfg.Batch.SubmitRetryMax)
	}
}

func TestLoadFromFilesLaterFileWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "base.toml")
	second := filepath.Join(dir, "override.toml")
	os.WriteFile(first, []byte("[server]\nport = 7000\nhost = \"base\"\n"), 0644)
	os.WriteFile(second, []byte("[server]\nport = 7001\n"), 0644)

	cfg, err := LoadFromFiles(first, second)
	if err != nil {
		t.Fatalf("LoadFromFiles() error: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("port = %d, want 7001 from later file", cfg.Server.Port)
	}
	if cfg.Server.Host != "base" {
		t.Errorf("host = %q, want value preserved from earlier file", cfg.Server.Host)
	}
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	if _, err := LoadFromFiles("/nonexistent/fabrica.toml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FABRICA_PORT", "6161")
	t.Setenv("FABRICA_LOG_LEVEL", "warn")
	t.Setenv("FABRICA_GEMINI_API_KEY", "test-key")
	t.Setenv("FABRICA_CLAUDE_API_KEY", "claude-key")

	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles() error: %v", err)
	}
	if cfg.Server.Port != 6161 {
		t.Errorf("port = %d, want env override 6161", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Gemini.APIKey != "test-key" {
		t.Errorf("gemini api key = %q", cfg.Gemini.APIKey)
	}
	if cfg.Claude.APIKey != "claude-key" {
		t.Errorf("claude api key = %q", cfg.Claude.APIKey)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := DefaultConfig()
	original := cfg.Server.Port

	ApplyFlagOverrides(cfg, 0, "")
	if cfg.Server.Port != original {
		t.Error("zero port flag changed config")
	}

	ApplyFlagOverrides(cfg, 8200, "0.0.0.0")
	if cfg.Server.Port != 8200 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("flag overrides not applied: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative port", func(c *Config) { c.Server.Port = -1 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }},
		{"backoff factor below one", func(c *Config) { c.Batch.BackoffFactor = 0.5 }},
		{"malformed poll deadline", func(c *Config) { c.Batch.PollDeadline = "ten minutes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &BatchConfig{}

	if got := cfg.InitialPollDelayDuration(); got != 2*time.Second {
		t.Errorf("empty initial delay = %v, want 2s default", got)
	}
	if got := cfg.MaxPollDelayDuration(); got != 30*time.Second {
		t.Errorf("empty max delay = %v, want 30s default", got)
	}
	if got := cfg.PollDeadlineDuration("text"); got != 10*time.Minute {
		t.Errorf("text deadline = %v, want 10m default", got)
	}
	if got := cfg.PollDeadlineDuration("video"); got != 30*time.Minute {
		t.Errorf("video deadline = %v, want 30m default", got)
	}

	cfg.PollDeadline = "3m"
	cfg.VideoPollDeadline = "45m"
	if got := cfg.PollDeadlineDuration("image"); got != 3*time.Minute {
		t.Errorf("image deadline = %v, want 3m", got)
	}
	if got := cfg.PollDeadlineDuration("video"); got != 45*time.Minute {
		t.Errorf("video deadline = %v, want 45m", got)
	}

	if got := ParseDurationOr("garbage", time.Minute); got != time.Minute {
		t.Errorf("malformed duration = %v, want fallback", got)
	}
}
