package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
log_level = "debug"

[server]
addr = ":9090"

[redis]
embedded = true
result_ttl = "1h"

[[stages]]
name = "ingest"
kind = "email"
channels = 2
priority = true
wait = "250ms"
timeout = "5s"

[[stages]]
name = "notify"
kind = "generic"
channels = 1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskpipe.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.Server.Addr != ":9090" {
		t.Errorf("Expected overrides from file, got %+v", cfg)
	}
	if !cfg.Redis.Embedded || cfg.Redis.ResultTTL.Std() != time.Hour {
		t.Errorf("Expected embedded redis with 1h TTL, got %+v", cfg.Redis)
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Errorf("Expected default redis addr kept, got %q", cfg.Redis.Addr)
	}
	if len(cfg.Stages) != 2 {
		t.Fatalf("Expected 2 stages, got %d", len(cfg.Stages))
	}
	ingest := cfg.Stages[0]
	if ingest.Wait.Std() != 250*time.Millisecond || ingest.Timeout.Std() != 5*time.Second {
		t.Errorf("Expected parsed durations, got %+v", ingest)
	}
	if cfg.Stages[1].Wait != 0 {
		t.Errorf("Expected unset wait to mean no limit, got %v", cfg.Stages[1].Wait.Std())
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("API_KEY", "secret-key")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("RATE_LIMIT", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.APIKey != "secret-key" || cfg.Redis.Addr != "redis:6379" || cfg.RateLimit.Rate != 3 {
		t.Errorf("Expected env overrides, got %+v", cfg)
	}

	t.Setenv("RATE_LIMIT", "lots")
	if _, err := Load(""); err == nil {
		t.Error("Expected error for non-numeric RATE_LIMIT")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "[[stages]]\nname = \"x\"\nwait = \"soon\"\n")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "No stages", mutate: func(c *Config) { c.Stages = nil }},
		{name: "Unnamed stage", mutate: func(c *Config) { c.Stages[0].Name = "" }},
		{name: "Duplicate stage", mutate: func(c *Config) { c.Stages = append(c.Stages, c.Stages[0]) }},
		{name: "Negative channels", mutate: func(c *Config) { c.Stages[0].Channels = -1 }},
		{name: "Negative timeout", mutate: func(c *Config) { c.Stages[0].Timeout = Duration(-time.Second) }},
		{name: "Rate without burst", mutate: func(c *Config) { c.RateLimit.Burst = 0 }},
		{name: "No redis", mutate: func(c *Config) { c.Redis.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
