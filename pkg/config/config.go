// Package config loads the server configuration: the pipeline stages and
// the surrounding HTTP, Redis and logging settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a string ("250ms", "5m") in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration.
type Config struct {
	LogLevel  string    `toml:"log_level"`
	Server    Server    `toml:"server"`
	Redis     Redis     `toml:"redis"`
	RateLimit RateLimit `toml:"rate_limit"`
	Stages    []Stage   `toml:"stages"`
}

// Server holds the HTTP API settings.
type Server struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

// Redis holds the result store connection.
type Redis struct {
	Addr      string   `toml:"addr"`
	Embedded  bool     `toml:"embedded"`
	ResultTTL Duration `toml:"result_ttl"`
}

// RateLimit configures the per-type submission token bucket. A zero rate
// disables limiting.
type RateLimit struct {
	Rate  int `toml:"rate"`
	Burst int `toml:"burst"`
}

// Stage is one queue of the pipeline. Stages are chained in file order.
type Stage struct {
	Name     string   `toml:"name"`
	Kind     string   `toml:"kind"`
	Channels int      `toml:"channels"`
	Priority bool     `toml:"priority"`
	Wait     Duration `toml:"wait"`
	Timeout  Duration `toml:"timeout"`
}

// Default returns built-in defaults: a single generic stage.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: Server{
			Addr: ":8081",
		},
		Redis: Redis{
			Addr:      "127.0.0.1:6379",
			ResultTTL: Duration(24 * time.Hour),
		},
		RateLimit: RateLimit{
			Rate:  10,
			Burst: 20,
		},
		Stages: []Stage{
			{Name: "default", Kind: "generic", Channels: 4, Priority: true},
		},
	}
}

// Load reads a TOML file on top of the defaults and applies environment
// overrides. An empty path yields the defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// Stages from the file replace the default pipeline as a whole.
		defaults := cfg.Stages
		cfg.Stages = nil
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if len(cfg.Stages) == 0 {
			cfg.Stages = defaults
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT: %w", err)
		}
		c.RateLimit.Rate = n
	}
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return errors.New("config: at least one stage is required")
	}
	seen := make(map[string]bool, len(c.Stages))
	for i, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("config: stage %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate stage %q", s.Name)
		}
		seen[s.Name] = true
		if s.Channels < 0 {
			return fmt.Errorf("config: stage %q: channels must not be negative", s.Name)
		}
		if s.Wait < 0 || s.Timeout < 0 {
			return fmt.Errorf("config: stage %q: timeouts must not be negative", s.Name)
		}
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		return errors.New("config: rate_limit.burst must be positive when rate is set")
	}
	if !c.Redis.Embedded && c.Redis.Addr == "" {
		return errors.New("config: redis.addr is required unless redis.embedded is set")
	}
	return nil
}
