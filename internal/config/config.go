// Package config loads the premium engine configuration from an optional
// JSON file with environment overrides on top of the defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/warp/premium-engine/internal/logging"
)

// Environment overrides.
const (
	EnvPort     = "PREMIUM_ENGINE_PORT"
	EnvDB       = "PREMIUM_ENGINE_DB"
	EnvLogLevel = "PREMIUM_ENGINE_LOG_LEVEL"
)

// Config is the root configuration.
type Config struct {
	Server  Server         `json:"server"`
	FanOut  FanOut         `json:"fanout"`
	Repair  Repair         `json:"repair"`
	Logging logging.Config `json:"logging"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Port           int      `json:"port"`
	DBPath         string   `json:"db_path"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Addr is the listen address for Port.
func (s Server) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// FanOut sizes the rate-change worker pool.
type FanOut struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// Repair controls the periodic repair sweep.
type Repair struct {
	Enabled   bool     `json:"enabled"`
	Interval  Duration `json:"interval"`
	BatchSize int      `json:"batch_size"`
}

// Duration reads "90s"/"1h" strings in JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Port:           8080,
			DBPath:         "premium.db",
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		FanOut: FanOut{
			Workers:   4,
			QueueSize: 256,
		},
		Repair: Repair{
			Enabled:   true,
			Interval:  Duration{time.Hour},
			BatchSize: 200,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads path (if not empty) over the defaults, then applies the
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvDB); v != "" {
		c.Server.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Server.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.FanOut.Workers <= 0 || c.FanOut.QueueSize <= 0 {
		return fmt.Errorf("fanout workers and queue_size must be positive")
	}
	if c.Repair.Enabled && c.Repair.Interval.Duration <= 0 {
		return fmt.Errorf("repair interval must be positive when enabled")
	}
	return nil
}
