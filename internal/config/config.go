// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates daemon configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener and lifecycle timeouts.
type ServerConfig struct {
	// Host to bind. Default: 127.0.0.1
	Host string `yaml:"host,omitempty"`

	// Port to bind. Default: 8421
	Port int `yaml:"port,omitempty"`

	// RequestTimeout bounds each HTTP request. Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// WSIdleTimeout closes WebSocket connections with no traffic.
	// Default: 300s
	WSIdleTimeout time.Duration `yaml:"ws_idle_timeout,omitempty"`

	// ShutdownTimeout is how long shutdown waits for executors to drain.
	// Environment: AMELIA_SHUTDOWN_TIMEOUT. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// PIDFile is written on startup. Empty means no PID file.
	PIDFile string `yaml:"pid_file,omitempty"`

	// RateLimit is the per-second budget for mutating requests; bursts up
	// to twice the rate. Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty"`
}

// WorkflowsConfig configures workflow execution.
type WorkflowsConfig struct {
	// DatabasePath locates the SQLite database.
	// Default: <data dir>/amelia.db
	DatabasePath string `yaml:"database_path,omitempty"`

	// MaxConcurrent caps simultaneously active workflows.
	// Environment: AMELIA_MAX_CONCURRENT. Default: 3
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`

	// CheckInterval is the worktree health sweep interval. Default: 30s
	CheckInterval time.Duration `yaml:"check_interval,omitempty"`

	// MaxReviewIterations bounds per-task review cycles. Default: 3
	MaxReviewIterations int `yaml:"max_review_iterations,omitempty"`

	// Driver names the stage driver. Default: scripted
	Driver string `yaml:"driver,omitempty"`
}

// RetentionConfig configures shutdown-time pruning.
type RetentionConfig struct {
	// Days keeps terminal workflows for this many days. Default: 30
	Days int `yaml:"days,omitempty"`

	// MaxEventsPerWorkflow caps each workflow's retained event log.
	// Default: 100000
	MaxEventsPerWorkflow int `yaml:"max_events_per_workflow,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format: json, text. Default: json
	Format string `yaml:"format,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8421,
			RequestTimeout:  30 * time.Second,
			WSIdleTimeout:   300 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Workflows: WorkflowsConfig{
			MaxConcurrent:       3,
			CheckInterval:       30 * time.Second,
			MaxReviewIterations: 3,
			Driver:              "scripted",
		},
		Retention: RetentionConfig{
			Days:                 30,
			MaxEventsPerWorkflow: 100000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from path, or from the default location when
// path is empty. A missing file yields the defaults. Environment overrides
// apply after the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = Path(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	fillDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AMELIA_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AMELIA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AMELIA_DB_PATH"); v != "" {
		cfg.Workflows.DatabasePath = v
	}
	if v := os.Getenv("AMELIA_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workflows.MaxConcurrent = n
		}
	}
	if v := os.Getenv("AMELIA_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}
}

// fillDefaults backfills zero values left by a partial config file.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = def.Server.RequestTimeout
	}
	if cfg.Server.WSIdleTimeout == 0 {
		cfg.Server.WSIdleTimeout = def.Server.WSIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Workflows.MaxConcurrent == 0 {
		cfg.Workflows.MaxConcurrent = def.Workflows.MaxConcurrent
	}
	if cfg.Workflows.CheckInterval == 0 {
		cfg.Workflows.CheckInterval = def.Workflows.CheckInterval
	}
	if cfg.Workflows.MaxReviewIterations == 0 {
		cfg.Workflows.MaxReviewIterations = def.Workflows.MaxReviewIterations
	}
	if cfg.Workflows.Driver == "" {
		cfg.Workflows.Driver = def.Workflows.Driver
	}
	if cfg.Workflows.DatabasePath == "" {
		if dir, err := DataDir(); err == nil {
			cfg.Workflows.DatabasePath = filepath.Join(dir, "amelia.db")
		}
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = def.Retention.Days
	}
	if cfg.Retention.MaxEventsPerWorkflow == 0 {
		cfg.Retention.MaxEventsPerWorkflow = def.Retention.MaxEventsPerWorkflow
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Workflows.MaxConcurrent < 1 {
		return fmt.Errorf("%w: workflows.max_concurrent must be at least 1", ErrInvalidConfig)
	}
	if c.Workflows.DatabasePath == "" {
		return fmt.Errorf("%w: workflows.database_path is required", ErrInvalidConfig)
	}
	if c.Retention.Days < 0 {
		return fmt.Errorf("%w: retention.days must not be negative", ErrInvalidConfig)
	}
	if c.Retention.MaxEventsPerWorkflow < 0 {
		return fmt.Errorf("%w: retention.max_events_per_workflow must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the host:port the server binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
