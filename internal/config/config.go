// Package config provides configuration loading for promptloop.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for all promptloop binaries.
type Config struct {
	Temporal TemporalConfig `koanf:"temporal"`
	Server   ServerConfig   `koanf:"server"`
	NATS     NATSConfig     `koanf:"nats"`
	Logging  LoggingConfig  `koanf:"logging"`
	Loop     LoopConfig     `koanf:"loop"`
}

// TemporalConfig configures the durable-execution substrate connection.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// ServerConfig configures the control-surface HTTP daemon.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// RateLimit is requests per second per client IP; Burst caps spikes.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig configures the append-only audit store connection.
type NATSConfig struct {
	URL           string `koanf:"url"`
	Stream        string `koanf:"stream"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Credentials   Secret `koanf:"credentials"`
}

// LoggingConfig configures zap output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LoopConfig carries loop defaults applied when a start request leaves
// them unset.
type LoopConfig struct {
	MaxIterations        int     `koanf:"max_iterations"`
	ImprovementThreshold float64 `koanf:"improvement_threshold"`
	QualityFloor         float64 `koanf:"quality_floor"`
}

// NewDefaultConfig returns config with development-friendly defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "prompt-improvement",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8420,
			RateLimit:       10,
			Burst:           20,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Stream:        "LOOP_AUDIT",
			SubjectPrefix: "loops",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Loop: LoopConfig{
			MaxIterations:        3,
			ImprovementThreshold: 0.02,
			QualityFloor:         0.7,
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Temporal.HostPort == "" {
		return fmt.Errorf("temporal.host_port is required")
	}
	if c.Temporal.TaskQueue == "" {
		return fmt.Errorf("temporal.task_queue is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be > 0")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be >= 1")
	}
	if c.Loop.QualityFloor < 0 || c.Loop.QualityFloor > 1 {
		return fmt.Errorf("loop.quality_floor must be in [0,1]")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}
