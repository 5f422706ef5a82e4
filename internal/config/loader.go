package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envKeys maps environment variables to config paths. An explicit table
// avoids guessing where underscores split for compound field names like
// host_port.
var envKeys = map[string]string{
	"PROMPTLOOP_TEMPORAL_HOST_PORT":          "temporal.host_port",
	"PROMPTLOOP_TEMPORAL_NAMESPACE":          "temporal.namespace",
	"PROMPTLOOP_TEMPORAL_TASK_QUEUE":         "temporal.task_queue",
	"PROMPTLOOP_SERVER_HOST":                 "server.host",
	"PROMPTLOOP_SERVER_PORT":                 "server.port",
	"PROMPTLOOP_SERVER_RATE_LIMIT":           "server.rate_limit",
	"PROMPTLOOP_SERVER_BURST":                "server.burst",
	"PROMPTLOOP_SERVER_SHUTDOWN_TIMEOUT":     "server.shutdown_timeout",
	"PROMPTLOOP_NATS_URL":                    "nats.url",
	"PROMPTLOOP_NATS_STREAM":                 "nats.stream",
	"PROMPTLOOP_NATS_SUBJECT_PREFIX":         "nats.subject_prefix",
	"PROMPTLOOP_NATS_CREDENTIALS":            "nats.credentials",
	"PROMPTLOOP_LOGGING_LEVEL":               "logging.level",
	"PROMPTLOOP_LOGGING_FORMAT":              "logging.format",
	"PROMPTLOOP_LOOP_MAX_ITERATIONS":         "loop.max_iterations",
	"PROMPTLOOP_LOOP_IMPROVEMENT_THRESHOLD":  "loop.improvement_threshold",
	"PROMPTLOOP_LOOP_QUALITY_FLOOR":          "loop.quality_floor",
}

// Load loads configuration with the following precedence (highest first):
//
//  1. Environment variables (PROMPTLOOP_TEMPORAL_HOST_PORT, ...)
//  2. YAML config file (~/.config/promptloop/config.yaml by default)
//  3. Hardcoded defaults
//
// A missing config file is not an error; an unreadable or invalid one is.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "promptloop", "config.yaml")
	}

	if content, err := os.ReadFile(configPath); err == nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	if err := k.Load(env.Provider("PROMPTLOOP_", ".", func(s string) string {
		return envKeys[s] // unknown variables are skipped
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
