package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable names understood by Load.
const (
	EnvPrefix     = "BADGEBOARD_"
	EnvConfigFile = "BADGEBOARD_CONFIG"
	EnvDotEnvFile = "BADGEBOARD_DOTENV"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if BADGEBOARD_CONFIG is set
//  3. env (prefix BADGEBOARD_), including values from a .env file
//
// The .env file (BADGEBOARD_DOTENV, default ".env") never overrides
// variables that are already set in the process environment.
func Load(_ context.Context) (*Config, error) {
	base := New()

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// BADGEBOARD_TEST_IDS -> test_ids (flat keys, underscores preserved).
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, strings.ToLower(EnvPrefix))
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	// Meta keys are not part of Config.
	k.Delete("config")
	k.Delete("dotenv")

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg.TestIDs = normalizeList(cfg.TestIDs)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() error {
	path := os.Getenv(EnvDotEnvFile)
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("%w: dotenv %s: %w", ErrLoadConfig, path, err)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, item := range in {
		for _, v := range strings.Split(item, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case len(c.TestIDs) == 0:
		return fmt.Errorf("%w: test_ids must list at least one test", ErrInvalidConfig)
	case c.RemoteTimeout <= 0:
		return fmt.Errorf("%w: remote_timeout must be positive", ErrInvalidConfig)
	case c.RemoteRetries < 0:
		return fmt.Errorf("%w: remote_retries must not be negative", ErrInvalidConfig)
	case c.SyncConcurrency < 1:
		return fmt.Errorf("%w: sync_concurrency must be at least 1", ErrInvalidConfig)
	case !validMetricName(c.MetricsNamespace):
		return fmt.Errorf("%w: metrics_namespace %q is not a valid metric name prefix", ErrInvalidConfig, c.MetricsNamespace)
	}

	switch c.StoreDriver {
	case DriverSQLite, DriverPgx:
		if strings.TrimSpace(c.StoreDSN) == "" {
			return fmt.Errorf("%w: store_dsn is required for driver %s", ErrInvalidConfig, c.StoreDriver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}

	if c.MirrorEnabled {
		if c.MirrorBucket == "" || c.MirrorPublicBaseURL == "" {
			return fmt.Errorf("%w: mirror_bucket and mirror_public_base_url are required when mirroring", ErrInvalidConfig)
		}
	}
	return nil
}

// validMetricName matches [a-zA-Z_][a-zA-Z0-9_]*.
func validMetricName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
