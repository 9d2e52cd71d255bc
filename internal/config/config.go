// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file, a .env file and env vars.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"time"
)

// Supported store drivers.
const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
	DriverMemory = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogJSON switches log output to JSON lines.
	LogJSON bool `koanf:"log_json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the score store backend: sqlite, pgx or memory.
	StoreDriver string `koanf:"store_driver"`

	// StoreDSN is the data source name handed to the SQL driver.
	StoreDSN string `koanf:"store_dsn"`

	// TestIDs lists the assessment tests tracked by this deployment.
	// The first one is the default leaderboard.
	TestIDs []string `koanf:"test_ids"`

	// ClientID and ClientSecret are the OAuth application credentials.
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`

	// APIBaseURL and OAuthBaseURL locate the assessment service.
	APIBaseURL   string `koanf:"api_base_url"`
	OAuthBaseURL string `koanf:"oauth_base_url"`

	// RemoteTimeout bounds every call to the assessment service.
	RemoteTimeout time.Duration `koanf:"remote_timeout"`

	// RemoteRetries is the number of extra attempts for retryable remote failures.
	RemoteRetries int `koanf:"remote_retries"`

	// RemoteInsecureSkipVerify disables TLS certificate checks against the remote service.
	RemoteInsecureSkipVerify bool `koanf:"remote_insecure_skip_verify"`

	// SyncConcurrency bounds parallel user syncs during a batch run.
	SyncConcurrency int `koanf:"sync_concurrency"`

	// MetricsEnabled turns the Prometheus recorders on or off.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsNamespace prefixes every exported metric name.
	MetricsNamespace string `koanf:"metrics_namespace"`

	// Mirror* configure copying badge images into S3-compatible storage.
	MirrorEnabled         bool   `koanf:"mirror_enabled"`
	MirrorBucket          string `koanf:"mirror_bucket"`
	MirrorEndpoint        string `koanf:"mirror_endpoint"`
	MirrorRegion          string `koanf:"mirror_region"`
	MirrorAccessKeyID     string `koanf:"mirror_access_key_id"`
	MirrorSecretAccessKey string `koanf:"mirror_secret_access_key"`
	MirrorPublicBaseURL   string `koanf:"mirror_public_base_url"`
	MirrorPrefix          string `koanf:"mirror_prefix"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		Addr:             ":9080",
		StoreDriver:      DriverSQLite,
		StoreDSN:         "file:badgeboard.db?_pragma=busy_timeout(5000)",
		TestIDs:          []string{"leaderboard"},
		APIBaseURL:       "https://smarterer.com/api/",
		OAuthBaseURL:     "https://smarterer.com/oauth",
		RemoteTimeout:    10 * time.Second,
		RemoteRetries:    0,
		SyncConcurrency:  4,
		MetricsEnabled:   true,
		MetricsNamespace: "badgeboard",
		MirrorRegion:     "auto",
		MirrorPrefix:     "badges",
	}
}

// DefaultTestID returns the first configured test identifier.
func (c *Config) DefaultTestID() string {
	if len(c.TestIDs) == 0 {
		return ""
	}
	return c.TestIDs[0]
}
