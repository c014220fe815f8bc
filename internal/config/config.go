// Package config provides configuration loading and management for the sync agent.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steeveross-eng/huntiq-sync/internal/telemetry"
)

const (
	// DefaultCacheGeneration is the cache generation identifier used when the
	// configuration does not pin one. It is normally overridden at build time
	// so each release owns a distinct generation.
	DefaultCacheGeneration = "huntiq-cache-v5"

	// DefaultSyncInterval is the periodic reconciliation wake-up interval.
	DefaultSyncInterval = 2 * time.Minute

	// DefaultMaxAttempts bounds how many reconciliation passes may retry a
	// single outbox record before it is moved to the dead-letter collection.
	DefaultMaxAttempts = 25

	// DefaultTrackingInterval is the location sampling interval used when a
	// start-tracking command does not carry one.
	DefaultTrackingInterval = 5 * time.Minute

	// DefaultStoragePath is the on-disk location of the durable outbox store.
	DefaultStoragePath = "data/huntiq-sync.db"
)

// Config represents the root configuration structure for the agent.
type Config struct {
	// Upstream describes the remote HuntIQ API the agent fronts.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Storage configures the durable outbox store.
	Storage StorageConfig `yaml:"storage,omitempty"`

	// Cache configures cache generations and request routing.
	Cache CacheConfig `yaml:"cache,omitempty"`

	// Sync configures the background reconciliation scheduler.
	Sync SyncConfig `yaml:"sync,omitempty"`

	// Tracking configures geolocation sampling defaults.
	Tracking TrackingConfig `yaml:"tracking,omitempty"`

	// Telemetry configures OpenTelemetry metrics export.
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// UpstreamConfig defines the remote API settings.
type UpstreamConfig struct {
	// BaseURL is the origin of the remote API, e.g. "https://api.huntiq.example".
	BaseURL string `yaml:"baseURL"`

	// LocationsPath is the endpoint that accepts location samples.
	// Defaults to "/api/locations".
	LocationsPath string `yaml:"locationsPath,omitempty"`

	// Timeout is the per-request timeout for upstream calls as a duration
	// string (e.g. "15s"). Empty means no artificial timeout.
	Timeout string `yaml:"timeout,omitempty"`
}

// RequestTimeout returns the parsed per-request timeout, or zero when none
// is configured.
func (u *UpstreamConfig) RequestTimeout() time.Duration {
	if u.Timeout == "" {
		return 0
	}
	timeout, err := time.ParseDuration(u.Timeout)
	if err != nil {
		slog.Warn("Invalid upstream timeout, using none", "timeout", u.Timeout)
		return 0
	}
	return timeout
}

// StorageConfig defines the durable store settings.
type StorageConfig struct {
	// Path is the SQLite database file path. Defaults to "data/huntiq-sync.db".
	Path string `yaml:"path,omitempty"`
}

// CacheConfig defines cache generation identity and route classification.
type CacheConfig struct {
	// Generation is the versioned cache identity. Entries tagged with any
	// other generation are purged on activation.
	Generation string `yaml:"generation,omitempty"`

	// StaticAssets is the fixed manifest preloaded on install. A failure to
	// preload any single asset fails the whole install.
	StaticAssets []string `yaml:"staticAssets,omitempty"`

	// APIRoutes is the allow-list of path prefixes served network-first.
	// A path matching both a static asset and an API prefix resolves to
	// network-first.
	APIRoutes []string `yaml:"apiRoutes,omitempty"`
}

// SyncConfig defines reconciliation scheduler settings.
type SyncConfig struct {
	// Interval is the periodic wake-up interval as a duration string
	// (e.g. "90s"). Defaults to 2m.
	Interval string `yaml:"interval,omitempty"`

	// MaxAttempts bounds retries per outbox record before dead-lettering.
	// Defaults to 25. Negative disables the bound.
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

// PollInterval returns the parsed wake-up interval, falling back to the
// default for missing or invalid values.
func (s *SyncConfig) PollInterval() time.Duration {
	if s.Interval != "" {
		if interval, err := time.ParseDuration(s.Interval); err == nil && interval > 0 {
			return interval
		}
		slog.Warn("Invalid sync interval, using default",
			"interval", s.Interval,
			"default", DefaultSyncInterval)
	}
	return DefaultSyncInterval
}

// TrackingConfig defines geolocation sampling defaults.
type TrackingConfig struct {
	// DefaultInterval is used when START_TRACKING carries no interval,
	// as a duration string (e.g. "5m").
	DefaultInterval string `yaml:"defaultInterval,omitempty"`
}

// SampleInterval returns the parsed default sampling interval, falling back
// to the default for missing or invalid values.
func (t *TrackingConfig) SampleInterval() time.Duration {
	if t.DefaultInterval != "" {
		if interval, err := time.ParseDuration(t.DefaultInterval); err == nil && interval > 0 {
			return interval
		}
		slog.Warn("Invalid tracking interval, using default",
			"interval", t.DefaultInterval,
			"default", DefaultTrackingInterval)
	}
	return DefaultTrackingInterval
}

// Option defines the interface for configuration loader options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Loader loads agent configuration from YAML files.
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads, parses and defaults the configuration at the given path.
func (*Loader) Load(path string, opts ...Option) (*Config, error) {
	lc := &loaderConfig{}
	options := append([]Option{WithConfigPath(path)}, opts...)
	for _, opt := range options {
		if err := opt(lc); err != nil {
			return nil, err
		}
	}

	// #nosec G304 -- path validated by WithConfigPath
	data, err := os.ReadFile(lc.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Upstream.LocationsPath) == "" {
		c.Upstream.LocationsPath = "/api/locations"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if strings.TrimSpace(c.Cache.Generation) == "" {
		c.Cache.Generation = DefaultCacheGeneration
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = DefaultMaxAttempts
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	base := strings.TrimSpace(c.Upstream.BaseURL)
	if base == "" {
		return fmt.Errorf("upstream.baseURL is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("upstream.baseURL is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("upstream.baseURL must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("upstream.baseURL is missing a host")
	}
	for _, route := range c.Cache.APIRoutes {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("cache.apiRoutes entries must start with '/', got %q", route)
		}
	}
	for _, asset := range c.Cache.StaticAssets {
		if !strings.HasPrefix(asset, "/") {
			return fmt.Errorf("cache.staticAssets entries must start with '/', got %q", asset)
		}
	}
	for name, value := range map[string]string{
		"upstream.timeout":         c.Upstream.Timeout,
		"sync.interval":            c.Sync.Interval,
		"tracking.defaultInterval": c.Tracking.DefaultInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g. '90s', '5m'): %w", name, err)
		}
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("invalid telemetry config: %w", err)
		}
	}
	return nil
}
