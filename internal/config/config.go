// Package config defines the engine configuration surface: declarative
// resource pools per tier plus the ambient settings (expiry, persistence,
// fault handling, logging, metrics). The engine core consumes only the
// resolved resource pool descriptors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/tierstore/tierstore/pkg/types"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// as well as plain nanosecond integers.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Configuration represents the complete engine configuration.
type Configuration struct {
	Pools       PoolsConfig       `yaml:"pools"`
	Expiry      ExpiryConfig      `yaml:"expiry"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Fault       FaultConfig       `yaml:"fault"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// PoolsConfig declares the capacity of each tier.
type PoolsConfig struct {
	// CachingEntries bounds the hot tier by entry count.
	CachingEntries int `yaml:"caching_entries"`

	Authority AuthorityPoolConfig `yaml:"authority"`
}

// AuthorityPoolConfig declares the authoritative tier's backing and size.
type AuthorityPoolConfig struct {
	// Mode selects the backing: "heap" (in-process map), "offheap"
	// (segment store in a manually sized region), or "disk" (segment store
	// mirrored to a file).
	Mode string `yaml:"mode"`

	// Entries bounds heap mode by entry count.
	Entries int `yaml:"entries"`

	// Size bounds offheap/disk modes by bytes, e.g. "16MB".
	Size string `yaml:"size"`
}

// ExpiryConfig selects the expiry policy applied to stored entries.
type ExpiryConfig struct {
	// Policy is one of "none", "ttl" (fixed lifetime from creation), or
	// "access" (time-to-idle, renewed on access).
	Policy string `yaml:"policy"`

	TTL Duration `yaml:"ttl"`
}

// PersistenceConfig configures the disk-backed segment store.
type PersistenceConfig struct {
	// Directory holds the segment data file for disk mode.
	Directory string `yaml:"directory"`

	// SyncOnWrite forces an fsync after every mirrored write instead of
	// only on close.
	SyncOnWrite bool `yaml:"sync_on_write"`
}

// FaultConfig bounds fault-in waits and the direct read-through fallback.
type FaultConfig struct {
	// Timeout is the wait budget for a fault blocked behind another
	// in-flight load of the same key.
	Timeout Duration `yaml:"timeout"`

	// RetryAttempts bounds the direct authority reads attempted after a
	// fault wait times out.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryInitialDelay is the backoff start for those attempts.
	RetryInitialDelay Duration `yaml:"retry_initial_delay"`
}

// LoggingConfig configures the engine logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// MetricsConfig configures the prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults: a small heap
// store with no expiry and no persistence.
func NewDefault() *Configuration {
	return &Configuration{
		Pools: PoolsConfig{
			CachingEntries: 100,
			Authority: AuthorityPoolConfig{
				Mode:    "heap",
				Entries: 10000,
			},
		},
		Expiry: ExpiryConfig{
			Policy: "none",
		},
		Persistence: PersistenceConfig{
			SyncOnWrite: false,
		},
		Fault: FaultConfig{
			Timeout:           Duration(5 * time.Second),
			RetryAttempts:     3,
			RetryInitialDelay: Duration(10 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "tierstore",
		},
	}
}

// Load reads a configuration file, layered over the defaults.
func Load(path string) (*Configuration, error) {
	cfg := NewDefault()

	data, err := os.ReadFile(path) // #nosec G304 -- path chosen by the embedding application
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Configuration) Validate() error {
	if c.Pools.CachingEntries <= 0 {
		return fmt.Errorf("pools.caching_entries must be positive, got %d", c.Pools.CachingEntries)
	}

	switch c.Pools.Authority.Mode {
	case "", "heap":
		if c.Pools.Authority.Entries <= 0 {
			return fmt.Errorf("pools.authority.entries must be positive for heap mode, got %d", c.Pools.Authority.Entries)
		}
	case "offheap", "disk":
		size, err := ParseSize(c.Pools.Authority.Size)
		if err != nil {
			return fmt.Errorf("pools.authority.size: %w", err)
		}
		if size <= 0 {
			return fmt.Errorf("pools.authority.size must be positive, got %q", c.Pools.Authority.Size)
		}
		if c.Pools.Authority.Mode == "disk" && c.Persistence.Directory == "" {
			return fmt.Errorf("persistence.directory is required for disk mode")
		}
	default:
		return fmt.Errorf("pools.authority.mode must be heap, offheap, or disk, got %q", c.Pools.Authority.Mode)
	}

	switch c.Expiry.Policy {
	case "", "none":
	case "ttl", "access":
		if c.Expiry.TTL <= 0 {
			return fmt.Errorf("expiry.ttl must be positive for policy %q", c.Expiry.Policy)
		}
	default:
		return fmt.Errorf("expiry.policy must be none, ttl, or access, got %q", c.Expiry.Policy)
	}

	if c.Fault.Timeout < 0 {
		return fmt.Errorf("fault.timeout must not be negative")
	}

	return nil
}

// ResolvePools converts the declared pools into resource pool descriptors,
// one per configured tier.
func (c *Configuration) ResolvePools() ([]types.ResourcePool, error) {
	caching := types.ResourcePool{
		Role: types.RoleCaching,
		Size: int64(c.Pools.CachingEntries),
		Unit: types.UnitEntries,
	}

	var authority types.ResourcePool
	switch c.Pools.Authority.Mode {
	case "", "heap":
		authority = types.ResourcePool{
			Role: types.RoleAuthority,
			Size: int64(c.Pools.Authority.Entries),
			Unit: types.UnitEntries,
		}
	case "offheap", "disk":
		size, err := ParseSize(c.Pools.Authority.Size)
		if err != nil {
			return nil, err
		}
		authority = types.ResourcePool{
			Role: types.RoleAuthority,
			Size: size,
			Unit: types.UnitBytes,
		}
	default:
		return nil, fmt.Errorf("unknown authority mode %q", c.Pools.Authority.Mode)
	}

	for _, pool := range []types.ResourcePool{caching, authority} {
		if err := pool.Validate(); err != nil {
			return nil, err
		}
	}

	return []types.ResourcePool{caching, authority}, nil
}

// ParseSize converts a human-readable size like "16MB" or "512KB" to bytes.
// A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("size is empty")
	}

	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, m.suffix))
			num, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			return int64(num * float64(m.factor)), nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return num, nil
}

// FormatSize renders a byte count as a human-readable string.
func FormatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)

	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1fGB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1fMB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1fKB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
