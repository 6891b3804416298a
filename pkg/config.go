package cache

// config.go defines the Config object and the functional options that shape
// a Cache at construction time, following the teacher's pattern: all knobs
// live in one struct with sane defaults, options just capture pointers to
// external collaborators (registry, logger) or override a default, and the
// struct itself is never mutated after New returns.
//
// © 2025 taskcache authors. MIT License.

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kestrelbuild/taskcache/internal/eviction"
	"github.com/kestrelbuild/taskcache/internal/quota"
)

// Config bundles every knob that influences cache behavior. Build one via
// New(dir, opts...); there is no public zero-value constructor because Dir
// is mandatory.
type Config struct {
	Dir string

	MaxMemorySize      int64 // soft cap for the hot tier
	MaxDiskSize        int64 // hard cap enforced by the Quota Manager
	MaxEntries         int   // must be > 0; validated by New, but Put does not bound the hot-tier entry count by it
	MaxEntrySize       int64 // per-value cap
	DefaultTTL         time.Duration
	CleanupInterval    time.Duration // zero disables background maintenance
	CompressionEnabled bool
	CompressionMinSize int
	EvictionPolicy     eviction.Kind
	InlineThreshold    int64

	MaxSegmentBytes int64 // WAL segment rotation threshold
	CacheVersion    uint32
	FastPathMaxSize int

	memoryThresholds quota.Thresholds
	registry         *prometheus.Registry
	logger           *zap.Logger
	mode             Mode
}

// Option mutates a Config at construction time.
type Option func(*Config)

func defaultConfig(dir string) *Config {
	return &Config{
		Dir:                dir,
		MaxMemorySize:      256 << 20,
		MaxDiskSize:        4 << 30,
		MaxEntries:         1_000_000,
		MaxEntrySize:       64 << 20,
		DefaultTTL:         24 * time.Hour,
		CleanupInterval:    time.Minute,
		CompressionEnabled: true,
		CompressionMinSize: 256,
		EvictionPolicy:     eviction.KindLRU,
		InlineThreshold:    4 << 10,
		MaxSegmentBytes:    64 << 20,
		CacheVersion:       1,
		FastPathMaxSize:    1024,
		memoryThresholds:   quota.DefaultThresholds(),
		logger:             zap.NewNop(),
		mode:               ModeReadWrite,
	}
}

// WithMaxMemorySize sets the soft in-memory hot-tier cap.
func WithMaxMemorySize(bytes int64) Option {
	return func(c *Config) { c.MaxMemorySize = bytes }
}

// WithMaxDiskSize sets the hard disk cap enforced by the Quota Manager.
func WithMaxDiskSize(bytes int64) Option {
	return func(c *Config) { c.MaxDiskSize = bytes }
}

// WithMaxEntries sets MaxEntries. New rejects a value <= 0; the hot-tier
// entry count is not capped by it.
func WithMaxEntries(n int) Option {
	return func(c *Config) { c.MaxEntries = n }
}

// WithMaxEntrySize sets the per-value size cap; larger puts fail fast.
func WithMaxEntrySize(bytes int64) Option {
	return func(c *Config) { c.MaxEntrySize = bytes }
}

// WithDefaultTTL sets the TTL applied when Put is called without an
// explicit one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) { c.DefaultTTL = ttl }
}

// WithCleanupInterval sets the background maintenance cadence. Zero disables
// it, which is useful in tests.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) { c.CleanupInterval = d }
}

// WithCompression toggles compression and sets the minimum size at or above
// which it applies.
func WithCompression(enabled bool, minSize int) Option {
	return func(c *Config) {
		c.CompressionEnabled = enabled
		c.CompressionMinSize = minSize
	}
}

// WithEvictionPolicy selects lru, lfu, or arc.
func WithEvictionPolicy(kind eviction.Kind) Option {
	return func(c *Config) { c.EvictionPolicy = kind }
}

// WithInlineThreshold sets Config.InlineThreshold. The Cache does not pass
// it to any ObjectStore: a CAS store's inline threshold comes only from the
// ObjectStoreConfig given to NewObjectStore.
func WithInlineThreshold(bytes int64) Option {
	return func(c *Config) { c.InlineThreshold = bytes }
}

// WithMode sets the cache mode (Off/Read/ReadWrite/Write).
func WithMode(m Mode) Option {
	return func(c *Config) { c.mode = m }
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *Config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The cache logs only warnings:
// a corrupted entry self-healed on read, and failures of the background
// maintenance steps (memory sampling, lock sweep, WAL checkpoint, disk sweep).
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMemoryThresholds overrides the default memory-pressure watermarks.
func WithMemoryThresholds(t quota.Thresholds) Option {
	return func(c *Config) { c.memoryThresholds = t }
}

func applyOptions(cfg *Config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Dir == "" {
		return newErr(KindConfiguration, "New", "", "Dir is required", nil)
	}
	if cfg.MaxEntries <= 0 {
		return newErr(KindConfiguration, "New", "", "MaxEntries must be > 0", nil)
	}
	if cfg.MaxMemorySize <= 0 {
		return newErr(KindConfiguration, "New", "", "MaxMemorySize must be > 0", nil)
	}
	return nil
}
