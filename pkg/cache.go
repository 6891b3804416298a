// Package cache implements taskcache's core: a two-tier unified key/value
// cache over a content-addressed, crash-safe on-disk store, with pluggable
// eviction and resource governance.
//
// © 2025 taskcache authors. MIT License.
package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kestrelbuild/taskcache/internal/eviction"
	"github.com/kestrelbuild/taskcache/internal/fastpath"
	"github.com/kestrelbuild/taskcache/internal/lockfile"
	"github.com/kestrelbuild/taskcache/internal/quota"
	"github.com/kestrelbuild/taskcache/internal/storage"
	"github.com/kestrelbuild/taskcache/internal/striped"
)

// mmapThreshold is the value size at or above which a read promotes the hot
// entry as a memory map instead of an owned buffer.
const mmapThreshold = 64 << 10

type hotEntry struct {
	mu           sync.Mutex
	value        []byte // owned copy, or a view over mapped when mapped != nil
	mapped       mmap.MMap
	size         int64
	hasExpiry    bool
	expiresAt    time.Time
	lastAccessed time.Time
	accessCount  uint64
}

func (e *hotEntry) expired(now time.Time) bool {
	return e.hasExpiry && !e.expiresAt.After(now)
}

func (e *hotEntry) close() {
	if e.mapped != nil {
		_ = e.mapped.Unmap()
		e.mapped = nil
	}
}

// Cache is the Unified KV Cache: an in-memory hot tier fronting a crash-safe
// on-disk Storage Backend, with TTL, pluggable eviction, and resource
// governance.
type Cache struct {
	cfg     *Config
	mode    Mode
	logger  *zap.Logger
	metrics metricsSink
	stats   *statCounters

	hot      *striped.Map[*hotEntry]
	fast     *fastpath.Cache
	backend  *storage.Backend
	policy   eviction.Policy
	quotaMgr *quota.Manager
	locks    *lockfile.Manager

	readSem  *semaphore.Weighted
	writeSem *semaphore.Weighted

	cancelMaintenance context.CancelFunc
	maintenanceDone   chan struct{}
}

// New constructs a Cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	cfg := defaultConfig(dir)
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	backend, err := storage.Open(storage.Config{
		Dir:                dir,
		MaxSegmentBytes:    cfg.MaxSegmentBytes,
		CompressionEnabled: cfg.CompressionEnabled,
		CompressionMinSize: cfg.CompressionMinSize,
		CacheVersion:       cfg.CacheVersion,
	})
	if err != nil {
		if errors.Is(err, storage.ErrVersionMismatch) {
			return nil, newErr(KindVersionMismatch, "New", "", "on-disk cache was created by a different CacheVersion; wipe Dir or match the stored version", err)
		}
		return nil, newErr(KindIoFailure, "New", "", "check permissions and disk space", err)
	}

	locks, err := lockfile.New(dir + "/locks")
	if err != nil {
		return nil, newErr(KindIoFailure, "New", "", "", err)
	}

	c := &Cache{
		cfg:      cfg,
		mode:     cfg.mode,
		logger:   cfg.logger,
		metrics:  newMetricsSink(cfg.registry),
		stats:    newStatCounters(),
		hot:      striped.New[*hotEntry](64),
		fast:     fastpath.New(fastpath.Config{MaxValueSize: cfg.FastPathMaxSize}),
		backend:  backend,
		policy:   eviction.New(cfg.EvictionPolicy, cfg.MaxMemorySize),
		quotaMgr: quota.New(quota.Config{Thresholds: cfg.memoryThresholds, MaxDiskBytes: cfg.MaxDiskSize}),
		locks:    locks,
		readSem:  semaphore.NewWeighted(256),
		writeSem: semaphore.NewWeighted(64),
	}

	if cfg.CleanupInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancelMaintenance = cancel
		c.maintenanceDone = make(chan struct{})
		go c.runMaintenance(ctx)
	}

	return c, nil
}

func validateKey(key string) error {
	if key == "" {
		return newErr(KindInvalidKey, "", key, "", errEmptyKey)
	}
	if len(key) > 1024 {
		return newErr(KindInvalidKey, "", key, "", errKeyTooLong)
	}
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return newErr(KindInvalidKey, "", key, "", errKeyHasNul)
		}
	}
	return nil
}

// Get returns the value stored under key, if present, not expired, and the
// cache mode permits reads.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	defer func() { c.metrics.observeLatency("get", time.Since(start)) }()

	if !c.mode.allowsRead() {
		c.metrics.incMiss("get")
		c.stats.misses.Add(1)
		return nil, false, nil
	}
	if err := validateKey(key); err != nil {
		c.metrics.incError("get")
		c.stats.errors.Add(1)
		return nil, false, err
	}

	if v, ok := c.fast.Get(key); ok {
		c.metrics.incHit("get")
		c.stats.hits.Add(1)
		c.policy.OnAccess(key, int64(len(v)))
		return v, true, nil
	}

	now := time.Now()
	if e, ok := c.hot.Get(key); ok {
		e.mu.Lock()
		if e.expired(now) {
			e.mu.Unlock()
			c.removeInternal(key)
			c.metrics.incMiss("get")
			c.stats.misses.Add(1)
			return nil, false, nil
		}
		e.lastAccessed = now
		e.accessCount++
		value := append([]byte(nil), e.value...)
		e.mu.Unlock()
		c.metrics.incHit("get")
		c.stats.hits.Add(1)
		c.policy.OnAccess(key, int64(len(value)))
		return value, true, nil
	}

	if err := c.readSem.Acquire(ctx, 1); err != nil {
		c.metrics.incError("get")
		c.stats.errors.Add(1)
		return nil, false, newErr(KindTimeout, "Get", key, "", err)
	}
	defer c.readSem.Release(1)

	value, meta, err := c.backend.Get(key)
	switch {
	case err == storage.ErrNotFound:
		c.metrics.incMiss("get")
		c.stats.misses.Add(1)
		return nil, false, nil
	case err == storage.ErrCorrupted:
		c.metrics.incMiss("get")
		c.metrics.incError("get")
		c.stats.misses.Add(1)
		c.stats.errors.Add(1)
		c.stats.checksumFailures.Add(1)
		c.logger.Warn("corrupted entry self-healed", zap.String("key", key))
		return nil, false, nil
	case err != nil:
		c.metrics.incError("get")
		c.stats.errors.Add(1)
		return nil, false, newErr(KindIoFailure, "Get", key, "", err)
	}

	entry := c.promote(key, value, meta, now)
	c.hot.Set(key, entry)
	c.policy.OnInsert(key, meta.SizeBytes)
	c.stats.entryCount.Add(1)
	c.stats.totalBytes.Add(meta.SizeBytes)
	if c.fast.Eligible(len(value)) {
		c.fast.Put(key, value, ttlUntil(meta))
	}

	c.metrics.incHit("get")
	c.stats.hits.Add(1)
	return value, true, nil
}

// promote builds the hot-tier entry for a value just read from the backend.
// Large, raw-encoded values are memory-mapped directly from their data file
// instead of kept as an owned copy; everything else (small values, or
// anything stored zstd-compressed) keeps the already-decoded owned buffer,
// since mapping would only save a copy we've already paid for.
func (c *Cache) promote(key string, value []byte, meta storage.CacheMetadata, now time.Time) *hotEntry {
	entry := &hotEntry{
		value:        value,
		size:         meta.SizeBytes,
		hasExpiry:    meta.HasExpiry,
		expiresAt:    meta.ExpiresAt,
		lastAccessed: now,
		accessCount:  1,
	}
	if len(value) < mmapThreshold {
		return entry
	}
	f, err := os.Open(c.backend.DataPath(key))
	if err != nil {
		return entry
	}
	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	f.Close()
	if err != nil {
		return entry
	}
	header, payload, err := storage.DecodeObject(mapped)
	if err != nil || header.Encoding != storage.EncodingRaw {
		_ = mapped.Unmap()
		return entry
	}
	entry.mapped = mapped
	entry.value = payload
	return entry
}

func ttlUntil(meta storage.CacheMetadata) time.Duration {
	if !meta.HasExpiry {
		return 0
	}
	d := time.Until(meta.ExpiresAt)
	if d < 0 {
		return 0
	}
	return d
}

// TTL returns a pointer to d, for callers of Put/GetWriter that only have a
// duration value in hand. Put distinguishes "no ttl supplied" (nil — use the
// configured DefaultTTL) from "an explicit ttl of zero" (*ttl == 0 — the
// entry is immediately expired); a bare time.Duration cannot represent that
// distinction since the zero value means two different things.
func TTL(d time.Duration) *time.Duration {
	return &d
}

// Put stores value under key with the given ttl. A nil ttl means "use the
// configured DefaultTTL"; a non-nil ttl is used exactly as given, including
// *ttl == 0, which stores an entry that is immediately expired.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl *time.Duration) error {
	start := time.Now()
	defer func() { c.metrics.observeLatency("put", time.Since(start)) }()

	if !c.mode.allowsWrite() {
		return nil
	}
	if err := validateKey(key); err != nil {
		c.metrics.incError("put")
		c.stats.errors.Add(1)
		return err
	}
	if int64(len(value)) > c.cfg.MaxEntrySize {
		c.metrics.incError("put")
		c.stats.errors.Add(1)
		return newErr(KindCapacityExceeded, "Put", key, "value exceeds MaxEntrySize", nil)
	}
	effectiveTTL := c.cfg.DefaultTTL
	if ttl != nil {
		effectiveTTL = *ttl
	}

	if err := c.admit(int64(len(value))); err != nil {
		c.metrics.incError("put")
		c.stats.errors.Add(1)
		return err
	}

	if err := c.writeSem.Acquire(ctx, 1); err != nil {
		c.metrics.incError("put")
		c.stats.errors.Add(1)
		return newErr(KindTimeout, "Put", key, "", err)
	}
	defer c.writeSem.Release(1)

	meta, err := c.backend.Put(key, value, effectiveTTL)
	if err != nil {
		c.metrics.incError("put")
		c.stats.errors.Add(1)
		return newErr(KindIoFailure, "Put", key, "check permissions and disk space", err)
	}
	c.quotaMgr.RecordDiskUsage(c.cfg.Dir, meta.SizeBytes)

	now := time.Now()
	_, existed := c.hot.Get(key)
	entry := &hotEntry{
		value:        value,
		size:         meta.SizeBytes,
		hasExpiry:    meta.HasExpiry,
		expiresAt:    meta.ExpiresAt,
		lastAccessed: now,
	}
	c.hot.Set(key, entry)
	c.policy.OnInsert(key, meta.SizeBytes)
	if !existed {
		c.stats.entryCount.Add(1)
	}
	c.stats.totalBytes.Add(meta.SizeBytes)

	// Fast path is a mirror, never a source of truth: it is populated only
	// after the write-through to the Storage Backend has succeeded.
	if c.fast.Eligible(len(value)) {
		c.fast.Put(key, value, effectiveTTL)
	}

	c.metrics.incWrite()
	c.stats.writes.Add(1)
	c.metrics.setEntryCount(c.stats.entryCount.Load())
	c.metrics.setTotalBytes(c.stats.totalBytes.Load())
	return nil
}

// admit asks the Quota Manager whether a write of size bytes fits. A write
// that would exceed the disk quota fails at once with KindDiskQuotaExceeded;
// no eviction is attempted for it. If memory pressure denies the allocation,
// admit drives the eviction policy's NextEviction loop until it fits or the
// policy reports no further reclaim is possible.
func (c *Cache) admit(size int64) error {
	if err := c.quotaMgr.CheckDiskQuota(size); err != nil {
		return newErr(KindDiskQuotaExceeded, "Put", "", "evict entries or raise MaxDiskSize", err)
	}
	if !c.quotaMgr.CanAllocate(size) {
		for {
			victim, ok := c.policy.NextEviction()
			if !ok {
				return newErr(KindCapacityExceeded, "Put", "", "memory pressure too high and no further reclaim possible", nil)
			}
			c.removeInternal(victim)
			if c.quotaMgr.CanAllocate(size) {
				break
			}
		}
	}
	for c.policy.MemoryUsage()+size > c.cfg.MaxMemorySize {
		victim, ok := c.policy.NextEviction()
		if !ok {
			break
		}
		c.removeInternal(victim)
	}
	return nil
}

func (c *Cache) removeInternal(key string) {
	if e, ok := c.hot.Get(key); ok {
		e.close()
		c.hot.Delete(key)
		c.stats.entryCount.Add(-1)
		c.stats.totalBytes.Add(-e.size)
	}
	c.fast.Remove(key)
	c.policy.OnRemove(key, 0)
	existed, _ := c.backend.Remove(key)
	if existed {
		c.quotaMgr.RecordDiskUsage(c.cfg.Dir, -1) // exact byte delta is tracked by the caller when known
	}
}

// Remove deletes key and reports whether it previously existed. It is
// idempotent: a second call on an already-absent key returns false, not an
// error.
func (c *Cache) Remove(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	defer func() { c.metrics.observeLatency("remove", time.Since(start)) }()

	if err := validateKey(key); err != nil {
		return false, err
	}
	var hotExisted bool
	var freedBytes int64
	if e, ok := c.hot.Get(key); ok {
		hotExisted = true
		freedBytes = e.size
		e.close()
	}
	c.hot.Delete(key)
	c.fast.Remove(key)
	c.policy.OnRemove(key, 0)

	existed, err := c.backend.Remove(key)
	if err != nil {
		c.metrics.incError("remove")
		c.stats.errors.Add(1)
		return false, newErr(KindIoFailure, "Remove", key, "", err)
	}
	if existed || hotExisted {
		c.metrics.incRemoval()
		c.stats.removals.Add(1)
		c.stats.entryCount.Add(-1)
		c.stats.totalBytes.Add(-freedBytes)
	}
	return existed, nil
}

// Contains reports whether key currently has a live, unexpired entry,
// without counting toward hit/miss statistics the way Get does.
func (c *Cache) Contains(ctx context.Context, key string) bool {
	if !c.mode.allowsRead() {
		return false
	}
	if err := validateKey(key); err != nil {
		return false
	}
	if _, ok := c.fast.Get(key); ok {
		return true
	}
	now := time.Now()
	if e, ok := c.hot.Get(key); ok {
		if !e.expired(now) {
			return true
		}
		return false
	}
	_, _, err := c.backend.Get(key)
	return err == nil
}

// Metadata returns the CacheMetadata for key, if present and not expired.
func (c *Cache) Metadata(ctx context.Context, key string) (storage.CacheMetadata, bool, error) {
	if !c.mode.allowsRead() {
		return storage.CacheMetadata{}, false, nil
	}
	if err := validateKey(key); err != nil {
		return storage.CacheMetadata{}, false, err
	}
	_, meta, err := c.backend.Get(key)
	if err == storage.ErrNotFound || err == storage.ErrCorrupted {
		return storage.CacheMetadata{}, false, nil
	}
	if err != nil {
		return storage.CacheMetadata{}, false, newErr(KindIoFailure, "Metadata", key, "", err)
	}
	return meta, true, nil
}

// Clear removes every entry from every tier. It is idempotent.
func (c *Cache) Clear(ctx context.Context) error {
	c.hot.Range(func(_ string, e *hotEntry) bool {
		e.close()
		return true
	})
	c.hot.Clear()
	c.fast.Clear()
	c.policy.Clear()
	if err := c.backend.Clear(); err != nil {
		return newErr(KindIoFailure, "Clear", "", "", err)
	}
	c.stats.entryCount.Store(0)
	c.stats.totalBytes.Store(0)
	c.metrics.setEntryCount(0)
	c.metrics.setTotalBytes(0)
	return nil
}

// Statistics returns a point-in-time snapshot of the cache's counters.
func (c *Cache) Statistics() Statistics {
	ratio := 0.0
	return c.stats.snapshot(c.cfg.CompressionEnabled, ratio)
}

// Close stops background maintenance (if running) and closes the on-disk
// backend. It waits for maintenance to observe cancellation before
// returning, so a crash-safe shutdown never races a rotating WAL segment.
func (c *Cache) Close() error {
	if c.cancelMaintenance != nil {
		c.cancelMaintenance()
		<-c.maintenanceDone
	}
	c.hot.Range(func(_ string, e *hotEntry) bool {
		e.close()
		return true
	})
	return c.backend.Close()
}
