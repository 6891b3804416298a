package cache

import (
	"sync/atomic"
	"time"
)

// Statistics is a point-in-time snapshot of the cache's counters. The event
// counters are monotonic non-decreasing; EntryCount and TotalBytes are gauges
// that also fall as entries are removed. The snapshot itself is not
// guaranteed to be a consistent cut across all counters.
type Statistics struct {
	Hits               uint64
	Misses             uint64
	Writes             uint64
	Removals           uint64
	Errors             uint64
	ExpiredCleanups    uint64
	OrphanCleanups     uint64
	EntryCount         int64
	TotalBytes         int64
	StatsSince         time.Time
	CompressionEnabled bool
	CompressionRatio   float64
	WALRecoveries      uint64
	ChecksumFailures   uint64
}

type statCounters struct {
	hits            atomic.Uint64
	misses          atomic.Uint64
	writes          atomic.Uint64
	removals        atomic.Uint64
	errors          atomic.Uint64
	expiredCleanups atomic.Uint64
	orphanCleanups  atomic.Uint64
	entryCount      atomic.Int64
	totalBytes      atomic.Int64
	walRecoveries   atomic.Uint64
	checksumFailures atomic.Uint64
	since           time.Time
}

func newStatCounters() *statCounters {
	return &statCounters{since: time.Now()}
}

func (s *statCounters) snapshot(compressionEnabled bool, ratio float64) Statistics {
	return Statistics{
		Hits:               s.hits.Load(),
		Misses:             s.misses.Load(),
		Writes:             s.writes.Load(),
		Removals:           s.removals.Load(),
		Errors:             s.errors.Load(),
		ExpiredCleanups:    s.expiredCleanups.Load(),
		OrphanCleanups:     s.orphanCleanups.Load(),
		EntryCount:         s.entryCount.Load(),
		TotalBytes:         s.totalBytes.Load(),
		StatsSince:         s.since,
		CompressionEnabled: compressionEnabled,
		CompressionRatio:   ratio,
		WALRecoveries:      s.walRecoveries.Load(),
		ChecksumFailures:   s.checksumFailures.Load(),
	}
}
