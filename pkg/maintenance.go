package cache

// maintenance.go runs the cache's background sweep: expired-entry eviction
// from the hot tier, WAL segment pruning, stale advisory-lock cleanup, and
// periodic memory-pressure sampling for the Quota Manager. It follows the
// teacher's single-goroutine-per-cache maintenance loop shape, cancelled via
// context rather than a done channel the caller has to remember to close.
//
// © 2025 taskcache authors. MIT License.

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const staleLockAge = 10 * time.Minute

func (c *Cache) runMaintenance(ctx context.Context) {
	defer close(c.maintenanceDone)

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	pressureTicker := time.NewTicker(5 * time.Second)
	defer pressureTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pressureTicker.C:
			if _, err := c.quotaMgr.Sample(ctx); err != nil {
				c.logger.Warn("memory pressure sample failed", zap.Error(err))
			}
		case <-ticker.C:
			c.sweepExpired()
			if _, err := c.locks.SweepStale(staleLockAge); err != nil {
				c.logger.Warn("stale lock sweep failed", zap.Error(err))
			}
			if err := c.backend.Checkpoint(); err != nil {
				c.logger.Warn("wal checkpoint failed", zap.Error(err))
			}
		}
	}
}

// sweepExpired evicts expired entries from the hot tier and then scans all
// on-disk metadata: an entry that is not in this process's hot tier (written
// by an earlier process or via GetWriter, or evicted from the hot tier) and
// is never read again would otherwise sit on disk past its TTL forever,
// since nothing promotes it into the hot tier to be noticed by the in-memory
// scan above.
func (c *Cache) sweepExpired() {
	now := time.Now()
	var expired []string
	c.hot.Range(func(key string, e *hotEntry) bool {
		e.mu.Lock()
		isExpired := e.expired(now)
		e.mu.Unlock()
		if isExpired {
			expired = append(expired, key)
		}
		return true
	})
	for _, key := range expired {
		c.removeInternal(key)
		c.metrics.incExpiredCleanup()
		c.stats.expiredCleanups.Add(1)
	}

	diskExpired, diskOrphaned, err := c.backend.SweepDisk(now)
	if err != nil {
		c.logger.Warn("disk sweep failed", zap.Error(err))
		return
	}
	for i := 0; i < diskExpired; i++ {
		c.metrics.incExpiredCleanup()
		c.stats.expiredCleanups.Add(1)
	}
	for i := 0; i < diskOrphaned; i++ {
		c.metrics.incOrphanCleanup()
		c.stats.orphanCleanups.Add(1)
	}
}
