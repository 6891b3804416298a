// Package lockfile manages the advisory `locks/<hash>.lock` files used for
// cross-process coordination at the boundary of the cache. These locks are
// never used for in-process synchronization — that is handled by striped
// in-memory locks — only for coordinating multiple processes sharing one
// cache root.
//
// © 2025 taskcache authors. MIT License.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Manager creates and tracks advisory lock files under <root>/locks/.
type Manager struct {
	dir string
}

// New returns a Manager rooted at dir (created if absent).
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: mkdir %s: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

// Lock is a held advisory lock. Call Unlock to release it.
type Lock struct {
	fl   *flock.Flock
	path string
}

func (m *Manager) path(hash string) string {
	return filepath.Join(m.dir, hash+".lock")
}

// TryLock attempts to acquire the advisory lock for hash without blocking.
// ok is false if another process already holds it.
func (m *Manager) TryLock(hash string) (*Lock, bool, error) {
	fl := flock.New(m.path(hash))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lockfile: trylock %s: %w", hash, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{fl: fl, path: m.path(hash)}, true, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

// SweepStale removes lock files whose modification time is older than
// maxAge and are not currently held, as part of background maintenance.
func (m *Manager) SweepStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("lockfile: read lock dir: %w", err)
	}
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		path := filepath.Join(m.dir, e.Name())
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		fl := flock.New(path)
		ok, err := fl.TryLock()
		if err != nil || !ok {
			continue // still held by someone, or transient error: leave it
		}
		_ = fl.Unlock()
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}
