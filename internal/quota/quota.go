// Package quota implements the Memory / Quota Manager: system memory
// pressure sensing, disk-quota accounting, and admission control for the
// Unified KV Cache.
//
// © 2025 taskcache authors. MIT License.
package quota

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Pressure classifies current system memory pressure.
type Pressure int

const (
	Low Pressure = iota
	Medium
	High
	Critical
)

func (p Pressure) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Thresholds configures the watermarks used to classify memory pressure.
type Thresholds struct {
	HighFraction     float64 // default 0.80
	CriticalFraction float64 // default 0.95
	TargetFraction   float64 // default 0.70, used fraction at or above which pressure is Medium
	MinFreeBytes     uint64  // default 512 MiB, an absolute floor regardless of fraction
}

// DefaultThresholds mirrors common production defaults: Medium pressure from
// 70% used, High (only the smallest allocations approved) from 80%, Critical
// (every allocation refused) from 95% or whenever less than 512 MiB is free,
// regardless of the fractional watermarks.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighFraction:     0.80,
		CriticalFraction: 0.95,
		TargetFraction:   0.70,
		MinFreeBytes:     512 << 20,
	}
}

// MemorySampler abstracts system memory sampling so tests can substitute a
// deterministic fake instead of reading real host memory.
type MemorySampler interface {
	Sample(ctx context.Context) (totalBytes, availableBytes uint64, err error)
}

type gopsutilSampler struct{}

func (gopsutilSampler) Sample(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("quota: sample virtual memory: %w", err)
	}
	return vm.Total, vm.Available, nil
}

// Manager samples memory pressure, tracks disk usage against a configured
// cap, and answers admission-control questions for the Unified KV Cache's
// write path.
type Manager struct {
	thresholds Thresholds
	sampler    MemorySampler
	maxDisk    int64

	mu          sync.Mutex
	pressure    atomic.Int32
	diskUsed    atomic.Int64
	perDir      map[string]*int64
	perDirMu    sync.Mutex
}

// Config configures a Manager.
type Config struct {
	Thresholds Thresholds
	MaxDiskBytes int64
	Sampler    MemorySampler // nil uses the real gopsutil-backed sampler
}

// New constructs a Manager. It does not start sampling; call Run in a
// goroutine (or call Sample once synchronously) to begin classifying
// pressure.
func New(cfg Config) *Manager {
	if cfg.Sampler == nil {
		cfg.Sampler = gopsutilSampler{}
	}
	th := cfg.Thresholds
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	m := &Manager{
		thresholds: th,
		sampler:    cfg.Sampler,
		maxDisk:    cfg.MaxDiskBytes,
		perDir:     make(map[string]*int64),
	}
	m.pressure.Store(int32(Low))
	return m
}

// Sample takes one memory reading and updates the classified pressure level.
func (m *Manager) Sample(ctx context.Context) (Pressure, error) {
	total, available, err := m.sampler.Sample(ctx)
	if err != nil {
		return Low, err
	}
	p := classify(total, available, m.thresholds)
	m.pressure.Store(int32(p))
	return p, nil
}

func classify(total, available uint64, th Thresholds) Pressure {
	if total == 0 {
		return Low
	}
	usedFraction := 1 - float64(available)/float64(total)
	if available < th.MinFreeBytes || usedFraction >= th.CriticalFraction {
		return Critical
	}
	if usedFraction >= th.HighFraction {
		return High
	}
	if usedFraction >= th.TargetFraction {
		return Medium
	}
	return Low
}

// CurrentPressure returns the most recently sampled pressure level.
func (m *Manager) CurrentPressure() Pressure {
	return Pressure(m.pressure.Load())
}

// CanAllocate approves or denies an allocation of size bytes based on
// current pressure: small requests are approved under Medium, nothing is
// approved under Critical, and only the smallest requests pass under High.
func (m *Manager) CanAllocate(size int64) bool {
	switch m.CurrentPressure() {
	case Critical:
		return false
	case High:
		return size <= 4096
	case Medium:
		return size <= 1<<20
	default:
		return true
	}
}

// CheckDiskQuota reports whether admitting `size` more bytes would exceed
// the configured disk cap. A zero or negative MaxDiskBytes disables the
// check.
func (m *Manager) CheckDiskQuota(size int64) error {
	if m.maxDisk <= 0 {
		return nil
	}
	if m.diskUsed.Load()+size > m.maxDisk {
		return ErrDiskQuotaExceeded
	}
	return nil
}

// ErrDiskQuotaExceeded is returned by CheckDiskQuota when admitting the
// requested size would exceed the configured cap.
var ErrDiskQuotaExceeded = fmt.Errorf("quota: disk quota exceeded")

// RecordDiskUsage adjusts the global and per-directory disk usage counters
// by delta (which may be negative, e.g. after a remove).
func (m *Manager) RecordDiskUsage(dir string, delta int64) {
	m.diskUsed.Add(delta)
	if dir == "" {
		return
	}
	m.perDirMu.Lock()
	defer m.perDirMu.Unlock()
	counter, ok := m.perDir[dir]
	if !ok {
		var zero int64
		counter = &zero
		m.perDir[dir] = counter
	}
	atomic.AddInt64(counter, delta)
}

// DiskUsage returns the current global disk usage counter.
func (m *Manager) DiskUsage() int64 {
	return m.diskUsed.Load()
}

// DirUsage returns the current usage counter for a specific directory.
func (m *Manager) DirUsage(dir string) int64 {
	m.perDirMu.Lock()
	defer m.perDirMu.Unlock()
	counter, ok := m.perDir[dir]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}

// Run samples memory pressure every interval until ctx is canceled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = m.Sample(ctx)
		}
	}
}
