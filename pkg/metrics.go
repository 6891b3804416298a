package cache

// metrics.go is a thin abstraction over Prometheus so the cache can be used
// with or without metrics: pass a *prometheus.Registry via WithMetrics to
// get labeled counters and histograms, otherwise a no-op sink is used and
// the hot path pays nothing for metric updates.
//
// © 2025 taskcache authors. MIT License.

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is the internal interface abstracting the concrete backend
// (Prometheus vs noop). It is not exposed outside the package.
type metricsSink interface {
	incHit(op string)
	incMiss(op string)
	incWrite()
	incRemoval()
	incError(op string)
	incExpiredCleanup()
	incOrphanCleanup()
	observeLatency(op string, d time.Duration)
	setEntryCount(n int64)
	setTotalBytes(n int64)
}

type noopMetrics struct{}

func (noopMetrics) incHit(string)                    {}
func (noopMetrics) incMiss(string)                   {}
func (noopMetrics) incWrite()                        {}
func (noopMetrics) incRemoval()                      {}
func (noopMetrics) incError(string)                  {}
func (noopMetrics) incExpiredCleanup()                {}
func (noopMetrics) incOrphanCleanup()                 {}
func (noopMetrics) observeLatency(string, time.Duration) {}
func (noopMetrics) setEntryCount(int64)              {}
func (noopMetrics) setTotalBytes(int64)              {}

type promMetrics struct {
	hits             *prometheus.CounterVec
	misses           *prometheus.CounterVec
	writes           prometheus.Counter
	removals         prometheus.Counter
	errors           *prometheus.CounterVec
	expiredCleanups  prometheus.Counter
	orphanCleanups   prometheus.Counter
	latency          *prometheus.HistogramVec
	entryCount       prometheus.Gauge
	totalBytes       prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	label := []string{"op"}
	pm := &promMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskcache", Name: "hits_total", Help: "Number of cache hits.",
		}, label),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskcache", Name: "misses_total", Help: "Number of cache misses.",
		}, label),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskcache", Name: "writes_total", Help: "Number of successful writes.",
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskcache", Name: "removals_total", Help: "Number of successful removals.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskcache", Name: "errors_total", Help: "Number of operation errors.",
		}, label),
		expiredCleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskcache", Name: "expired_cleanups_total", Help: "Number of entries reclaimed for expiry.",
		}),
		orphanCleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskcache", Name: "orphan_cleanups_total", Help: "Number of orphaned on-disk files reclaimed.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskcache", Name: "op_latency_seconds", Help: "Per-operation latency.",
			Buckets: prometheus.DefBuckets,
		}, label),
		entryCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskcache", Name: "entry_count", Help: "Live entry count.",
		}),
		totalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskcache", Name: "total_bytes", Help: "Live bytes stored.",
		}),
	}
	reg.MustRegister(pm.hits, pm.misses, pm.writes, pm.removals, pm.errors,
		pm.expiredCleanups, pm.orphanCleanups, pm.latency, pm.entryCount, pm.totalBytes)
	return pm
}

func (m *promMetrics) incHit(op string)  { m.hits.WithLabelValues(op).Inc() }
func (m *promMetrics) incMiss(op string) { m.misses.WithLabelValues(op).Inc() }
func (m *promMetrics) incWrite()         { m.writes.Inc() }
func (m *promMetrics) incRemoval()       { m.removals.Inc() }
func (m *promMetrics) incError(op string) { m.errors.WithLabelValues(op).Inc() }
func (m *promMetrics) incExpiredCleanup() { m.expiredCleanups.Inc() }
func (m *promMetrics) incOrphanCleanup()  { m.orphanCleanups.Inc() }
func (m *promMetrics) observeLatency(op string, d time.Duration) {
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}
func (m *promMetrics) setEntryCount(n int64) { m.entryCount.Set(float64(n)) }
func (m *promMetrics) setTotalBytes(n int64) { m.totalBytes.Set(float64(n)) }

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
