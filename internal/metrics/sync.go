package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records queue drain activity. A nil *SyncMetrics is valid and
// records nothing.
type SyncMetrics struct {
	items    *prometheus.CounterVec
	drains   *prometheus.CounterVec
	duration prometheus.Histogram
	depth    *prometheus.GaugeVec
}

// NewSyncMetrics registers the sync metrics on reg.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expense_sync_items_total",
		Help: "Queue items processed, by kind and outcome.",
	}, []string{"kind", "outcome"})
	drains := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expense_sync_drains_total",
		Help: "Drain attempts, by result.",
	}, []string{"result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "expense_sync_drain_duration_seconds",
		Help:    "Duration of queue drains in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "expense_sync_queue_depth",
		Help: "Queue items by status after the last drain.",
	}, []string{"status"})
	reg.MustRegister(items, drains, duration, depth)
	return &SyncMetrics{
		items:    items,
		drains:   drains,
		duration: duration,
		depth:    depth,
	}
}

// IncItem counts one processed item. Outcome is one of synced, retry,
// failed or interrupted.
func (m *SyncMetrics) IncItem(kind, outcome string) {
	if m == nil || m.items == nil {
		return
	}
	m.items.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// IncDrain counts one drain. Result is one of completed, skipped, auth or
// error.
func (m *SyncMetrics) IncDrain(result string) {
	if m == nil || m.drains == nil {
		return
	}
	m.drains.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *SyncMetrics) ObserveDrain(d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

// SetDepth replaces the per-status queue gauge. Statuses absent from counts
// are reset to zero.
func (m *SyncMetrics) SetDepth(counts map[string]int64, statuses ...string) {
	if m == nil || m.depth == nil {
		return
	}
	for _, status := range statuses {
		m.depth.WithLabelValues(status).Set(float64(counts[status]))
	}
	for status, n := range counts {
		m.depth.WithLabelValues(normalizeLabel(status)).Set(float64(n))
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
