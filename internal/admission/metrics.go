package admission

import "github.com/prometheus/client_golang/prometheus"

// Metrics wraps a Pool with the gauges the operator scrapes: active permits
// and queue depth, refreshed on demand rather than on every Acquire/Release
// to keep the hot path lock-and-signal only.
type Metrics struct {
	pool *Pool

	activeGauge prometheus.Gauge
	queueGauge  prometheus.Gauge
}

// NewMetrics registers the admission gauges against reg (nil skips
// registration, used by tests).
func NewMetrics(pool *Pool, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pool: pool,
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_admission_active",
			Help: "Currently outstanding admission permits.",
		}),
		queueGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_admission_queue_depth",
			Help: "Requests waiting in the admission FIFO queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.activeGauge, m.queueGauge)
	}
	return m
}

// Refresh samples the pool and updates both gauges.
func (m *Metrics) Refresh() {
	snap := m.pool.Snapshot()
	m.activeGauge.Set(float64(snap.Active))
	m.queueGauge.Set(float64(snap.Queued))
}
