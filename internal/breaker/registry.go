package breaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// stateValue maps a State to the Prometheus gauge value convention used
// across the pack's direct prometheus/client_golang consumers (hector,
// nexus): 0/1/2 for closed/half-open/open, monotonic in "how bad".
func stateValue(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// Registry owns one Breaker per backend name and the shared metric
// vectors every breaker reports into.
type Registry struct {
	cfg Config

	stateGauge    *prometheus.GaugeVec
	failuresGauge *prometheus.GaugeVec

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry constructs a Registry. reg may be nil to skip Prometheus
// registration (used in unit tests that don't want a global registry).
func NewRegistry(cfg Config, reg prometheus.Registerer) *Registry {
	r := &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
		stateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sandbox_breaker_state",
			Help: "Circuit breaker state per backend (0=closed,1=half-open,2=open).",
		}, []string{"backend"}),
		failuresGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sandbox_breaker_consecutive_failures",
			Help: "Consecutive failure count per backend circuit breaker.",
		}, []string{"backend"}),
	}
	if reg != nil {
		reg.MustRegister(r.stateGauge, r.failuresGauge)
	}
	return r
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(r.cfg, func(from, to State) {
		r.stateGauge.WithLabelValues(name).Set(stateValue(to))
	})
	r.stateGauge.WithLabelValues(name).Set(stateValue(StateClosed))
	r.breakers[name] = b
	return b
}

// Observe refreshes the failures gauge for name from a fresh snapshot; call
// periodically or after each Execute since failure counts change inside the
// breaker's lock, not through the transition callback.
func (r *Registry) Observe(name string) {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return
	}
	snap := b.Snapshot()
	r.failuresGauge.WithLabelValues(name).Set(float64(snap.ConsecutiveFailures))
}
