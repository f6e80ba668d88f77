package syncer

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	attempts      prometheus.Counter
	failures      prometheus.Counter
	notifications prometheus.Counter
	pending       prometheus.Gauge
	flushes       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shiftsession",
			Name:      "sync_attempts_total",
			Help:      "Sync cycles that sent a patch.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shiftsession",
			Name:      "sync_failures_total",
			Help:      "Sync cycles whose patch failed.",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shiftsession",
			Name:      "sync_notifications_total",
			Help:      "User notifications raised after repeated failures.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shiftsession",
			Name:      "pending_keys",
			Help:      "Keys written locally and not yet acknowledged.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shiftsession",
			Name:      "unload_flushes_total",
			Help:      "Unload flushes by transport.",
		}, []string{"method"}),
	}
	reg.MustRegister(m.attempts, m.failures, m.notifications, m.pending, m.flushes)
	return m
}

func (m *Metrics) attempt() {
	if m != nil {
		m.attempts.Inc()
	}
}

func (m *Metrics) failure() {
	if m != nil {
		m.failures.Inc()
	}
}

func (m *Metrics) notification() {
	if m != nil {
		m.notifications.Inc()
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Metrics) flush(method FlushMethod) {
	if m != nil {
		m.flushes.WithLabelValues(string(method)).Inc()
	}
}
