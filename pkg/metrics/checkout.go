package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records checkout session initiation.
type CheckoutMetrics struct {
	sessions *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Checkout initiations by payment mode and outcome.",
	}, []string{"mode", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_initiate_duration_seconds",
		Help:    "Duration of checkout initiation in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	reg.MustRegister(sessions, duration)
	return &CheckoutMetrics{
		sessions: sessions,
		duration: duration,
	}
}

// ObserveInitiate counts one initiation and records how long it took.
func (c *CheckoutMetrics) ObserveInitiate(mode, outcome string, elapsed time.Duration) {
	if c == nil || c.sessions == nil {
		return
	}
	mode = normalizeLabel(mode)
	c.sessions.WithLabelValues(mode, normalizeLabel(outcome)).Inc()
	c.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
