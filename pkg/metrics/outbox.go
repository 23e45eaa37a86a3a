package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks the order event relay: deliveries, parked rows and
// retention purges.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	terminal  *prometheus.CounterVec
	purged    prometheus.Counter
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Outbox events published to Pub/Sub.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Retryable outbox publish failures.",
	}, []string{"event_type"})
	terminal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_terminal_total",
		Help: "Outbox events parked without further retries.",
	}, []string{"event_type"})
	purged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_purged_total",
		Help: "Published outbox rows removed by retention.",
	})
	reg.MustRegister(published, failed, terminal, purged)
	return &OutboxMetrics{published: published, failed: failed, terminal: terminal, purged: purged}
}

func (o *OutboxMetrics) IncPublished(eventType string) {
	if o == nil || o.published == nil {
		return
	}
	o.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (o *OutboxMetrics) IncFailed(eventType string) {
	if o == nil || o.failed == nil {
		return
	}
	o.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (o *OutboxMetrics) IncTerminal(eventType string) {
	if o == nil || o.terminal == nil {
		return
	}
	o.terminal.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (o *OutboxMetrics) AddPurged(n int64) {
	if o == nil || o.purged == nil || n <= 0 {
		return
	}
	o.purged.Add(float64(n))
}
