package metrics

import "github.com/prometheus/client_golang/prometheus"

// FulfillmentMetrics tracks order creation from completed payments.
type FulfillmentMetrics struct {
	outcomes *prometheus.CounterVec
	reviews  *prometheus.CounterVec
}

func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_attempts_total",
		Help: "Fulfillment attempts by source and outcome.",
	}, []string{"source", "outcome"})
	reviews := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_orders_flagged_total",
		Help: "Orders recorded with a review reason.",
	}, []string{"reason"})
	reg.MustRegister(outcomes, reviews)
	return &FulfillmentMetrics{outcomes: outcomes, reviews: reviews}
}

func (f *FulfillmentMetrics) IncOutcome(source, outcome string) {
	if f == nil || f.outcomes == nil {
		return
	}
	f.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (f *FulfillmentMetrics) IncReview(reason string) {
	if f == nil || f.reviews == nil {
		return
	}
	f.reviews.WithLabelValues(normalizeLabel(reason)).Inc()
}
