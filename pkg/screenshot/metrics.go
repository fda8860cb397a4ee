package screenshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator collectors.
type Metrics struct {
	Attempts *prometheus.CounterVec
	Renders  *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shutter",
			Name:      "screenshot_attempts_total",
			Help:      "Screenshot attempts, by outcome.",
		}, []string{"outcome"}),
		Renders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shutter",
			Name:      "renders_total",
			Help:      "Completed render requests, by status.",
		}, []string{"status"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shutter",
			Name:      "screenshot_attempt_seconds",
			Help:      "Duration of a single screenshot attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}
