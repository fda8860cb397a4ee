package browser

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pool and session collectors.
type Metrics struct {
	PagesInUse       prometheus.Gauge
	PagesIdle        prometheus.Gauge
	PagesCreated     prometheus.Counter
	PagesDiscarded   prometheus.Counter
	SessionsLaunched prometheus.Counter
	Reloads          *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PagesInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "shutter",
			Name:      "pages_in_use",
			Help:      "Number of pages currently checked out of the pool.",
		}),
		PagesIdle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "shutter",
			Name:      "pages_idle",
			Help:      "Number of blank pages waiting in the pool.",
		}),
		PagesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "shutter",
			Name:      "pages_created_total",
			Help:      "Pages opened by the pool.",
		}),
		PagesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "shutter",
			Name:      "pages_discarded_total",
			Help:      "Pages closed instead of being returned to the pool.",
		}),
		SessionsLaunched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "shutter",
			Name:      "sessions_launched_total",
			Help:      "Browser processes launched.",
		}),
		Reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shutter",
			Name:      "config_reloads_total",
			Help:      "Configuration changes applied, by mode.",
		}, []string{"mode"}),
	}
}
