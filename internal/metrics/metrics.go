package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Enqueued          prometheus.Counter
	Claimed           prometheus.Counter
	Sent              *prometheus.CounterVec
	Failed            *prometheus.CounterVec
	Skipped           *prometheus.CounterVec
	Fallbacks         prometheus.Counter
	MXClassifications *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	MessagesByStatus  *prometheus.GaugeVec
}

// NewMetrics registers the outreach metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the outreach metrics with reg
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_enqueued_total",
			Help: "Total number of outreach messages scheduled",
		}),
		Claimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_claimed_total",
			Help: "Total number of outreach messages claimed for delivery",
		}),
		Sent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_sent_total",
			Help: "Total number of outreach messages accepted by a channel",
		}, []string{"channel"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_failed_total",
			Help: "Total number of outreach messages that failed delivery",
		}, []string{"channel"}),
		Skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_skipped_total",
			Help: "Total number of outreach messages skipped before sending",
		}, []string{"reason"}),
		Fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_fallback_total",
			Help: "Total number of sends retried through the default channel after an auth failure",
		}),
		MXClassifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_mx_classifications_total",
			Help: "Total number of recipient domain classifications",
		}, []string{"class"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_tick_duration_seconds",
			Help:    "Time spent in one delivery tick",
			Buckets: prometheus.DefBuckets,
		}),
		MessagesByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outreach_messages",
			Help: "Number of outreach messages per status at the last stats query",
		}, []string{"status"}),
	}
}
