// Package metrics exposes admission engine counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"classcheckin/internal/attendance"
)

// Collector records engine activity. It satisfies attendance.Observer.
type Collector struct {
	admissions  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	tokens      prometheus.Counter
}

var _ attendance.Observer = (*Collector)(nil)

// New registers the engine metrics on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkin",
			Name:      "admissions_total",
			Help:      "Check-in attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkin",
			Name:      "admission_duration_seconds",
			Help:      "Time spent admitting a check-in.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkin",
			Name:      "session_transitions_total",
			Help:      "Sessions moved to a terminal status.",
		}, []string{"status"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkin",
			Name:      "tokens_issued_total",
			Help:      "Check-in tokens issued.",
		}),
	}
	reg.MustRegister(c.admissions, c.latency, c.transitions, c.tokens)
	return c
}

func (c *Collector) ObserveAdmission(ch attendance.Channel, outcome string, elapsed time.Duration) {
	c.admissions.WithLabelValues(string(ch), outcome).Inc()
	c.latency.WithLabelValues(string(ch)).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveTransition(st attendance.SessionStatus) {
	c.transitions.WithLabelValues(string(st)).Inc()
}

func (c *Collector) ObserveTokenIssued() {
	c.tokens.Inc()
}
