package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the deduplication module.
type Metrics struct {
	RunsCompleted   *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	IndividualsSeen prometheus.Counter
	QuotaAborts     *prometheus.CounterVec
}

// New creates a Metrics instance with all deduplication metrics registered.
func New() *Metrics {
	return &Metrics{
		RunsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_dedup_runs_total",
			Help: "Completed batch deduplication runs by outcome",
		}, []string{"outcome"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_dedup_run_duration_seconds",
			Help:    "Duration of full batch deduplication runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		IndividualsSeen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_dedup_individuals_total",
			Help: "Individuals evaluated by the deduplication engine",
		}),
		QuotaAborts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_dedup_quota_aborts_total",
			Help: "Deduplication runs aborted by quota breaches, by quota kind",
		}, []string{"quota"}),
	}
}

// ObserveRun records a completed run.
func (m *Metrics) ObserveRun(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.RunsCompleted.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
}

// IncQuotaAbort records a quota-breach abort.
func (m *Metrics) IncQuotaAbort(quota string) {
	if m == nil {
		return
	}
	m.QuotaAborts.WithLabelValues(quota).Inc()
}

// AddIndividuals records engine evaluations.
func (m *Metrics) AddIndividuals(n int) {
	if m == nil {
		return
	}
	m.IndividualsSeen.Add(float64(n))
}
