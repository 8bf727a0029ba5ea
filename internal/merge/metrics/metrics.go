package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the merge task.
type Metrics struct {
	MergesCompleted   *prometheus.CounterVec
	MergeDuration     prometheus.Histogram
	IndividualsMerged prometheus.Counter
	TicketsCreated    *prometheus.CounterVec
	Collisions        prometheus.Counter
}

// New creates a Metrics instance with all merge metrics registered.
func New() *Metrics {
	return &Metrics{
		MergesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_merge_runs_total",
			Help: "Merge attempts by outcome",
		}, []string{"outcome"}),
		MergeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_merge_duration_seconds",
			Help:    "Duration of merge transactions",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		IndividualsMerged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_merge_individuals_total",
			Help: "Individuals promoted into the golden record",
		}),
		TicketsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_merge_tickets_total",
			Help: "Grievance tickets raised during merges, by issue type",
		}, []string{"issue"}),
		Collisions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_merge_household_collisions_total",
			Help: "Households reconciled into an existing golden household",
		}),
	}
}

// ObserveMerge records one merge attempt.
func (m *Metrics) ObserveMerge(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.MergesCompleted.WithLabelValues(outcome).Inc()
	m.MergeDuration.Observe(time.Since(start).Seconds())
}

// AddIndividuals records promoted individuals.
func (m *Metrics) AddIndividuals(n int) {
	if m == nil {
		return
	}
	m.IndividualsMerged.Add(float64(n))
}

// IncTicket records one raised ticket.
func (m *Metrics) IncTicket(issue string) {
	if m == nil {
		return
	}
	m.TicketsCreated.WithLabelValues(issue).Inc()
}

// IncCollision records one reconciled household.
func (m *Metrics) IncCollision() {
	if m == nil {
		return
	}
	m.Collisions.Inc()
}
