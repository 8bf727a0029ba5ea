package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the biometric pipeline.
type Metrics struct {
	UploadsCompleted *prometheus.CounterVec
	ResultsFetched   prometheus.Counter
	PairsRecorded    prometheus.Counter
	FetchDuration    prometheus.Histogram
	LeaseRejections  prometheus.Counter
}

// New creates a Metrics instance with all biometric metrics registered.
func New() *Metrics {
	return &Metrics{
		UploadsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_biometric_uploads_total",
			Help: "Image upload rounds per import by outcome",
		}, []string{"outcome"}),
		ResultsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_biometric_result_fetches_total",
			Help: "Completed result ingestion rounds",
		}),
		PairsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_biometric_pairs_total",
			Help: "Similarity pairs recorded from engine results",
		}),
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_biometric_fetch_duration_seconds",
			Help:    "Duration of result ingestion rounds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60},
		}),
		LeaseRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_biometric_lease_rejections_total",
			Help: "Upload rounds skipped because another round held the program lease",
		}),
	}
}

// ObserveUpload records one upload round.
func (m *Metrics) ObserveUpload(outcome string) {
	if m == nil {
		return
	}
	m.UploadsCompleted.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one result ingestion round.
func (m *Metrics) ObserveFetch(pairs int, start time.Time) {
	if m == nil {
		return
	}
	m.ResultsFetched.Inc()
	m.PairsRecorded.Add(float64(pairs))
	m.FetchDuration.Observe(time.Since(start).Seconds())
}

// IncLeaseRejection records a skipped round.
func (m *Metrics) IncLeaseRejection() {
	if m == nil {
		return
	}
	m.LeaseRejections.Inc()
}
