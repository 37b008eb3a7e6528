package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IngestMetrics counts what the ingestion pipeline does to each batch.
type IngestMetrics struct {
	EventsIngested prometheus.Counter
	EventsRejected prometheus.Counter
	SignalsEmitted prometheus.Counter
	JobsEnqueued   prometheus.Counter
}

func NewIngestMetrics(registerer prometheus.Registerer) *IngestMetrics {
	factory := promauto.With(registerer)
	return &IngestMetrics{
		EventsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "haruspex_events_ingested_total",
			Help: "Canonical events written to the event store.",
		}),
		EventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "haruspex_events_rejected_total",
			Help: "Raw events rejected during normalization.",
		}),
		SignalsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "haruspex_signals_emitted_total",
			Help: "Anomaly signals derived from ingested events.",
		}),
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "haruspex_analysis_jobs_enqueued_total",
			Help: "Analysis jobs created by the escalation scheduler.",
		}),
	}
}
