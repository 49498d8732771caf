package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. Every method is safe
// on a nil receiver so components run without metrics in tests.
type Metrics struct {
	IngestOutcomes  *prometheus.CounterVec
	IngestDuration  *prometheus.HistogramVec
	MergeResults    *prometheus.CounterVec
	JobRuns         *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	EventsRecovered *prometheus.CounterVec
	TagPushes       *prometheus.CounterVec
	MessagesDLQ     *prometheus.CounterVec
	OperatorDenied  *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		IngestOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supporterhub_ingest_outcomes_total",
			Help: "Ingested messages by source and outcome",
		}, []string{"source", "outcome"}),
		IngestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "supporterhub_ingest_duration_seconds",
			Help:    "Duration of one ingest transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"source"}),
		MergeResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supporterhub_merges_total",
			Help: "Merge attempts by result",
		}, []string{"result"}),
		JobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supporterhub_job_runs_total",
			Help: "Scheduled job runs by job and status",
		}, []string{"job", "status"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "supporterhub_job_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),
		EventsRecovered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supporterhub_reconcile_events_recovered_total",
			Help: "Events inserted by reconciliation, by source",
		}, []string{"source"}),
		TagPushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supporterhub_tag_pushes_total",
			Help: "Audience tag pushes by system and result",
		}, []string{"system", "result"}),
		MessagesDLQ: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supporterhub_messages_dead_lettered_total",
			Help: "Queue messages sent to a dead-letter topic",
		}, []string{"topic"}),
		OperatorDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supporterhub_operator_requests_denied_total",
			Help: "Operator route calls refused for a missing or wrong token",
		}, []string{"reason"}),
	}
}

// RecordIngest counts one ingest outcome and its duration.
func (m *Metrics) RecordIngest(source, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.IngestOutcomes.WithLabelValues(source, outcome).Inc()
	m.IngestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordMerge(result string) {
	if m == nil {
		return
	}
	m.MergeResults.WithLabelValues(result).Inc()
}

// RecordJobRun counts a finished run. Call with time.Now() from the start of
// the run.
func (m *Metrics) RecordJobRun(job, status string, start time.Time) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddRecovered(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsRecovered.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) RecordTagPush(system, result string) {
	if m == nil {
		return
	}
	m.TagPushes.WithLabelValues(system, result).Inc()
}

func (m *Metrics) IncrementDeadLettered(topic string) {
	if m == nil {
		return
	}
	m.MessagesDLQ.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordOperatorRejection(reason string) {
	if m == nil {
		return
	}
	m.OperatorDenied.WithLabelValues(reason).Inc()
}
