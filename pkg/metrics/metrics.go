package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Op Processor metrics
	OpsRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_ops_recorded_total",
			Help: "Total number of InternalOperation records written by the op processor, by kind and dependency",
		},
		[]string{"kind", "dependent"},
	)

	OpsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_ops_rejected_total",
			Help: "Total number of OpMutation records rejected by the op processor, by error class",
		},
		[]string{"reason"},
	)

	RecordOpsDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warehouse_record_ops_duration_seconds",
			Help:    "Time taken for a single record_ops write batch to commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	DependentOpsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warehouse_dependent_ops_generated_total",
			Help: "Total number of dependent operations synthesized while resolving issue-without-batch",
		},
	)

	NegativeBalanceIssuesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warehouse_negative_balance_issues_total",
			Help: "Total number of Manual-mode issues that drove a balance negative because FIFO allocation could not fully cover the requested qty",
		},
	)

	// Checkpoint Topology metrics
	CheckpointsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warehouse_checkpoints_created_total",
			Help: "Total number of new month-boundary checkpoints created",
		},
	)

	CheckpointReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warehouse_checkpoint_replay_duration_seconds",
			Help:    "Time taken to replay the ordered topology between the nearest checkpoint and a new boundary",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Query surface metrics
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warehouse_query_duration_seconds",
			Help:    "Time taken to answer a query, by query kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Document Log metrics
	DocumentsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warehouse_documents_written_total",
			Help: "Total number of document versions written to the document log",
		},
	)

	DocumentProjectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warehouse_document_projection_duration_seconds",
			Help:    "Time taken to project a document's before/after bodies into OpMutation records",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		OpsRecordedTotal,
		OpsRejectedTotal,
		RecordOpsDuration,
		DependentOpsGenerated,
		NegativeBalanceIssuesTotal,
		CheckpointsCreatedTotal,
		CheckpointReplayDuration,
		QueryDuration,
		DocumentsWrittenTotal,
		DocumentProjectionDuration,
	)
}

// Handler exposes the registered metrics over HTTP. The engine never
// starts a listener itself; whatever surface embeds it mounts this
// wherever it serves.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures one operation from construction to the Observe call
// that closes it. A single timer may close into several histograms;
// each reads the clock independently.
type Timer struct {
	started time.Time
}

// NewTimer starts timing immediately.
func NewTimer() *Timer {
	return &Timer{started: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.started)
}

// ObserveDuration closes the measurement into a plain histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Elapsed().Seconds())
}

// ObserveDurationVec closes the measurement into one labelled series of
// a histogram vec.
func (t *Timer) ObserveDurationVec(v prometheus.ObserverVec, labels ...string) {
	v.WithLabelValues(labels...).Observe(t.Elapsed().Seconds())
}
