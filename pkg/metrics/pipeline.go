package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "events_collector"

// PipelineMetrics records ingestion progress. A nil receiver is a no-op.
type PipelineMetrics struct {
	consumed      *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	buffered      *prometheus.CounterVec
	flushed       *prometheus.CounterVec
	flushFailures *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec
	pending       *prometheus.GaugeVec
	commits       *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_consumed_total",
		Help:      "Broker messages received, by topic.",
	}, []string{"topic"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_skipped_total",
		Help:      "Messages dropped without producing a row, by reason.",
	}, []string{"reason"})
	buffered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_buffered_total",
		Help:      "Rows appended to a batch buffer, by table.",
	}, []string{"table"})
	flushed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_flushed_total",
		Help:      "Rows durably written to the store, by table.",
	}, []string{"table"})
	flushFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flush_failures_total",
		Help:      "Failed bulk inserts, by table.",
	}, []string{"table"})
	flushDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_duration_seconds",
		Help:      "Duration of bulk inserts in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"table"})
	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_rows",
		Help:      "Rows currently waiting in a batch buffer, by table.",
	}, []string{"table"})
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offset_commits_total",
		Help:      "Synchronous offset commits, by result.",
	}, []string{"result"})
	reg.MustRegister(consumed, skipped, buffered, flushed, flushFailures, flushDuration, pending, commits)
	return &PipelineMetrics{
		consumed:      consumed,
		skipped:       skipped,
		buffered:      buffered,
		flushed:       flushed,
		flushFailures: flushFailures,
		flushDuration: flushDuration,
		pending:       pending,
		commits:       commits,
	}
}

func (m *PipelineMetrics) IncConsumed(topic string) {
	if m == nil || m.consumed == nil {
		return
	}
	m.consumed.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *PipelineMetrics) IncSkipped(reason string) {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveBuffered counts one appended row and publishes the buffer depth.
func (m *PipelineMetrics) ObserveBuffered(table string, depth int) {
	if m == nil || m.buffered == nil {
		return
	}
	table = normalizeLabel(table)
	m.buffered.WithLabelValues(table).Inc()
	m.pending.WithLabelValues(table).Set(float64(depth))
}

// ObserveFlush records one bulk insert attempt.
func (m *PipelineMetrics) ObserveFlush(table string, rows int, duration time.Duration, err error) {
	if m == nil || m.flushDuration == nil {
		return
	}
	table = normalizeLabel(table)
	m.flushDuration.WithLabelValues(table).Observe(duration.Seconds())
	if err != nil {
		m.flushFailures.WithLabelValues(table).Inc()
		return
	}
	m.flushed.WithLabelValues(table).Add(float64(rows))
	m.pending.WithLabelValues(table).Set(0)
}

func (m *PipelineMetrics) IncCommit(err error) {
	if m == nil || m.commits == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.commits.WithLabelValues(result).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
