// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

const namespace = "invoice_ledger"

// Recorder implements pipeline.Observer.
type Recorder struct {
	files          *prometheus.CounterVec
	fileDuration   prometheus.Histogram
	extractorCalls *prometheus.CounterVec
	extractorTime  *prometheus.HistogramVec
	saves          *prometheus.CounterVec
	saveDuration   prometheus.Histogram
	exportedRows   prometheus.Counter
	exportErrors   prometheus.Counter
}

// NewRecorder registers the collectors on reg. Registering twice on the same
// registry fails.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files handled, by final status. Skipped files carry status \"skipped\".",
		}, []string{"status", "reparsed"}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Wall time spent on one processed file.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		extractorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_calls_total",
			Help:      "Extractor calls, by pass and outcome kind.",
		}, []string{"pass", "result"}),
		extractorTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extractor_call_duration_seconds",
			Help:      "Latency of extractor calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"pass"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_saves_total",
			Help:      "Ledger saves, by result.",
		}, []string{"result"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_save_duration_seconds",
			Help:      "Latency of ledger saves.",
			Buckets:   prometheus.DefBuckets,
		}),
		exportedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_rows_total",
			Help:      "Rows written by successful exports.",
		}),
		exportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "Failed exports.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.files, r.fileDuration, r.extractorCalls, r.extractorTime,
		r.saves, r.saveDuration, r.exportedRows, r.exportErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) ObserveOutcome(o entity.ProcessingOutcome) {
	if o.Skipped {
		r.files.WithLabelValues("skipped", "false").Inc()
		return
	}
	r.files.WithLabelValues(string(o.Status), boolLabel(o.Reparsed)).Inc()
	r.fileDuration.Observe(o.Duration.Seconds())
}

func (r *Recorder) ObserveExtractorCall(pass string, elapsed time.Duration, err error) {
	r.extractorCalls.WithLabelValues(pass, resultLabel(err)).Inc()
	r.extractorTime.WithLabelValues(pass).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveSave(elapsed time.Duration, err error) {
	r.saves.WithLabelValues(resultLabel(err)).Inc()
	r.saveDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveExport(rows int, err error) {
	if err != nil {
		r.exportErrors.Inc()
		return
	}
	r.exportedRows.Add(float64(rows))
}

// resultLabel is "ok" or the error kind.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return common.KindOf(err)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
