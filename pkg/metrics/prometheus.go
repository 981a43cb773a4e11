package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticks         *prometheus.CounterVec
	modelErrors   *prometheus.CounterVec
	modelLatency  *prometheus.HistogramVec
	resolutions   *prometheus.CounterVec
	pendingRows   prometheus.Gauge
	lastMid       prometheus.Gauge
	rowsPersisted *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpcast_ticks_total",
				Help: "Total tick loop iterations by result",
			},
			[]string{"result"},
		),
		modelErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpcast_model_errors_total",
				Help: "Total scoring failures per model",
			},
			[]string{"model"},
		),
		modelLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perpcast_model_score_duration_seconds",
				Help:    "Per-model scoring latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		resolutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpcast_resolutions_total",
				Help: "Outcome resolutions by horizon and status",
			},
			[]string{"horizon", "status"},
		),
		pendingRows: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "perpcast_pending_rows",
				Help: "Rows awaiting outcome resolution",
			},
		),
		lastMid: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "perpcast_last_mid",
				Help: "Last observed mid price",
			},
		),
		rowsPersisted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpcast_rows_persisted_total",
				Help: "Rows written per sink",
			},
			[]string{"sink"},
		),
	}
}

// RecordTick records one tick loop iteration.
func (r *Recorder) RecordTick(result string) {
	r.ticks.WithLabelValues(result).Inc()
}

// RecordModelError records a scoring failure.
func (r *Recorder) RecordModelError(model string) {
	r.modelErrors.WithLabelValues(model).Inc()
}

// RecordModelLatency records scoring latency in seconds.
func (r *Recorder) RecordModelLatency(model string, seconds float64) {
	r.modelLatency.WithLabelValues(model).Observe(seconds)
}

// RecordResolution records an outcome resolution.
func (r *Recorder) RecordResolution(horizon, status string) {
	r.resolutions.WithLabelValues(horizon, status).Inc()
}

// RecordPendingRows records the pending row count.
func (r *Recorder) RecordPendingRows(n int) {
	r.pendingRows.Set(float64(n))
}

// RecordLastMid records the last observed mid price.
func (r *Recorder) RecordLastMid(price float64) {
	r.lastMid.Set(price)
}

// RecordRowPersisted records a row written to a sink.
func (r *Recorder) RecordRowPersisted(sink string) {
	r.rowsPersisted.WithLabelValues(sink).Inc()
}
