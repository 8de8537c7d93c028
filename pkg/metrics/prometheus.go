package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cryptodaily"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	lastCycle       *prometheus.GaugeVec
	assets          *prometheus.CounterVec
	barsAppended    prometheus.Counter
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	upstreamRetries *prometheus.CounterVec
	sinkErrors      *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
}

// New creates a Prometheus metrics recorder registered on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_cycles_total",
				Help:      "Sync passes by kind and result",
			},
			[]string{"kind", "result"},
		),
		cycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_cycle_duration_seconds",
				Help:      "Wall time of one sync pass",
				Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"kind"},
		),
		lastCycle: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sync_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful sync pass",
			},
			[]string{"kind"},
		),
		assets: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_assets_total",
				Help:      "Per-asset sync outcomes",
			},
			[]string{"outcome"},
		),
		barsAppended: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bars_appended_total",
				Help:      "Daily bars appended to storage",
			},
		),
		upstreamTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Upstream requests by endpoint and result",
			},
			[]string{"endpoint", "result"},
		),
		upstreamLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Duration of upstream requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		upstreamRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_retries_total",
				Help:      "Upstream retries after a transient failure",
			},
			[]string{"endpoint"},
		),
		sinkErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Failed deliveries to bar sinks",
			},
			[]string{"sink"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordCycle records one finished sync pass; kind is cycle, daily or bootstrap.
func (r *Recorder) RecordCycle(kind, result string, seconds float64) {
	r.cycles.WithLabelValues(kind, result).Inc()
	r.cycleDuration.WithLabelValues(kind).Observe(seconds)
	if result == "ok" {
		r.lastCycle.WithLabelValues(kind).SetToCurrentTime()
	}
}

// RecordAsset records one per-asset outcome.
func (r *Recorder) RecordAsset(outcome string) {
	r.assets.WithLabelValues(outcome).Inc()
}

// RecordBarsAppended adds n appended bars.
func (r *Recorder) RecordBarsAppended(n int) {
	if n > 0 {
		r.barsAppended.Add(float64(n))
	}
}

// RecordUpstreamRequest records one upstream request attempt.
func (r *Recorder) RecordUpstreamRequest(endpoint, result string, seconds float64) {
	r.upstreamTotal.WithLabelValues(endpoint, result).Inc()
	r.upstreamLatency.WithLabelValues(endpoint).Observe(seconds)
}

// RecordUpstreamRetry records a retry scheduled after a transient failure.
func (r *Recorder) RecordUpstreamRetry(endpoint string) {
	r.upstreamRetries.WithLabelValues(endpoint).Inc()
}

// RecordSinkError records a failed sink delivery.
func (r *Recorder) RecordSinkError(sink string) {
	r.sinkErrors.WithLabelValues(sink).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordCycle(string, string, float64)           {}
func (Nop) RecordAsset(string)                            {}
func (Nop) RecordBarsAppended(int)                        {}
func (Nop) RecordUpstreamRequest(string, string, float64) {}
func (Nop) RecordUpstreamRetry(string)                    {}
func (Nop) RecordSinkError(string)                        {}
func (Nop) RecordError(string)                            {}
