// Package export exposes ccwc's Prometheus metrics.
package export

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/ccwc/internal/counter"
)

const namespace = "ccwc"

// Metrics holds the Prometheus collectors recorded by the CLI and the
// counting service.
type Metrics struct {
	log      logrus.FieldLogger
	registry *prometheus.Registry

	InputsCounted    *prometheus.CounterVec // result (ok/error)
	BytesCounted     prometheus.Counter
	LinesCounted     prometheus.Counter
	WordsCounted     prometheus.Counter
	CharsCounted     prometheus.Counter
	CountDuration    prometheus.Histogram
	RequestsTotal    *prometheus.CounterVec // code
	RequestDuration  prometheus.Histogram
	RequestsInFlight prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics(log logrus.FieldLogger) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		log:      log.WithField("component", "metrics"),
		registry: reg,

		InputsCounted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inputs_counted_total",
				Help:      "Total inputs counted by result.",
			},
			[]string{"result"},
		),
		BytesCounted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_counted_total",
			Help:      "Total bytes counted.",
		}),
		LinesCounted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_counted_total",
			Help:      "Total lines counted.",
		}),
		WordsCounted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_counted_total",
			Help:      "Total words counted.",
		}),
		CharsCounted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chars_counted_total",
			Help:      "Total characters counted.",
		}),
		CountDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "count_duration_seconds",
			Help:      "Time to count a single input.",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 60}, // 100us-60s
		}),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total count requests by status code.",
			},
			[]string{"code"},
		),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Count request duration.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, // 1ms-5s
		}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Count requests currently being served.",
		}),
	}

	reg.MustRegister(
		m.InputsCounted,
		m.BytesCounted,
		m.LinesCounted,
		m.WordsCounted,
		m.CharsCounted,
		m.CountDuration,
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveInput records the outcome of counting one input.
func (m *Metrics) ObserveInput(
	enabled counter.Metric,
	totals counter.Totals,
	took time.Duration,
	err error,
) {
	if m == nil {
		return
	}

	m.ObserveResult(took, err)

	if err == nil {
		m.AddTotals(enabled, totals)
	}
}

// ObserveResult records the duration and result of one input without
// its counts.
func (m *Metrics) ObserveResult(took time.Duration, err error) {
	if m == nil {
		return
	}

	m.CountDuration.Observe(took.Seconds())

	if err != nil {
		m.InputsCounted.WithLabelValues("error").Inc()

		return
	}

	m.InputsCounted.WithLabelValues("ok").Inc()
}

// AddTotals adds counts to the running totals. Only enabled metrics are
// added.
func (m *Metrics) AddTotals(enabled counter.Metric, totals counter.Totals) {
	if m == nil {
		return
	}

	if enabled.Has(counter.Bytes) {
		m.BytesCounted.Add(float64(totals.Bytes))
	}

	if enabled.Has(counter.Lines) {
		m.LinesCounted.Add(float64(totals.Lines))
	}

	if enabled.Has(counter.Words) {
		m.WordsCounted.Add(float64(totals.Words))
	}

	if enabled.Has(counter.Chars) {
		m.CharsCounted.Add(float64(totals.Chars))
	}
}

// ObserveRequest records one served count request.
func (m *Metrics) ObserveRequest(code int, took time.Duration) {
	if m == nil {
		return
	}

	m.RequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	m.RequestDuration.Observe(took.Seconds())
}

// TrackInFlight adjusts the in-flight request gauge by delta.
func (m *Metrics) TrackInFlight(delta float64) {
	if m == nil {
		return
	}

	m.RequestsInFlight.Add(delta)
}

// Register mounts /metrics, /healthz and the pprof endpoints on mux.
func (m *Metrics) Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// WriteTextfile writes all metrics to path in the text exposition format,
// for pickup by node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}

	m.log.WithField("path", path).Debug("Wrote metrics textfile")

	return nil
}
