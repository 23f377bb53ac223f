// Package metrics exposes the Prometheus instrumentation for a channel:
// worker lifecycle, function loads, dispatch queue depth, invocation
// latency, and environment reloads. Metrics are registered at package
// init and scraped via Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker lifecycle metrics
	WorkerStartupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fnchannel_worker_startup_duration_seconds",
			Help:    "Time from process launch to a completed worker init handshake",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnchannel_worker_restarts_total",
			Help: "Total number of worker process restarts by reason",
		},
		[]string{"reason"},
	)

	ChannelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fnchannel_channel_state",
			Help: "Current channel state (1 = active, 0 = inactive) by state name",
		},
		[]string{"state"},
	)

	// Function registration metrics
	FunctionsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fnchannel_functions_loaded",
			Help: "Number of functions registered by the most recent function setup",
		},
	)

	FunctionLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fnchannel_function_load_duration_seconds",
			Help:    "Time taken to load a single function in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	FunctionLoadErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnchannel_function_load_errors_total",
			Help: "Total number of failed function load attempts by function",
		},
		[]string{"function"},
	)

	// Invocation / dispatch metrics
	InvocationsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fnchannel_invocations_in_flight",
			Help: "Number of invocations currently dispatched to the worker by function",
		},
		[]string{"function"},
	)

	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fnchannel_invocation_duration_seconds",
			Help:    "Invocation round-trip duration in seconds by function and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function", "outcome"},
	)

	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnchannel_invocations_total",
			Help: "Total number of invocations dispatched by function and outcome",
		},
		[]string{"function", "outcome"},
	)

	DispatcherQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fnchannel_dispatcher_queue_depth",
			Help: "Number of invocation requests queued for dispatch by function",
		},
		[]string{"function"},
	)

	CorrelationTableSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fnchannel_correlation_table_size",
			Help: "Number of invocation requests currently awaiting a worker response",
		},
	)

	// Environment reload metrics
	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnchannel_environment_reloads_total",
			Help: "Total number of function environment reloads by outcome",
		},
		[]string{"outcome"},
	)

	ReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fnchannel_environment_reload_duration_seconds",
			Help:    "Time taken to complete a function environment reload in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transport metrics
	TransportErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnchannel_transport_errors_total",
			Help: "Total number of transport-level stream errors by cause",
		},
		[]string{"cause"},
	)

	RpcLogsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnchannel_rpc_logs_total",
			Help: "Total number of log entries relayed from the worker by level",
		},
		[]string{"level"},
	)
)

func init() {
	prometheus.MustRegister(WorkerStartupDuration)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(ChannelState)
	prometheus.MustRegister(FunctionsLoaded)
	prometheus.MustRegister(FunctionLoadDuration)
	prometheus.MustRegister(FunctionLoadErrorsTotal)
	prometheus.MustRegister(InvocationsInFlight)
	prometheus.MustRegister(InvocationDuration)
	prometheus.MustRegister(InvocationsTotal)
	prometheus.MustRegister(DispatcherQueueDepth)
	prometheus.MustRegister(CorrelationTableSize)
	prometheus.MustRegister(ReloadsTotal)
	prometheus.MustRegister(ReloadDuration)
	prometheus.MustRegister(TransportErrorsTotal)
	prometheus.MustRegister(RpcLogsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
