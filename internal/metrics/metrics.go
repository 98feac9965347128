// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Host check outcomes
const (
	OutcomeSuccess          = "success"
	OutcomeTimeout          = "timeout"
	OutcomeBadCredentials   = "bad_credentials"
	OutcomeRejected         = "rejected"
	OutcomeNotAuthenticated = "not_authenticated"
	OutcomeFatal            = "fatal"
)

// Run results
const (
	RunOK    = "ok"
	RunFatal = "fatal"
	RunBusy  = "busy"
)

var (
	ProbeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostping_probe_runs_total",
			Help: "Total number of probe runs by result",
		},
		[]string{"result"},
	)

	ProbeRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostping_probe_run_duration_seconds",
			Help:    "Wall time of a complete probe run",
			Buckets: []float64{0.1, 0.5, 1, 3, 5, 10, 30, 60, 120, 300},
		},
	)

	HostChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostping_host_checks_total",
			Help: "Total number of per-host connectivity checks by outcome",
		},
		[]string{"outcome"},
	)

	StreamSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostping_stream_subscribers",
			Help: "Number of connected event stream clients",
		},
		[]string{"transport"},
	)

	StreamLaggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostping_stream_lagged_messages_total",
			Help: "Messages skipped because a stream client fell behind",
		},
		[]string{"transport"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostping_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostping_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
