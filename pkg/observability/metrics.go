package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedchat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedchat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Upstream Assistants API metrics
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedchat_upstream_requests_total",
			Help: "Total number of Assistants API requests",
		},
		[]string{"op", "outcome"},
	)

	upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedchat_upstream_request_duration_seconds",
			Help:    "Assistants API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Run polling metrics
	runPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "embedchat_run_polls_total",
			Help: "Total number of run status reads",
		},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedchat_runs_total",
			Help: "Total number of runs by final outcome",
		},
		[]string{"outcome"},
	)

	runWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "embedchat_run_wait_seconds",
			Help:    "Time spent waiting for a run to reach a terminal status",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	// Chat metrics
	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedchat_chat_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedchat_active_sessions",
			Help: "Number of live chat sessions",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			upstreamRequestsTotal,
			upstreamRequestDuration,
			runPollsTotal,
			runsTotal,
			runWaitDuration,
			chatTurnsTotal,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUpstreamRequest records one Assistants API call
func RecordUpstreamRequest(op, outcome string, duration time.Duration) {
	upstreamRequestsTotal.WithLabelValues(op, outcome).Inc()
	upstreamRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRunPoll counts a single run status read
func RecordRunPoll() {
	runPollsTotal.Inc()
}

// RecordRunOutcome records how a run ended and how long it was waited on.
// outcome is a terminal run status, "timeout" or "aborted".
func RecordRunOutcome(outcome string, waited time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runWaitDuration.Observe(waited.Seconds())
}

// RecordChatTurn records the outcome of one chat turn
func RecordChatTurn(outcome string) {
	chatTurnsTotal.WithLabelValues(outcome).Inc()
}

// SetActiveSessions sets the live session gauge
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}
