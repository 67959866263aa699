// Package metrics exposes Prometheus collectors for the price crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes recorded by ObserveJob.
const (
	JobSaved       = "saved"
	JobSavedEmpty  = "saved_empty"
	JobWriteFailed = "write_failed"
	JobSessionLost = "session_failed"
)

var (
	jobsTotal                  *prometheus.CounterVec
	agentAttemptsTotal         *prometheus.CounterVec
	activeSessions             prometheus.Gauge
	launchDelaySeconds         prometheus.Histogram
	reportRows                 prometheus.Gauge
	sinkUploadsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecrawl_jobs_total",
				Help: "Jobs that reached a terminal state, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		agentAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecrawl_agent_attempts_total",
				Help: "Agent invocations, labeled by normalized outcome.",
			},
			[]string{"outcome"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricecrawl_active_sessions",
				Help: "Browsing sessions currently open.",
			},
		)

		launchDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricecrawl_launch_delay_seconds",
				Help:    "Time a worker waited for the launch pacer.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		reportRows = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricecrawl_report_rows",
				Help: "Rows in the most recently built report.",
			},
		)

		sinkUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecrawl_sink_uploads_total",
				Help: "Report uploads, labeled by sink and status.",
			},
			[]string{"sink", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob counts a job reaching a terminal outcome.
func ObserveJob(outcome string) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAttempt counts one agent invocation.
func ObserveAttempt(outcome string) {
	Init()
	agentAttemptsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveSessions increments the open sessions gauge.
func IncActiveSessions() {
	Init()
	activeSessions.Inc()
}

// DecActiveSessions decrements the open sessions gauge.
func DecActiveSessions() {
	Init()
	activeSessions.Dec()
}

// ObserveLaunchDelay records how long a launch waited for the pacer.
func ObserveLaunchDelay(d time.Duration) {
	Init()
	launchDelaySeconds.Observe(d.Seconds())
}

// SetReportRows records the size of the last report.
func SetReportRows(n int) {
	Init()
	reportRows.Set(float64(n))
}

// ObserveSinkUpload counts a report upload attempt.
func ObserveSinkUpload(sink string, err error) {
	Init()
	status := "ok"
	if err != nil {
		status = "error"
	}
	sinkUploadsTotal.WithLabelValues(sink, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
