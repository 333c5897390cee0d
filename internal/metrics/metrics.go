// Package metrics exposes Prometheus collectors for the grid crawler.
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

var (
	crawlerTasksTotal           *prometheus.CounterVec
	crawlerCandidatesTotal      *prometheus.CounterVec
	crawlerPersistFailuresTotal prometheus.Counter
	crawlerAreasTotal           *prometheus.CounterVec
	crawlerActiveWorkers        prometheus.Gauge
	crawlerOpenSessions         prometheus.Gauge
	crawlerTaskDurationSeconds  *prometheus.HistogramVec
	crawlerRateLimitDelays      prometheus.Histogram
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Candidate dispositions recorded by ObserveCandidates.
const (
	CandidateRejected  = "geofence_rejected"
	CandidateDuplicate = "duplicate"
	CandidatePersisted = "persisted"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poicrawl_tasks_total",
				Help: "Search tasks processed, labeled by area and outcome.",
			},
			[]string{"area", "outcome"},
		)

		crawlerCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poicrawl_candidates_total",
				Help: "Search hits by disposition.",
			},
			[]string{"disposition"},
		)

		crawlerPersistFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "poicrawl_persist_failures_total",
				Help: "Claimed records that could not be written to the sink.",
			},
		)

		crawlerAreasTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poicrawl_areas_total",
				Help: "Areas processed, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "poicrawl_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		crawlerOpenSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "poicrawl_open_sessions",
				Help: "Browsing sessions currently open.",
			},
		)

		crawlerTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poicrawl_task_duration_seconds",
				Help:    "Histogram of task durations, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"outcome"},
		)

		crawlerRateLimitDelays = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "poicrawl_rate_limit_delays_seconds",
				Help:    "Histogram of politeness limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
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

// ObserveTask records one finished task.
func ObserveTask(area, outcome string, duration time.Duration) {
	Init()
	crawlerTasksTotal.WithLabelValues(area, outcome).Inc()
	crawlerTaskDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveCandidates adds n candidates with the given disposition.
func ObserveCandidates(disposition string, n int) {
	if n <= 0 {
		return
	}
	Init()
	crawlerCandidatesTotal.WithLabelValues(disposition).Add(float64(n))
}

// ObservePersistFailure increments the persistence failure counter.
func ObservePersistFailure() {
	Init()
	crawlerPersistFailuresTotal.Inc()
}

// ObserveArea increments the area counter for the given status.
func ObserveArea(status string) {
	Init()
	crawlerAreasTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// SetOpenSessions records the number of open browsing sessions.
func SetOpenSessions(n int) {
	Init()
	crawlerOpenSessions.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	crawlerRateLimitDelays.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
