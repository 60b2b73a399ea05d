package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_jobs_enqueued_total",
			Help: "Total jobs enqueued by type",
		},
		[]string{"type"},
	)

	enqueuesDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_enqueues_deduplicated_total",
			Help: "Enqueue calls collapsed by an existing idempotency key",
		},
		[]string{"type"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_jobs_processed_total",
			Help: "Total jobs finished by type and terminal status",
		},
		[]string{"type", "status"},
	)

	jobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_jobs_retried_total",
			Help: "Total job attempts rescheduled with backoff",
		},
		[]string{"type"},
	)

	jobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_job_queue_depth",
			Help: "Pending jobs whose execute_at has passed",
		},
	)

	eventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_events_processed_total",
			Help: "Total events consumed by the router, by event type",
		},
		[]string{"event_type"},
	)

	eventsLoopBroken = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_events_loop_broken_total",
			Help: "Events dropped by the chain-depth loop breaker",
		},
	)

	eventBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_event_backlog",
			Help: "Unprocessed events awaiting the router",
		},
	)

	runsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_runs_created_total",
			Help: "Automation runs spawned, by trigger type",
		},
		[]string{"trigger_type"},
	)

	runsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_runs_finished_total",
			Help: "Automation runs reaching a terminal status",
		},
		[]string{"status"},
	)

	stepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_steps_executed_total",
			Help: "Automation steps executed, by step type",
		},
		[]string{"step_type"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"tenant_id"},
	)

	deadLettersPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_dead_letters_published_total",
			Help: "Terminally failed jobs shipped to the dead letter queue",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordJobEnqueued records a successful enqueue
func RecordJobEnqueued(jobType string) {
	jobsEnqueued.WithLabelValues(jobType).Inc()
}

// RecordEnqueueDeduplicated records an enqueue collapsed by idempotency
func RecordEnqueueDeduplicated(jobType string) {
	enqueuesDeduplicated.WithLabelValues(jobType).Inc()
}

// RecordJobProcessed records a job reaching completed or failed
func RecordJobProcessed(jobType, status string) {
	jobsProcessed.WithLabelValues(jobType, status).Inc()
}

// RecordJobRetried records a backoff reschedule
func RecordJobRetried(jobType string) {
	jobsRetried.WithLabelValues(jobType).Inc()
}

// SetJobQueueDepth sets the due-job gauge
func SetJobQueueDepth(n int64) {
	jobQueueDepth.Set(float64(n))
}

// RecordEventProcessed records a router-consumed event
func RecordEventProcessed(eventType string) {
	eventsProcessed.WithLabelValues(eventType).Inc()
}

// RecordLoopBroken records a chain-depth drop
func RecordLoopBroken() {
	eventsLoopBroken.Inc()
}

// SetEventBacklog sets the unprocessed-event gauge
func SetEventBacklog(n int64) {
	eventBacklog.Set(float64(n))
}

// RecordRunCreated records a spawned automation run
func RecordRunCreated(triggerType string) {
	runsCreated.WithLabelValues(triggerType).Inc()
}

// RecordRunFinished records a run reaching completed or cancelled
func RecordRunFinished(status string) {
	runsFinished.WithLabelValues(status).Inc()
}

// RecordStepExecuted records one interpreted automation step
func RecordStepExecuted(stepType string) {
	stepsExecuted.WithLabelValues(stepType).Inc()
}

// RecordDeadLetterPublished records a job shipped to the dead letter queue
func RecordDeadLetterPublished(jobType string) {
	deadLettersPublished.WithLabelValues(jobType).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(tenantID string) {
	rateLimitRejections.WithLabelValues(tenantID).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
