package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "minicloud_tasks_total",
			Help: "Total number of tasks by type and status",
		},
		[]string{"type", "status"},
	)

	WorkerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minicloud_worker_jobs_total",
			Help: "Total number of payloads processed by result",
		},
		[]string{"result"},
	)

	// GPU admission metrics
	GPUUsedMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minicloud_gpu_used_mb",
			Help: "Outstanding GPU slice allocations in MB",
		},
	)

	GPUTotalMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minicloud_gpu_total_mb",
			Help: "Configured GPU budget in MB",
		},
	)

	GPUQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minicloud_gpu_queue_depth",
			Help: "Payloads parked in the GPU wait queue",
		},
	)

	// Worker queue metrics
	QueuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minicloud_queue_pending",
			Help: "Jobs waiting in the worker queue",
		},
	)

	QueueInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minicloud_queue_inflight",
			Help: "Jobs currently leased by workers",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minicloud_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minicloud_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	LogSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minicloud_log_subscribers",
			Help: "Connected live log subscribers",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(WorkerJobsTotal)
	prometheus.MustRegister(GPUUsedMB)
	prometheus.MustRegister(GPUTotalMB)
	prometheus.MustRegister(GPUQueueDepth)
	prometheus.MustRegister(QueuePending)
	prometheus.MustRegister(QueueInflight)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(LogSubscribers)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveAPIRequest records one request's duration and outcome
func (t *Timer) ObserveAPIRequest(method, status string) {
	APIRequestsTotal.WithLabelValues(method, status).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(t.Duration().Seconds())
}
