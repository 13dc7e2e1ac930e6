package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Hypervisor metrics
	ServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sirsi_services_total",
			Help: "Total number of managed services by status",
		},
		[]string{"status"},
	)

	ServiceRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirsi_service_restarts_total",
			Help: "Total number of service restarts by service name",
		},
		[]string{"service"},
	)

	ServiceStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sirsi_service_start_duration_seconds",
			Help:    "Time taken to start a managed service in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CriticalFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirsi_critical_failures_total",
			Help: "Total number of services that exhausted their failure threshold",
		},
		[]string{"service"},
	)

	// Port registry metrics
	PortAllocationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sirsi_port_allocations_total",
			Help: "Current number of port allocations by service type",
		},
		[]string{"service_type"},
	)

	PortAllocationsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sirsi_port_allocations_expired_total",
			Help: "Total number of port allocations reaped after TTL expiry",
		},
	)

	PortExhaustionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirsi_port_exhaustion_total",
			Help: "Total number of allocation attempts that failed because a range was full",
		},
		[]string{"service_type"},
	)

	// Connector metrics
	ConnectorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sirsi_connectors_total",
			Help: "Total number of registered connectors by provider and health status",
		},
		[]string{"provider", "status"},
	)

	ConnectorHealthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sirsi_connector_health_check_duration_seconds",
			Help:    "Time taken for a connector health check in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ConnectorDiscoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sirsi_connector_discovery_duration_seconds",
			Help:    "Time taken for a connector resource discovery run in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ConnectorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirsi_connector_errors_total",
			Help: "Total number of connector operation errors by provider and operation",
		},
		[]string{"provider", "operation"},
	)

	// Orchestration engine metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sirsi_tasks_total",
			Help: "Current number of tasks by status",
		},
		[]string{"status"},
	)

	TaskQueueLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sirsi_task_queue_latency_seconds",
			Help:    "Time a task spent queued before assignment, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirsi_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal status",
		},
		[]string{"task_type", "status"},
	)

	TaskRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirsi_task_retries_total",
			Help: "Total number of task retry attempts by task type",
		},
		[]string{"task_type"},
	)
)

func init() {
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(ServiceRestartsTotal)
	prometheus.MustRegister(ServiceStartDuration)
	prometheus.MustRegister(CriticalFailuresTotal)

	prometheus.MustRegister(PortAllocationsTotal)
	prometheus.MustRegister(PortAllocationsExpiredTotal)
	prometheus.MustRegister(PortExhaustionTotal)

	prometheus.MustRegister(ConnectorsTotal)
	prometheus.MustRegister(ConnectorHealthCheckDuration)
	prometheus.MustRegister(ConnectorDiscoveryDuration)
	prometheus.MustRegister(ConnectorErrorsTotal)

	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskQueueLatency)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TaskRetriesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
