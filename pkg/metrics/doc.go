/*
Package metrics provides Prometheus instrumentation for the control
plane: gauges for current state (services by status, port allocations
by type, tasks by status, connectors by provider/health), counters for
discrete events (restarts, critical failures, retries, expired
allocations), and histograms for operation latency (health checks,
discovery runs, service start time, queue latency).

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.ConnectorHealthCheckDuration, "aws")

	metrics.ServicesTotal.WithLabelValues("running").Set(3)
	metrics.ServiceRestartsTotal.WithLabelValues("api").Inc()

Metrics are registered at package init via MustRegister and exposed
through Handler() for a "/metrics" route. HealthHandler, ReadyHandler,
and LivenessHandler expose component health registered through
RegisterComponent/UpdateComponent.

Collector periodically resyncs the gauge metrics from a set of
StatusSource implementations (pkg/hypervisor.Hypervisor,
pkg/portregistry.Registry, pkg/orchestration.Engine) to correct any
drift the incremental Inc/Dec calls at mutation sites might accumulate.

# Integration Points

This package integrates with pkg/hypervisor, pkg/orchestration,
pkg/connector, and pkg/portregistry.
*/
package metrics
