/*
Package hypervisor implements the Hypervisor (C5): a registry of
managed internal services with a single control loop that applies
every command to that registry. The delayed restart that a failure
schedules runs on its own goroutine and writes the registry under the
same mutex, outside the loop.

# Control Loop

Every exported method (StartService, StopService, RestartService,
ServiceHealthCheck, ServiceFailure, ServiceRecovery,
EmergencyShutdown, GetSystemStatus) enqueues a command onto an
internal channel and blocks for the loop's response, so command
ordering as observed by callers matches processing order. Two
periodic ticks — health check and status aggregation — run in the
same loop alongside command dispatch.

# Restart Policy

A failure increments RestartCount and schedules a restart after
clock.Backoff(base, cap, RestartCount). A service whose RestartCount
reaches FailureThreshold, or whose AutoRestart is false, moves to
CriticalFailure instead — a state GetSystemStatus surfaces but does
not recover from automatically.

# Dependencies

StartService for a service naming unsatisfied Dependencies parks it
in Starting rather than failing; a later StartService call for the
same name, once its dependencies are Running, completes the start.
*/
package hypervisor
