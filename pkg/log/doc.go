/*
Package log provides structured logging for the control plane using
zerolog: JSON-structured output with component-specific child loggers,
configurable levels, and helpers for common logging patterns.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("hypervisor starting")

	hvLog := log.WithComponent("hypervisor")
	svcLog := log.WithServiceID(hvLog, "rest-api-1")
	svcLog.Info().Msg("service started")

	connLog := log.WithConnectorID(hvLog, "aws-primary")
	connLog.Error().Err(err).Msg("health check failed")

# Design Patterns

Global Logger:
  - single package-level zerolog.Logger, initialized once via Init()
  - accessible from every package without being passed around

Context Loggers:
  - WithComponent attaches a component field to the global logger once
    per component instance
  - WithServiceID/WithTaskID/WithConnectorID attach an additional field
    to an existing logger (usually a component logger) for one
    lifecycle log line, without replacing the component's logger

# Integration Points

  - pkg/hypervisor: service lifecycle and restart decisions
  - pkg/orchestration: task scheduling and retry decisions
  - pkg/connector: provider health checks and discovery runs
  - pkg/portregistry: allocation and expiry events
*/
package log
