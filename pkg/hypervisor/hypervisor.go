// Package hypervisor implements the top-level supervisor (C5): a
// registry of managed ServiceInstances, a single control loop that
// applies every command (delayed restarts scheduled by a failure run
// on their own goroutine under the same mutex), port acquisition through
// pkg/portregistry, dependency-ordered startup, and a restart/failure
// policy with exponential backoff.
package hypervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/sirsicore/pkg/clock"
	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/log"
	"github.com/cuemby/sirsicore/pkg/metrics"
	"github.com/cuemby/sirsicore/pkg/portregistry"
	"github.com/cuemby/sirsicore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config tunes the control loop's periodic work and failure policy.
// Zero values fall back to the spec defaults.
type Config struct {
	HealthCheckInterval  time.Duration
	StatusUpdateInterval time.Duration
	RestartBackoffBase   time.Duration
	RestartBackoffCap    time.Duration
	// DependencyTimeout bounds how long a service may sit in Starting
	// waiting on its dependencies before it is marked Failed.
	DependencyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.StatusUpdateInterval <= 0 {
		c.StatusUpdateInterval = 10 * time.Second
	}
	if c.RestartBackoffBase <= 0 {
		c.RestartBackoffBase = time.Second
	}
	if c.RestartBackoffCap <= 0 {
		c.RestartBackoffCap = 60 * time.Second
	}
	if c.DependencyTimeout <= 0 {
		c.DependencyTimeout = 2 * time.Minute
	}
	return c
}

// ServiceConfig is the caller-supplied description of a service to
// register and start.
type ServiceConfig struct {
	Name             string
	ServiceType      types.ServiceType
	Host             string
	Dependencies     []string
	FailureThreshold int
	AutoRestart      bool
	HealthURL        string
}

// SystemStatus is the aggregate view published by the status tick.
type SystemStatus struct {
	Total         int
	Running       int
	Failed        int
	TotalRestarts int
	LastIncident  *string
}

// command is the sealed set of messages the control loop accepts.
// Every command-driven state transition funnels through here. The one
// exception is the delayed restart scheduled by handleFailure: its
// goroutine moves the service from Failed to Starting and calls
// handleStart itself, outside the loop, holding mu.
type command interface{ isCommand() }

type startService struct {
	cfg  ServiceConfig
	resp chan error
}

type stopService struct {
	name string
	resp chan error
}

type restartService struct {
	name string
	resp chan error
}

type serviceHealthCheck struct {
	name string
	resp chan error
}

type serviceFailure struct {
	name string
	err  error
	resp chan error
}

type serviceRecovery struct {
	name string
	resp chan error
}

type emergencyShutdown struct {
	resp chan error
}

type getSystemStatus struct {
	resp chan SystemStatus
}

func (startService) isCommand()       {}
func (stopService) isCommand()        {}
func (restartService) isCommand()     {}
func (serviceHealthCheck) isCommand() {}
func (serviceFailure) isCommand()     {}
func (serviceRecovery) isCommand()    {}
func (emergencyShutdown) isCommand()  {}
func (getSystemStatus) isCommand()    {}

// Hypervisor owns the ServiceInstance registry exclusively. All
// external access goes through its exported methods, which enqueue a
// command onto cmdCh and block for the loop's response — preserving
// FIFO ordering of commands per the contract guarantees in spec §4.4.
type Hypervisor struct {
	cfg      Config
	clock    clock.Clock
	ports    *portregistry.Registry
	logger   zerolog.Logger
	cmdCh    chan command
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu           sync.Mutex // guards services; the loop and restart goroutines write, readers take snapshots
	services     map[string]*types.ServiceInstance
	lastIncident *string
}

// New creates a Hypervisor using the real wall clock.
func New(ports *portregistry.Registry, cfg Config) *Hypervisor {
	return NewWithClock(ports, cfg, clock.Real{})
}

// NewWithClock creates a Hypervisor driven by c — its own clock,
// independent of the port registry's and orchestration engine's.
func NewWithClock(ports *portregistry.Registry, cfg Config, c clock.Clock) *Hypervisor {
	return &Hypervisor{
		cfg:      cfg.withDefaults(),
		clock:    c,
		ports:    ports,
		logger:   log.WithComponent("hypervisor"),
		cmdCh:    make(chan command, 64),
		stopCh:   make(chan struct{}),
		services: make(map[string]*types.ServiceInstance),
	}
}

// Run starts the control loop. It blocks until ctx is cancelled or
// Stop is called; call it in its own goroutine.
func (h *Hypervisor) Run(ctx context.Context) {
	healthTicker := h.clock.NewTicker(h.cfg.HealthCheckInterval)
	statusTicker := h.clock.NewTicker(h.cfg.StatusUpdateInterval)
	defer healthTicker.Stop()
	defer statusTicker.Stop()

	for {
		select {
		case cmd := <-h.cmdCh:
			h.dispatch(ctx, cmd)
		case <-healthTicker.C():
			h.healthTick()
		case <-statusTicker.C():
			h.statusTick()
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		}
	}
}

// Stop signals the control loop to exit.
func (h *Hypervisor) Stop() {
	close(h.stopCh)
}

// WaitForRestarts blocks until every in-flight restart-backoff
// goroutine spawned by handleFailure has finished. It exists for
// tests that inject a fake clock whose After fires immediately.
func (h *Hypervisor) WaitForRestarts() {
	h.wg.Wait()
}

func (h *Hypervisor) dispatch(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case startService:
		c.resp <- h.handleStart(c.cfg)
	case stopService:
		c.resp <- h.handleStop(c.name)
	case restartService:
		c.resp <- h.handleRestart(c.name)
	case serviceHealthCheck:
		c.resp <- h.handleHealthCheck(c.name)
	case serviceFailure:
		c.resp <- h.handleFailure(c.name, c.err)
	case serviceRecovery:
		c.resp <- h.handleRecovery(c.name)
	case emergencyShutdown:
		c.resp <- h.handleEmergencyShutdown()
	case getSystemStatus:
		c.resp <- h.computeStatus()
	default:
		h.logger.Error().Msg("unknown command type reached the control loop")
	}
}

// send enqueues cmd and blocks for its response, giving callers
// synchronous semantics over the asynchronous loop.
func send[T any](h *Hypervisor, cmd command, resp chan T) T {
	h.cmdCh <- cmd
	return <-resp
}

// StartService registers (or idempotently reuses) a service and
// transitions it to Running via the start protocol.
func (h *Hypervisor) StartService(cfg ServiceConfig) error {
	resp := make(chan error, 1)
	return send(h, startService{cfg: cfg, resp: resp}, resp)
}

// StopService transitions a service through Stopping to Stopped.
func (h *Hypervisor) StopService(name string) error {
	resp := make(chan error, 1)
	return send(h, stopService{name: name, resp: resp}, resp)
}

// RestartService stops and restarts a named service.
func (h *Hypervisor) RestartService(name string) error {
	resp := make(chan error, 1)
	return send(h, restartService{name: name, resp: resp}, resp)
}

// ServiceHealthCheck records a heartbeat for name, setting its
// LastHeartbeat to now. No probe is issued.
func (h *Hypervisor) ServiceHealthCheck(name string) error {
	resp := make(chan error, 1)
	return send(h, serviceHealthCheck{name: name, resp: resp}, resp)
}

// ServiceFailure reports a failure for name, driving the restart
// policy.
func (h *Hypervisor) ServiceFailure(name string, cause error) error {
	resp := make(chan error, 1)
	return send(h, serviceFailure{name: name, err: cause, resp: resp}, resp)
}

// ServiceRecovery reports that a Failed service has recovered.
func (h *Hypervisor) ServiceRecovery(name string) error {
	resp := make(chan error, 1)
	return send(h, serviceRecovery{name: name, resp: resp}, resp)
}

// EmergencyShutdown stops every managed service immediately.
func (h *Hypervisor) EmergencyShutdown() error {
	resp := make(chan error, 1)
	return send(h, emergencyShutdown{resp: resp}, resp)
}

// GetSystemStatus returns the aggregate status as of all commands
// accepted before this call was enqueued.
func (h *Hypervisor) GetSystemStatus() SystemStatus {
	resp := make(chan SystemStatus, 1)
	return send(h, getSystemStatus{resp: resp}, resp)
}

func (h *Hypervisor) handleStart(cfg ServiceConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Preserve identity and restart-count across a service's repeated
	// trips through the start protocol (dependency-parking, and the
	// restart path from handleFailure): restartCount must stay
	// non-decreasing until the service is removed.
	id := uuid.NewString()
	var restartCount int
	if existing, ok := h.services[cfg.Name]; ok {
		if existing.Status == types.StatusRunning {
			return nil
		}
		id = existing.ID
		restartCount = existing.RestartCount
	}

	for _, dep := range cfg.Dependencies {
		d, ok := h.services[dep]
		if !ok || d.Status != types.StatusRunning {
			// Dependency not satisfied yet: park in Starting. A later
			// StartService call for this same name, once its
			// dependencies are Running, completes the start; the
			// health tick marks it Failed after DependencyTimeout.
			h.services[cfg.Name] = &types.ServiceInstance{
				ID:               id,
				Name:             cfg.Name,
				ServiceType:      cfg.ServiceType,
				Status:           types.StatusStarting,
				StartTime:        h.clock.Now(),
				Dependencies:     cfg.Dependencies,
				FailureThreshold: cfg.FailureThreshold,
				AutoRestart:      cfg.AutoRestart,
				HealthURL:        cfg.HealthURL,
				RestartCount:     restartCount,
			}
			return nil
		}
	}

	alloc, err := h.ports.Allocate(cfg.Name, cfg.ServiceType, cfg.Host, 0)
	if err != nil {
		return err
	}

	now := h.clock.Now()
	port := alloc.Port
	healthURL := cfg.HealthURL
	if healthURL == "" {
		healthURL = fmt.Sprintf("http://%s:%d/health", cfg.Host, port)
	}

	h.services[cfg.Name] = &types.ServiceInstance{
		ID:               id,
		Name:             cfg.Name,
		ServiceType:      cfg.ServiceType,
		Status:           types.StatusRunning,
		Port:             &port,
		StartTime:        now,
		LastHeartbeat:    now,
		Dependencies:     cfg.Dependencies,
		FailureThreshold: cfg.FailureThreshold,
		AutoRestart:      cfg.AutoRestart,
		HealthURL:        healthURL,
		RestartCount:     restartCount,
	}
	metrics.ServicesTotal.WithLabelValues(string(types.StatusRunning)).Inc()
	log.WithServiceID(h.logger, cfg.Name).Info().Int("port", port).Msg("service started")
	return nil
}

func (h *Hypervisor) handleStop(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	svc, ok := h.services[name]
	if !ok {
		return errs.NewNotFound("service %q not registered", name)
	}

	prevStatus := svc.Status
	svc.Status = types.StatusStopping
	for _, a := range h.ports.ServiceDirectory() {
		if a.ServiceName == name {
			_ = h.ports.Release(a.AllocationID)
		}
	}
	svc.Status = types.StatusStopped
	metrics.ServicesTotal.WithLabelValues(string(prevStatus)).Dec()
	metrics.ServicesTotal.WithLabelValues(string(types.StatusStopped)).Inc()
	log.WithServiceID(h.logger, name).Info().Msg("service stopped")
	return nil
}

func (h *Hypervisor) handleRestart(name string) error {
	h.mu.Lock()
	svc, ok := h.services[name]
	if !ok {
		h.mu.Unlock()
		return errs.NewNotFound("service %q not registered", name)
	}
	cfg := ServiceConfig{
		Name:             svc.Name,
		ServiceType:      svc.ServiceType,
		Dependencies:     svc.Dependencies,
		FailureThreshold: svc.FailureThreshold,
		AutoRestart:      svc.AutoRestart,
		HealthURL:        svc.HealthURL,
	}
	h.mu.Unlock()

	if err := h.handleStop(name); err != nil {
		return err
	}
	return h.handleStart(cfg)
}

func (h *Hypervisor) handleHealthCheck(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	svc, ok := h.services[name]
	if !ok {
		return errs.NewNotFound("service %q not registered", name)
	}
	svc.LastHeartbeat = h.clock.Now()
	return nil
}

// handleFailure implements the restart/backoff policy. It increments
// restartCount and, past the failure threshold or when auto-restart
// is disabled, transitions to CriticalFailure — a terminal state
// without external intervention.
func (h *Hypervisor) handleFailure(name string, cause error) error {
	h.mu.Lock()
	svc, ok := h.services[name]
	if !ok {
		h.mu.Unlock()
		return errs.NewNotFound("service %q not registered", name)
	}

	svc.RestartCount++
	metrics.ServiceRestartsTotal.WithLabelValues(name).Inc()
	msg := name
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", name, cause)
	}
	h.lastIncident = &msg

	if svc.RestartCount >= svc.FailureThreshold || !svc.AutoRestart {
		prevStatus := svc.Status
		svc.Status = types.StatusCriticalFailure
		metrics.ServicesTotal.WithLabelValues(string(prevStatus)).Dec()
		metrics.ServicesTotal.WithLabelValues(string(types.StatusCriticalFailure)).Inc()
		metrics.CriticalFailuresTotal.WithLabelValues(name).Inc()
		h.mu.Unlock()
		log.WithServiceID(h.logger, name).Error().Int("restarts", svc.RestartCount).Msg("service reached critical failure")
		return nil
	}

	prevStatus := svc.Status
	svc.Status = types.StatusFailed
	metrics.ServicesTotal.WithLabelValues(string(prevStatus)).Dec()
	metrics.ServicesTotal.WithLabelValues(string(types.StatusFailed)).Inc()
	cfg := ServiceConfig{
		Name:             svc.Name,
		ServiceType:      svc.ServiceType,
		Dependencies:     svc.Dependencies,
		FailureThreshold: svc.FailureThreshold,
		AutoRestart:      svc.AutoRestart,
		HealthURL:        svc.HealthURL,
	}
	delay := clock.Backoff(h.cfg.RestartBackoffBase, h.cfg.RestartBackoffCap, svc.RestartCount)
	h.mu.Unlock()

	log.WithServiceID(h.logger, name).Warn().Dur("delay", delay).Msg("service failed, scheduling restart")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		select {
		case <-h.clock.After(delay):
		case <-h.stopCh:
			return
		}
		h.mu.Lock()
		svc, ok := h.services[name]
		if !ok || svc.Status != types.StatusFailed {
			h.mu.Unlock()
			return
		}
		svc.Status = types.StatusStarting
		h.mu.Unlock()
		if err := h.handleStart(cfg); err != nil {
			log.WithServiceID(h.logger, name).Error().Err(err).Msg("restart attempt failed")
		}
	}()
	return nil
}

func (h *Hypervisor) handleRecovery(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	svc, ok := h.services[name]
	if !ok {
		return errs.NewNotFound("service %q not registered", name)
	}
	if svc.Status != types.StatusFailed {
		return errs.NewConflict("service %q is not in Failed status", name)
	}
	prevStatus := svc.Status
	svc.Status = types.StatusRunning
	svc.LastHeartbeat = h.clock.Now()
	metrics.ServicesTotal.WithLabelValues(string(prevStatus)).Dec()
	metrics.ServicesTotal.WithLabelValues(string(types.StatusRunning)).Inc()
	return nil
}

func (h *Hypervisor) handleEmergencyShutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, svc := range h.services {
		if svc.Status == types.StatusStopped {
			continue
		}
		for _, a := range h.ports.ServiceDirectory() {
			if a.ServiceName == name {
				_ = h.ports.Release(a.AllocationID)
			}
		}
		svc.Status = types.StatusStopped
	}
	h.logger.Warn().Msg("emergency shutdown executed")
	return nil
}

func (h *Hypervisor) computeStatus() SystemStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	var status SystemStatus
	status.Total = len(h.services)
	totalRestarts := 0
	for _, svc := range h.services {
		switch svc.Status {
		case types.StatusRunning:
			status.Running++
		case types.StatusFailed, types.StatusCriticalFailure:
			status.Failed++
		}
		totalRestarts += svc.RestartCount
	}
	status.TotalRestarts = totalRestarts
	status.LastIncident = h.lastIncident
	return status
}

// healthTick reports a failure for every Running service with a
// HealthURL whose LastHeartbeat is older than HealthCheckInterval. It
// does not send a request to the HealthURL; staleness alone counts as
// the failure. It also marks Failed any service that has been Starting
// for longer than DependencyTimeout.
func (h *Hypervisor) healthTick() {
	h.mu.Lock()
	var stale []string
	var timedOut []string
	now := h.clock.Now()
	for name, svc := range h.services {
		switch svc.Status {
		case types.StatusRunning:
			if svc.HealthURL != "" && now.Sub(svc.LastHeartbeat) > h.cfg.HealthCheckInterval {
				stale = append(stale, name)
			}
		case types.StatusStarting:
			if now.Sub(svc.StartTime) > h.cfg.DependencyTimeout {
				timedOut = append(timedOut, name)
			}
		}
	}
	for _, name := range timedOut {
		svc := h.services[name]
		svc.Status = types.StatusFailed
		metrics.ServicesTotal.WithLabelValues(string(types.StatusStarting)).Dec()
		metrics.ServicesTotal.WithLabelValues(string(types.StatusFailed)).Inc()
		log.WithServiceID(h.logger, name).Error().Msg("dependencies never satisfied, service failed")
	}
	h.mu.Unlock()

	for _, name := range stale {
		h.dispatch(context.Background(), serviceFailure{name: name, err: errs.NewTimeout("health check missed for %q", name), resp: make(chan error, 1)})
	}
}

// statusTick recomputes the aggregate view; callers read it via
// GetSystemStatus rather than this pushing anywhere, since the spec
// leaves the publish transport to a collaborator.
func (h *Hypervisor) statusTick() {
	h.computeStatus()
}

// CollectMetrics resyncs ServicesTotal from the live registry.
// Satisfies pkg/metrics.StatusSource.
func (h *Hypervisor) CollectMetrics() {
	h.mu.Lock()
	counts := make(map[types.ServiceStatus]int)
	for _, svc := range h.services {
		counts[svc.Status]++
	}
	h.mu.Unlock()

	for _, status := range []types.ServiceStatus{
		types.StatusInitializing, types.StatusStarting, types.StatusRunning,
		types.StatusDegraded, types.StatusFailed, types.StatusStopping,
		types.StatusStopped, types.StatusCriticalFailure,
	} {
		metrics.ServicesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Snapshot returns a copy of every registered ServiceInstance.
func (h *Hypervisor) Snapshot() []*types.ServiceInstance {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*types.ServiceInstance, 0, len(h.services))
	for _, svc := range h.services {
		cp := *svc
		out = append(out, &cp)
	}
	return out
}
