// Package orchestration implements the Orchestration Engine: task
// submission, priority-ordered dequeue with dependency gating, agent
// selection against the connector manager, per-task retry with
// backoff, and session accumulation of agent responses.
package orchestration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/sirsicore/pkg/clock"
	"github.com/cuemby/sirsicore/pkg/connector"
	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/log"
	"github.com/cuemby/sirsicore/pkg/metrics"
	"github.com/cuemby/sirsicore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config tunes retry backoff. Zero values fall back to the spec
// defaults (retry_base=1s, retry_cap=60s).
type Config struct {
	RetryBase time.Duration
	RetryCap  time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 60 * time.Second
	}
	return c
}

// Engine is the Orchestration Engine (C4). It owns the task queue and
// the task/session tables exclusively; no other component is allowed
// to mutate them directly.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	connMgr  *connector.Manager
	queue    *taskQueue
	tasks    map[string]*types.Task
	sessions map[string][]types.AgentResponse
	inFlight map[string]int // connectorID -> count of Running tasks assigned
	logger   zerolog.Logger
}

// New creates an Engine bound to connMgr for agent selection, using
// the real wall clock.
func New(connMgr *connector.Manager, cfg Config) *Engine {
	return NewWithClock(connMgr, cfg, clock.Real{})
}

// NewWithClock creates an Engine driven by c — its own clock,
// independent of the port registry's and hypervisor's, per the design
// note that retry/restart counters must not share a clock source.
func NewWithClock(connMgr *connector.Manager, cfg Config, c clock.Clock) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		clock:    c,
		connMgr:  connMgr,
		queue:    newTaskQueue(),
		tasks:    make(map[string]*types.Task),
		sessions: make(map[string][]types.AgentResponse),
		inFlight: make(map[string]int),
		logger:   log.WithComponent("orchestration"),
	}
}

// Submit validates and enqueues a task, returning its ID. Resubmitting
// a known task ID fails with errs.Conflict.
func (e *Engine) Submit(task *types.Task) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if task.Priority < 0 || task.Priority > 100 {
		return "", errs.NewValidation("priority %d out of range [0,100]", task.Priority)
	}
	if task.MaxRetries < 0 {
		return "", errs.NewValidation("maxRetries must be >= 0")
	}
	for _, dep := range task.Dependencies {
		if _, ok := e.tasks[dep]; !ok {
			return "", errs.NewValidation("dependency task %q does not exist", dep)
		}
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	} else if _, exists := e.tasks[task.ID]; exists {
		return "", errs.NewConflict("task %q already submitted", task.ID)
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = e.clock.Now()
	}

	if e.dependenciesSatisfiedLocked(task) {
		task.Status = types.TaskQueued
		e.queue.push(task)
	} else {
		task.Status = types.TaskPending
	}

	e.tasks[task.ID] = task
	metrics.TasksTotal.WithLabelValues(string(task.Status)).Inc()

	log.WithTaskID(e.logger, task.ID).Info().Str("task_type", string(task.TaskType)).Int("priority", task.Priority).Msg("task submitted")
	return task.ID, nil
}

func (e *Engine) dependenciesSatisfiedLocked(task *types.Task) bool {
	for _, dep := range task.Dependencies {
		d, ok := e.tasks[dep]
		if !ok || d.Status != types.TaskCompleted {
			return false
		}
	}
	return true
}

// promotePendingLocked moves any Pending task whose dependencies just
// became satisfied into the queue. Called after a task reaches
// Completed.
func (e *Engine) promotePendingLocked() {
	for _, t := range e.tasks {
		if t.Status == types.TaskPending && e.dependenciesSatisfiedLocked(t) {
			t.Status = types.TaskQueued
			e.queue.push(t)
		}
	}
}

// promoteRetryingLocked flips any Retrying task whose backoff has
// elapsed to Queued, the observable interim step spec §8's S3
// scenario names (Failed -> Retrying -> Queued -> ...) before it can
// be picked up by the eligibility scan below.
func (e *Engine) promoteRetryingLocked(now time.Time) {
	for _, item := range e.queue.items {
		t := item.task
		if t.Status != types.TaskRetrying {
			continue
		}
		if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
			continue
		}
		t.Status = types.TaskQueued
		metrics.TasksTotal.WithLabelValues(string(types.TaskRetrying)).Dec()
		metrics.TasksTotal.WithLabelValues(string(types.TaskQueued)).Inc()
	}
}

// ProcessNext pops the highest-priority eligible task, selects an
// agent for it, and marks it Running. It returns the empty string if
// no queued task is eligible, or if the highest-priority eligible task
// has no available agent; that task stays queued and lower-priority
// tasks are not tried on this call. Safe for concurrent callers:
// dequeue-and-mark is atomic.
func (e *Engine) ProcessNext(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.promoteRetryingLocked(now)

	eligible := e.queue.peekEligible(func(t *types.Task) bool {
		if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
			return false
		}
		return e.dependenciesSatisfiedLocked(t)
	})
	if eligible == nil {
		return "", nil
	}

	// promoteRetryingLocked has already moved every elapsed retry to
	// Queued, so eligible is Queued here; prevStatus records it so the
	// no-agent path below can restore it.
	prevStatus := eligible.Status
	eligible.Status = types.TaskProcessing
	metrics.TasksTotal.WithLabelValues(string(prevStatus)).Dec()
	metrics.TasksTotal.WithLabelValues(string(types.TaskProcessing)).Inc()

	connID, err := e.selectAgentLocked(eligible)
	if err != nil {
		// No eligible runner right now: restore its prior status for
		// the next ProcessNext call rather than removing it.
		eligible.Status = prevStatus
		metrics.TasksTotal.WithLabelValues(string(types.TaskProcessing)).Dec()
		metrics.TasksTotal.WithLabelValues(string(prevStatus)).Inc()
		return "", nil
	}

	e.queue.remove(eligible.ID)
	eligible.AssignedAgent = connID
	eligible.Status = types.TaskRunning
	e.inFlight[connID]++
	metrics.TasksTotal.WithLabelValues(string(types.TaskProcessing)).Dec()
	metrics.TasksTotal.WithLabelValues(string(types.TaskRunning)).Inc()

	log.WithTaskID(e.logger, eligible.ID).Info().Str("connector_id", connID).Msg("task assigned")
	return eligible.ID, nil
}

// selectAgentLocked picks a connector whose capabilities satisfy the
// task's required_capabilities parameter. Connectors that have failed
// their last few consecutive health checks are skipped entirely;
// among the remaining candidates it prefers the fewest in-flight
// tasks and breaks remaining ties lexicographically by connector ID.
func (e *Engine) selectAgentLocked(task *types.Task) (string, error) {
	required := requiredCapabilities(task)

	provider := providerFromTask(task)
	candidates := e.connMgr.ConnectorsByProvider(provider)

	var best connector.Connector
	for _, c := range candidates {
		if !hasAllCapabilities(c.Capabilities(), required) {
			continue
		}
		if !e.connMgr.IsHealthy(c.ID()) {
			continue
		}
		if best == nil ||
			e.inFlight[c.ID()] < e.inFlight[best.ID()] ||
			(e.inFlight[c.ID()] == e.inFlight[best.ID()] && c.ID() < best.ID()) {
			best = c
		}
	}
	if best == nil {
		return "", errs.NewNotFound("no eligible connector for task %q", task.ID)
	}
	return best.ID(), nil
}

func requiredCapabilities(task *types.Task) []types.Capability {
	raw, ok := task.Parameters["required_capabilities"]
	if !ok {
		return nil
	}
	list, ok := raw.([]string)
	if !ok {
		return nil
	}
	caps := make([]types.Capability, len(list))
	for i, s := range list {
		caps[i] = types.Capability(s)
	}
	return caps
}

func providerFromTask(task *types.Task) types.CloudProvider {
	if raw, ok := task.Parameters["provider"]; ok {
		if s, ok := raw.(string); ok {
			return types.CloudProvider(s)
		}
	}
	return types.ProviderAWS
}

func hasAllCapabilities(have []types.Capability, want []types.Capability) bool {
	set := make(map[types.Capability]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// RecordResponse appends an agent's response to a task's session,
// preserving arrival order.
func (e *Engine) RecordResponse(taskID string, resp types.AgentResponse) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tasks[taskID]; !ok {
		return errs.NewNotFound("task %q not found", taskID)
	}
	if resp.ArrivedAt.IsZero() {
		resp.ArrivedAt = e.clock.Now()
	}
	e.sessions[taskID] = append(e.sessions[taskID], resp)
	return nil
}

// Complete marks a Running task Completed, releases its connector
// slot, and promotes any tasks whose only blocker was this one.
func (e *Engine) Complete(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return errs.NewNotFound("task %q not found", taskID)
	}
	if t.Status != types.TaskRunning {
		return errs.NewConflict("task %q is not running", taskID)
	}

	e.releaseAgentLocked(t)
	metrics.TasksTotal.WithLabelValues(string(types.TaskRunning)).Dec()
	t.Status = types.TaskCompleted
	metrics.TasksTotal.WithLabelValues(string(types.TaskCompleted)).Inc()
	metrics.TasksCompletedTotal.WithLabelValues(string(t.TaskType), string(t.Status)).Inc()

	e.promotePendingLocked()
	return nil
}

// Fail reports an agent failure for a Running task. If retries remain
// it schedules a retry with exponential backoff; otherwise the task
// becomes terminally Failed.
func (e *Engine) Fail(taskID string, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return errs.NewNotFound("task %q not found", taskID)
	}
	if t.Status != types.TaskRunning {
		return errs.NewConflict("task %q is not running", taskID)
	}

	e.releaseAgentLocked(t)
	metrics.TasksTotal.WithLabelValues(string(types.TaskRunning)).Dec()

	if cause != nil {
		t.LastError = cause.Error()
	}

	if t.CurrentRetry < t.MaxRetries {
		t.CurrentRetry++
		t.Status = types.TaskRetrying
		delay := clock.Backoff(e.cfg.RetryBase, e.cfg.RetryCap, t.CurrentRetry)
		scheduledFor := e.clock.Now().Add(delay)
		t.ScheduledFor = &scheduledFor
		metrics.TaskRetriesTotal.WithLabelValues(string(t.TaskType)).Inc()

		// Stays Retrying, not Queued: ProcessNext's ScheduledFor check
		// already keeps it out of contention until the backoff
		// elapses, and the interim status is observable per spec's S3
		// scenario (Failed -> Retrying -> Queued) instead of
		// collapsing straight to Queued.
		e.queue.push(t)
		metrics.TasksTotal.WithLabelValues(string(types.TaskRetrying)).Inc()
		log.WithTaskID(e.logger, taskID).Warn().Int("retry", t.CurrentRetry).Dur("delay", delay).Msg("task scheduled for retry")
		return nil
	}

	t.Status = types.TaskFailed
	metrics.TasksTotal.WithLabelValues(string(types.TaskFailed)).Inc()
	metrics.TasksCompletedTotal.WithLabelValues(string(t.TaskType), string(t.Status)).Inc()
	log.WithTaskID(e.logger, taskID).Error().Msg("task failed, retries exhausted")
	return nil
}

func (e *Engine) releaseAgentLocked(t *types.Task) {
	if t.AssignedAgent == "" {
		return
	}
	if e.inFlight[t.AssignedAgent] > 0 {
		e.inFlight[t.AssignedAgent]--
	}
}

// GetSessionStatus returns a task's current status.
func (e *Engine) GetSessionStatus(taskID string) (types.TaskStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return "", errs.NewNotFound("task %q not found", taskID)
	}
	return t.Status, nil
}

// GetSessionResults returns a task's accumulated agent responses in
// arrival order.
func (e *Engine) GetSessionResults(taskID string) ([]types.AgentResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tasks[taskID]; !ok {
		return nil, errs.NewNotFound("task %q not found", taskID)
	}
	out := make([]types.AgentResponse, len(e.sessions[taskID]))
	copy(out, e.sessions[taskID])
	return out, nil
}

// Cancel marks a task Cancelled. Only Queued, Processing and Retrying
// tasks are cancellable; any other status, including Pending and
// Running, fails with errs.Conflict. Cancelling an already-Cancelled
// task is a no-op success, per spec's round-trip idempotence
// requirement. RecordResponse does not check task status, so a
// response recorded after cancellation is still appended to the
// session.
func (e *Engine) Cancel(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return errs.NewNotFound("task %q not found", taskID)
	}

	switch t.Status {
	case types.TaskQueued, types.TaskProcessing, types.TaskRetrying:
		e.queue.remove(taskID)
		metrics.TasksTotal.WithLabelValues(string(t.Status)).Dec()
		t.Status = types.TaskCancelled
		metrics.TasksTotal.WithLabelValues(string(types.TaskCancelled)).Inc()
		return nil
	case types.TaskCancelled:
		return nil
	default:
		return errs.NewConflict("task %q in status %q is not cancellable", taskID, t.Status)
	}
}

// Get returns a snapshot of a task by ID.
func (e *Engine) Get(taskID string) (*types.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return nil, errs.NewNotFound("task %q not found", taskID)
	}
	cp := *t
	return &cp, nil
}

// CollectMetrics resyncs TasksTotal from the live task table.
// Satisfies pkg/metrics.StatusSource.
func (e *Engine) CollectMetrics() {
	e.mu.Lock()
	counts := make(map[types.TaskStatus]int)
	for _, t := range e.tasks {
		counts[t.Status]++
	}
	e.mu.Unlock()

	for _, status := range []types.TaskStatus{
		types.TaskPending, types.TaskQueued, types.TaskProcessing, types.TaskRunning,
		types.TaskCompleted, types.TaskFailed, types.TaskCancelled, types.TaskRetrying,
	} {
		metrics.TasksTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// List returns a snapshot of every tracked task, sorted by ID for a
// stable listing.
func (e *Engine) List() []*types.Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*types.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
