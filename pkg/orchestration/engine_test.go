package orchestration

import (
	"context"
	"testing"

	"github.com/cuemby/sirsicore/pkg/connector"
	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	mgr := connector.NewManager()
	conn := &testConnector{id: "", provider: types.ProviderAWS, caps: []types.Capability{"discover"}}
	id, err := mgr.Create(context.Background(), conn)
	require.NoError(t, err)
	return New(mgr, Config{}), id
}

// testConnector is a minimal connector.Connector used only to give the
// orchestration engine something to select as an agent.
type testConnector struct {
	id       string
	provider types.CloudProvider
	caps     []types.Capability
}

func (c *testConnector) ID() string                    { return c.id }
func (c *testConnector) SetID(id string)                { c.id = id }
func (c *testConnector) Provider() types.CloudProvider  { return c.provider }
func (c *testConnector) Capabilities() []types.Capability { return c.caps }
func (c *testConnector) Initialize(ctx context.Context) error { return nil }
func (c *testConnector) HealthCheck(ctx context.Context) (connector.HealthStatus, error) {
	return connector.HealthStatus{Healthy: true}, nil
}
func (c *testConnector) Discover(ctx context.Context, rt []string) (connector.DiscoveryResult, error) {
	return connector.DiscoveryResult{}, nil
}
func (c *testConnector) EstimateCost(ctx context.Context, r []connector.CloudResource) (map[string]float64, error) {
	return nil, nil
}
func (c *testConnector) Recommend(ctx context.Context, r []connector.CloudResource) ([]string, error) {
	return nil, nil
}

func TestSubmit_ValidatesPriority(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 101, MaxRetries: 0})
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestSubmit_RejectsUnknownDependency(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 10, Dependencies: []string{"missing"}})
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestSubmit_DuplicateIDConflicts(t *testing.T) {
	e, _ := newTestEngine(t)
	task := &types.Task{ID: "t1", TaskType: types.TaskDiscovery, Priority: 10}
	_, err := e.Submit(task)
	require.NoError(t, err)

	_, err = e.Submit(&types.Task{ID: "t1", TaskType: types.TaskDiscovery, Priority: 10})
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestProcessNext_PriorityOrder(t *testing.T) {
	e, connID := newTestEngine(t)

	lowID, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 10, Parameters: map[string]any{"provider": "aws"}})
	require.NoError(t, err)
	highID, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 90, Parameters: map[string]any{"provider": "aws"}})
	require.NoError(t, err)

	got, err := e.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, highID, got, "higher priority task should be dequeued first")

	got2, err := e.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lowID, got2)

	require.NoError(t, e.Complete(highID))
	require.NoError(t, e.Complete(lowID))

	status, err := e.GetSessionStatus(highID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, status)
	_ = connID
}

func TestProcessNext_DependencyGating(t *testing.T) {
	e, _ := newTestEngine(t)

	depID, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 50, Parameters: map[string]any{"provider": "aws"}})
	require.NoError(t, err)

	childID, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 100, Dependencies: []string{depID}, Parameters: map[string]any{"provider": "aws"}})
	require.NoError(t, err)

	status, err := e.GetSessionStatus(childID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, status, "task with unmet dependency stays Pending, not Queued")

	got, err := e.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, depID, got, "only the dependency-free task is eligible")

	require.NoError(t, e.Complete(depID))

	status, err = e.GetSessionStatus(childID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, status, "completing the dependency promotes the child to Queued")
}

func TestFail_RetriesThenTerminal(t *testing.T) {
	e, _ := newTestEngine(t)
	taskID, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 50, MaxRetries: 1, Parameters: map[string]any{"provider": "aws"}})
	require.NoError(t, err)

	_, err = e.ProcessNext(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Fail(taskID, assert.AnError))
	status, err := e.GetSessionStatus(taskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskRetrying, status, "first failure with retries remaining leaves the task observably Retrying")

	task, err := e.Get(taskID)
	require.NoError(t, err)
	assert.Equal(t, 1, task.CurrentRetry)
	assert.NotNil(t, task.ScheduledFor)

	// force eligibility regardless of wall clock in this test
	e.tasks[taskID].ScheduledFor = nil

	// ProcessNext promotes an elapsed retry to Queued before picking an
	// eligible task for assignment: Failed -> Retrying -> Queued -> Running.
	_, err = e.ProcessNext(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Fail(taskID, assert.AnError))

	status, err = e.GetSessionStatus(taskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, status, "retries exhausted should terminate the task")
}

func TestFail_RetryingStaysUntilScheduledForElapses(t *testing.T) {
	e, _ := newTestEngine(t)
	taskID, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 50, MaxRetries: 1, Parameters: map[string]any{"provider": "aws"}})
	require.NoError(t, err)

	_, err = e.ProcessNext(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Fail(taskID, assert.AnError))

	status, err := e.GetSessionStatus(taskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskRetrying, status)

	// ScheduledFor is still in the future: ProcessNext must not promote
	// or pick the task up, and its status must remain Retrying.
	taskID2, err := e.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Empty(t, taskID2)

	status, err = e.GetSessionStatus(taskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskRetrying, status)
}

func TestCancel_OnlyFromCancellableStates(t *testing.T) {
	e, _ := newTestEngine(t)
	taskID, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 50, Parameters: map[string]any{"provider": "aws"}})
	require.NoError(t, err)

	require.NoError(t, e.Cancel(taskID))
	status, err := e.GetSessionStatus(taskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, status)

	// Cancelling an already-Cancelled task is a no-op success.
	require.NoError(t, e.Cancel(taskID))
	status, err = e.GetSessionStatus(taskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, status)
}

func TestCancel_RunningTaskNotCancellable(t *testing.T) {
	e, _ := newTestEngine(t)
	taskID, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 50, Parameters: map[string]any{"provider": "aws"}})
	require.NoError(t, err)

	_, err = e.ProcessNext(context.Background())
	require.NoError(t, err)

	err = e.Cancel(taskID)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestRecordResponse_PreservesArrivalOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	taskID, err := e.Submit(&types.Task{TaskType: types.TaskDiscovery, Priority: 50})
	require.NoError(t, err)

	require.NoError(t, e.RecordResponse(taskID, types.AgentResponse{AgentID: "a1", Response: "first"}))
	require.NoError(t, e.RecordResponse(taskID, types.AgentResponse{AgentID: "a2", Response: "second"}))

	results, err := e.GetSessionResults(taskID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Response)
	assert.Equal(t, "second", results[1].Response)
}
