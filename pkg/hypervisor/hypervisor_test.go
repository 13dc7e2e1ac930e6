package hypervisor

import (
	"testing"
	"time"

	"github.com/cuemby/sirsicore/pkg/clock"
	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/portregistry"
	"github.com/cuemby/sirsicore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock fires After immediately so restart-backoff tests don't
// need a real sleep; Now is manually advanced where needed.
type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.now.Add(d)
	return ch
}
func (f *fakeClock) NewTicker(d time.Duration) clock.Ticker { return &stubTicker{} }

type stubTicker struct{}

func (*stubTicker) C() <-chan time.Time { return nil }
func (*stubTicker) Stop()               {}

func newTestHypervisor() (*Hypervisor, *fakeClock) {
	fc := newFakeClock()
	ports := portregistry.NewWithClock(fc)
	h := NewWithClock(ports, Config{}, fc)
	return h, fc
}

func TestStartService_AllocatesPortAndRuns(t *testing.T) {
	h, _ := newTestHypervisor()

	err := h.handleStart(ServiceConfig{Name: "api", ServiceType: types.ServiceRestAPI, Host: "localhost", AutoRestart: true, FailureThreshold: 3})
	require.NoError(t, err)

	snap := h.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, types.StatusRunning, snap[0].Status)
	require.NotNil(t, snap[0].Port)
	assert.Equal(t, 8080, *snap[0].Port)
}

func TestStartService_IdempotentWhenAlreadyRunning(t *testing.T) {
	h, _ := newTestHypervisor()
	cfg := ServiceConfig{Name: "api", ServiceType: types.ServiceRestAPI, Host: "localhost"}

	require.NoError(t, h.handleStart(cfg))
	require.NoError(t, h.handleStart(cfg))

	snap := h.Snapshot()
	require.Len(t, snap, 1, "starting an already-running service must not duplicate it")
}

func TestStartService_ParksInStartingUntilDependencyRunning(t *testing.T) {
	h, _ := newTestHypervisor()

	require.NoError(t, h.handleStart(ServiceConfig{
		Name: "web", ServiceType: types.ServiceRestAPI, Host: "localhost",
		Dependencies: []string{"db"},
	}))

	snap := h.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, types.StatusStarting, snap[0].Status, "a service whose dependency isn't running yet must wait, not start")

	require.NoError(t, h.handleStart(ServiceConfig{Name: "db", ServiceType: types.ServiceGRPC, Host: "localhost"}))
	require.NoError(t, h.handleStart(ServiceConfig{
		Name: "web", ServiceType: types.ServiceRestAPI, Host: "localhost",
		Dependencies: []string{"db"},
	}))

	var web *types.ServiceInstance
	for _, s := range h.Snapshot() {
		if s.Name == "web" {
			web = s
		}
	}
	require.NotNil(t, web)
	assert.Equal(t, types.StatusRunning, web.Status, "re-issuing start once the dependency is running should succeed")
}

func TestStopService_ReleasesPort(t *testing.T) {
	h, _ := newTestHypervisor()
	require.NoError(t, h.handleStart(ServiceConfig{Name: "api", ServiceType: types.ServiceRestAPI, Host: "localhost"}))

	require.NoError(t, h.handleStop("api"))

	snap := h.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, types.StatusStopped, snap[0].Status)

	_, held := h.ports.GetServicePort("api")
	assert.False(t, held, "stopping a service must release its port allocation")
}

func TestStopService_UnknownReturnsNotFound(t *testing.T) {
	h, _ := newTestHypervisor()
	err := h.handleStop("ghost")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestServiceFailure_RestartsUnderThreshold(t *testing.T) {
	h, _ := newTestHypervisor()
	require.NoError(t, h.handleStart(ServiceConfig{
		Name: "api", ServiceType: types.ServiceRestAPI, Host: "localhost",
		AutoRestart: true, FailureThreshold: 3,
	}))

	require.NoError(t, h.handleFailure("api", assert.AnError))
	h.WaitForRestarts()

	var api *types.ServiceInstance
	for _, s := range h.Snapshot() {
		if s.Name == "api" {
			api = s
		}
	}
	require.NotNil(t, api)
	assert.Equal(t, 1, api.RestartCount)
	assert.Equal(t, types.StatusRunning, api.Status, "restart should succeed and return the service to Running")
}

func TestServiceFailure_CriticalFailureAtThreshold(t *testing.T) {
	h, _ := newTestHypervisor()
	require.NoError(t, h.handleStart(ServiceConfig{
		Name: "api", ServiceType: types.ServiceRestAPI, Host: "localhost",
		AutoRestart: true, FailureThreshold: 1,
	}))

	require.NoError(t, h.handleFailure("api", assert.AnError))
	h.WaitForRestarts()

	var api *types.ServiceInstance
	for _, s := range h.Snapshot() {
		if s.Name == "api" {
			api = s
		}
	}
	require.NotNil(t, api)
	assert.Equal(t, types.StatusCriticalFailure, api.Status)
}

func TestServiceFailure_NoAutoRestartGoesCritical(t *testing.T) {
	h, _ := newTestHypervisor()
	require.NoError(t, h.handleStart(ServiceConfig{
		Name: "api", ServiceType: types.ServiceRestAPI, Host: "localhost",
		AutoRestart: false, FailureThreshold: 5,
	}))

	require.NoError(t, h.handleFailure("api", assert.AnError))

	var api *types.ServiceInstance
	for _, s := range h.Snapshot() {
		if s.Name == "api" {
			api = s
		}
	}
	require.NotNil(t, api)
	assert.Equal(t, types.StatusCriticalFailure, api.Status, "auto-restart disabled should go straight to critical failure")
}

func TestServiceRecovery_OnlyFromFailed(t *testing.T) {
	h, _ := newTestHypervisor()
	require.NoError(t, h.handleStart(ServiceConfig{Name: "api", ServiceType: types.ServiceRestAPI, Host: "localhost"}))

	err := h.handleRecovery("api")
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestEmergencyShutdown_StopsEverything(t *testing.T) {
	h, _ := newTestHypervisor()
	require.NoError(t, h.handleStart(ServiceConfig{Name: "api", ServiceType: types.ServiceRestAPI, Host: "localhost"}))
	require.NoError(t, h.handleStart(ServiceConfig{Name: "ws", ServiceType: types.ServiceWebSocket, Host: "localhost"}))

	require.NoError(t, h.handleEmergencyShutdown())

	for _, s := range h.Snapshot() {
		assert.Equal(t, types.StatusStopped, s.Status)
	}
}

func TestComputeStatus_AggregatesAcrossServices(t *testing.T) {
	h, _ := newTestHypervisor()
	require.NoError(t, h.handleStart(ServiceConfig{Name: "api", ServiceType: types.ServiceRestAPI, Host: "localhost", AutoRestart: false, FailureThreshold: 1}))
	require.NoError(t, h.handleStart(ServiceConfig{Name: "ws", ServiceType: types.ServiceWebSocket, Host: "localhost"}))

	require.NoError(t, h.handleFailure("api", assert.AnError))

	status := h.computeStatus()
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.Running)
	assert.Equal(t, 1, status.Failed)
	require.NotNil(t, status.LastIncident)
}
