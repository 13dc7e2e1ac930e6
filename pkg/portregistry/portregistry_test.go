package portregistry

import (
	"testing"
	"time"

	"github.com/cuemby/sirsicore/pkg/clock"
	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic TTL tests.
// It satisfies clock.Clock; NewTicker is never exercised by the
// registry itself, which only needs Now().
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

func TestAllocate_LowestFreePort(t *testing.T) {
	r := New()

	a1, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)
	assert.Equal(t, 8080, a1.Port)

	a2, err := r.Allocate("svc-b", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)
	assert.Equal(t, 8081, a2.Port)

	require.NoError(t, r.Release(a1.AllocationID))

	a3, err := r.Allocate("svc-c", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)
	assert.Equal(t, 8080, a3.Port, "released port should be reused before advancing the range")
}

func TestAllocate_IdempotentBySameName(t *testing.T) {
	r := New()

	a1, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)

	a2, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)
	assert.Equal(t, a1.AllocationID, a2.AllocationID)
	assert.Equal(t, a1.Port, a2.Port)
}

func TestAllocate_ConflictOnTypeMismatch(t *testing.T) {
	r := New()

	_, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)

	_, err = r.Allocate("svc-a", types.ServiceWebSocket, "host1", 0)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestAllocate_RangeExhausted(t *testing.T) {
	r := New()
	r.ranges[types.ServiceSecurity] = PortRange{Low: 8300, High: 8300}

	_, err := r.Allocate("svc-a", types.ServiceSecurity, "host1", 0)
	require.NoError(t, err)

	_, err = r.Allocate("svc-b", types.ServiceSecurity, "host1", 0)
	require.Error(t, err)
	assert.Equal(t, errs.ExternalService, errs.KindOf(err))
}

func TestAllocate_SamePortDifferentHosts(t *testing.T) {
	r := New()

	a1, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)
	a2, err := r.Allocate("svc-b", types.ServiceRestAPI, "host2", 0)
	require.NoError(t, err)

	assert.Equal(t, a1.Port, a2.Port, "the same port may be active on two different hosts")
}

func TestHeartbeat_UnknownFails(t *testing.T) {
	r := New()
	err := r.Heartbeat("does-not-exist")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestHeartbeat_DoesNotResurrectExpired(t *testing.T) {
	clk := newFakeClock()
	r := NewWithClock(clk)

	alloc, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", time.Minute)
	require.NoError(t, err)

	clk.now = clk.now.Add(2 * time.Minute)
	reaped := r.CleanupExpired()
	require.Len(t, reaped, 1)

	err = r.Heartbeat(alloc.AllocationID)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestCleanupExpired_FreesPortForReuse(t *testing.T) {
	clk := newFakeClock()
	r := NewWithClock(clk)

	a1, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", time.Minute)
	require.NoError(t, err)

	clk.now = clk.now.Add(2 * time.Minute)
	reaped := r.CleanupExpired()
	assert.Contains(t, reaped, a1.AllocationID)

	a2, err := r.Allocate("svc-b", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)
	assert.Equal(t, a1.Port, a2.Port)
}

func TestServiceDirectory_ActiveOnly(t *testing.T) {
	r := New()

	a1, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)
	_, err = r.Allocate("svc-b", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)
	require.NoError(t, r.Release(a1.AllocationID))

	dir := r.ServiceDirectory()
	require.Len(t, dir, 1)
	assert.Equal(t, "svc-b", dir[0].ServiceName)
}

func TestGetServicePort(t *testing.T) {
	r := New()
	a1, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)

	port, ok := r.GetServicePort("svc-a")
	require.True(t, ok)
	assert.Equal(t, a1.Port, port)

	_, ok = r.GetServicePort("unknown")
	assert.False(t, ok)
}

func TestStats_ReflectsAllocations(t *testing.T) {
	r := New()
	_, err := r.Allocate("svc-a", types.ServiceRestAPI, "host1", 0)
	require.NoError(t, err)

	stats := r.Stats()
	var found bool
	for _, s := range stats {
		if s.ServiceType == types.ServiceRestAPI {
			found = true
			assert.Equal(t, 1, s.Allocated)
			assert.Equal(t, 20, s.Capacity)
		}
	}
	assert.True(t, found)
}
