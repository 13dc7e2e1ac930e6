// Package portregistry assigns and tracks host ports for internal
// services. Each ServiceType owns a fixed port range; allocation picks
// the lowest free port in that range and the allocation stays alive
// only while the owner keeps sending heartbeats within the TTL.
package portregistry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/sirsicore/pkg/clock"
	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/log"
	"github.com/cuemby/sirsicore/pkg/metrics"
	"github.com/cuemby/sirsicore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PortRange is the inclusive [Low, High] range reserved for a
// ServiceType.
type PortRange struct {
	Low  int
	High int
}

// DefaultRanges are the port ranges fixed by the external interface
// contract. Allocate rejects a ServiceType that does not appear here.
var DefaultRanges = map[types.ServiceType]PortRange{
	types.ServiceRestAPI:    {Low: 8080, High: 8099},
	types.ServiceWebSocket:  {Low: 8100, High: 8119},
	types.ServiceGRPC:       {Low: 50051, High: 50099},
	types.ServiceAnalytics:  {Low: 8200, High: 8219},
	types.ServiceSecurity:   {Low: 8300, High: 8319},
	types.ServiceCustomKind: {Low: 9000, High: 9999},
}

// DefaultTTL is the heartbeat interval an allocation is allowed to miss
// before CleanupExpired reaps it.
const DefaultTTL = 60 * time.Second

// key identifies an allocation by the exclusive (host, port) pair it
// occupies.
type key struct {
	host string
	port int
}

// Registry is the in-memory port allocation table. All methods are
// safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	ranges map[types.ServiceType]PortRange
	byID   map[string]*types.PortAllocation
	byKey  map[key]string // (host,port) -> allocation ID
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a Registry using the default port ranges and the real
// wall clock.
func New() *Registry {
	return NewWithClock(clock.Real{})
}

// NewWithClock creates a Registry driven by c, so tests can control TTL
// expiry without real sleeps. Each Registry owns its own clock rather
// than sharing one with pkg/orchestration or pkg/hypervisor.
func NewWithClock(c clock.Clock) *Registry {
	ranges := make(map[types.ServiceType]PortRange, len(DefaultRanges))
	for st, r := range DefaultRanges {
		ranges[st] = r
	}
	return &Registry{
		ranges: ranges,
		byID:   make(map[string]*types.PortAllocation),
		byKey:  make(map[key]string),
		clock:  c,
		logger: log.WithComponent("portregistry"),
	}
}

// Allocate reserves the lowest free port in serviceType's range on
// host for serviceName, returning the new allocation. If serviceName
// already holds an Active allocation of the same serviceType, that
// allocation is returned unchanged (allocate is idempotent by name).
// If it holds an Active allocation of a different serviceType,
// Allocate fails with errs.Conflict. A ttl of zero uses DefaultTTL.
// It fails with errs.Configuration if serviceType has no configured
// range, and errs.ExternalService if the range is exhausted.
func (r *Registry) Allocate(serviceName string, serviceType types.ServiceType, host string, ttl time.Duration) (*types.PortAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, alloc := range r.byID {
		if alloc.ServiceName != serviceName || alloc.Status != types.AllocationActive {
			continue
		}
		if alloc.ServiceType != serviceType {
			return nil, errs.NewConflict("service %q already holds an allocation of type %q", serviceName, alloc.ServiceType)
		}
		cp := *alloc
		return &cp, nil
	}

	rng, ok := r.ranges[serviceType]
	if !ok {
		return nil, errs.NewConfiguration("no port range configured for service type %q", serviceType)
	}

	port, ok := r.lowestFreePortLocked(rng, host)
	if !ok {
		metrics.PortExhaustionTotal.WithLabelValues(string(serviceType)).Inc()
		return nil, errs.NewExternalService("port range %d-%d exhausted for service type %q", rng.Low, rng.High, serviceType)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := r.clock.Now()
	alloc := &types.PortAllocation{
		AllocationID:  uuid.NewString(),
		ServiceName:   serviceName,
		ServiceType:   serviceType,
		Port:          port,
		Host:          host,
		Status:        types.AllocationActive,
		LeaseStart:    now,
		LastHeartbeat: now,
		TTL:           ttl,
	}

	r.byID[alloc.AllocationID] = alloc
	r.byKey[key{host: host, port: port}] = alloc.AllocationID
	metrics.PortAllocationsTotal.WithLabelValues(string(serviceType)).Inc()

	r.logger.Info().
		Str("allocation_id", alloc.AllocationID).
		Str("service_name", serviceName).
		Int("port", port).
		Msg("port allocated")

	return alloc, nil
}

// lowestFreePortLocked scans rng in ascending order for a port not
// held by an active allocation on host. Callers must hold r.mu.
func (r *Registry) lowestFreePortLocked(rng PortRange, host string) (int, bool) {
	for p := rng.Low; p <= rng.High; p++ {
		id, taken := r.byKey[key{host: host, port: p}]
		if !taken {
			return p, true
		}
		if alloc := r.byID[id]; alloc != nil && alloc.Status == types.AllocationExpired {
			return p, true
		}
	}
	return 0, false
}

// Release removes an allocation immediately, freeing its port for
// reuse. Releasing an unknown allocation ID is a no-op error, not a
// panic: callers racing a cleanup pass should treat it as idempotent.
func (r *Registry) Release(allocationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	alloc, ok := r.byID[allocationID]
	if !ok {
		return errs.NewNotFound("allocation %q not found", allocationID)
	}

	delete(r.byID, allocationID)
	delete(r.byKey, key{host: alloc.Host, port: alloc.Port})
	metrics.PortAllocationsTotal.WithLabelValues(string(alloc.ServiceType)).Dec()

	r.logger.Info().Str("allocation_id", allocationID).Msg("port released")
	return nil
}

// Heartbeat extends an allocation's lease. It fails with
// errs.NotFound for an unknown ID and errs.Conflict for an allocation
// already marked Expired — the caller must re-allocate instead.
func (r *Registry) Heartbeat(allocationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	alloc, ok := r.byID[allocationID]
	if !ok {
		return errs.NewNotFound("allocation %q not found", allocationID)
	}
	if alloc.Status == types.AllocationExpired {
		return errs.NewConflict("allocation %q already expired", allocationID)
	}

	alloc.LastHeartbeat = r.clock.Now()
	if alloc.Status == types.AllocationDraining {
		alloc.Status = types.AllocationActive
	}
	return nil
}

// Drain marks an allocation as draining: it stays reserved (no other
// caller may claim its port) but CleanupExpired will reap it once its
// TTL elapses without a heartbeat bringing it back to Active.
func (r *Registry) Drain(allocationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	alloc, ok := r.byID[allocationID]
	if !ok {
		return errs.NewNotFound("allocation %q not found", allocationID)
	}
	alloc.Status = types.AllocationDraining
	return nil
}

// CleanupExpired marks every allocation whose TTL has elapsed since
// its last heartbeat as Expired and frees its (host,port) key for
// reuse, returning the allocation IDs it reaped.
func (r *Registry) CleanupExpired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var reaped []string
	for id, alloc := range r.byID {
		if alloc.Status == types.AllocationExpired {
			continue
		}
		if now.Sub(alloc.LastHeartbeat) <= alloc.TTL {
			continue
		}
		alloc.Status = types.AllocationExpired
		delete(r.byKey, key{host: alloc.Host, port: alloc.Port})
		metrics.PortAllocationsTotal.WithLabelValues(string(alloc.ServiceType)).Dec()
		metrics.PortAllocationsExpiredTotal.Inc()
		reaped = append(reaped, id)
	}

	if len(reaped) > 0 {
		r.logger.Warn().Int("count", len(reaped)).Msg("reaped expired port allocations")
	}
	return reaped
}

// GetServicePort returns the active port held by serviceName, if any.
func (r *Registry) GetServicePort(serviceName string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, alloc := range r.byID {
		if alloc.ServiceName == serviceName && alloc.Status != types.AllocationExpired {
			return alloc.Port, true
		}
	}
	return 0, false
}

// ServiceDirectory returns every non-expired allocation, sorted by
// port, for a debug/status view of which services own which ports.
func (r *Registry) ServiceDirectory() []*types.PortAllocation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*types.PortAllocation, 0, len(r.byID))
	for _, alloc := range r.byID {
		if alloc.Status == types.AllocationExpired {
			continue
		}
		cp := *alloc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Stats summarizes registry occupancy per service type.
type Stats struct {
	ServiceType types.ServiceType
	Allocated   int
	Capacity    int
}

// Stats returns occupancy counts for every configured port range.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Stats, 0, len(r.ranges))
	for st, rng := range r.ranges {
		count := 0
		for _, alloc := range r.byID {
			if alloc.ServiceType == st && alloc.Status != types.AllocationExpired {
				count++
			}
		}
		out = append(out, Stats{
			ServiceType: st,
			Allocated:   count,
			Capacity:    rng.High - rng.Low + 1,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceType < out[j].ServiceType })
	return out
}

// CollectMetrics resyncs PortAllocationsTotal from the live table,
// correcting any drift between the incremental Inc/Dec calls in
// Allocate/Release/CleanupExpired and actual occupancy. Satisfies
// pkg/metrics.StatusSource.
func (r *Registry) CollectMetrics() {
	for _, s := range r.Stats() {
		metrics.PortAllocationsTotal.WithLabelValues(string(s.ServiceType)).Set(float64(s.Allocated))
	}
}

// String renders a PortRange as "low-high".
func (p PortRange) String() string {
	return fmt.Sprintf("%d-%d", p.Low, p.High)
}
