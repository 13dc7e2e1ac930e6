package connector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/log"
	"github.com/cuemby/sirsicore/pkg/metrics"
	"github.com/cuemby/sirsicore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// unhealthyAfter is the number of consecutive failed health checks
// before a connector is excluded from agent selection.
const unhealthyAfter = 3

// connHealth tracks consecutive health-check outcomes for one
// connector, the same counters pkg/health.Status keeps for a
// container's health checks.
type connHealth struct {
	consecutiveFailures int
	lastCheck           time.Time
}

// Manager owns three provider-keyed connector tables (AWS/Azure/GCP)
// and routes calls by connector ID. Other providers are rejected at
// creation time.
type Manager struct {
	mu     sync.RWMutex
	aws    map[string]Connector
	azure  map[string]Connector
	gcp    map[string]Connector
	health map[string]*connHealth
	logger zerolog.Logger
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		aws:    make(map[string]Connector),
		azure:  make(map[string]Connector),
		gcp:    make(map[string]Connector),
		health: make(map[string]*connHealth),
		logger: log.WithComponent("connector-manager"),
	}
}

func (m *Manager) tableFor(p Provider) (map[string]Connector, bool) {
	switch p {
	case types.ProviderAWS:
		return m.aws, true
	case types.ProviderAzure:
		return m.azure, true
	case types.ProviderGCP:
		return m.gcp, true
	default:
		return nil, false
	}
}

// Create runs Initialize then HealthCheck on conn and, if both
// succeed, registers it under a freshly generated connector ID. On
// any failure the connector is not retained and the error is returned
// wrapped with context: an Initialize failure keeps the Kind it
// already carries, and a HealthCheck failure is reported as
// errs.ExternalService.
func (m *Manager) Create(ctx context.Context, conn Connector) (string, error) {
	table, ok := m.tableFor(conn.Provider())
	if !ok {
		return "", errs.NewConfiguration("unsupported connector provider %q", conn.Provider())
	}

	if err := conn.Initialize(ctx); err != nil {
		metrics.ConnectorErrorsTotal.WithLabelValues(string(conn.Provider()), "initialize").Inc()
		return "", errs.Wrap(errs.KindOf(err), err, "initialize %s connector", conn.Provider())
	}

	if _, err := conn.HealthCheck(ctx); err != nil {
		metrics.ConnectorErrorsTotal.WithLabelValues(string(conn.Provider()), "health_check").Inc()
		return "", errs.Wrap(errs.ExternalService, err, "%s connector health check failed", conn.Provider())
	}

	id := uuid.NewString()
	conn.SetID(id)

	m.mu.Lock()
	table[id] = conn
	m.health[id] = &connHealth{lastCheck: time.Now()}
	m.mu.Unlock()

	metrics.ConnectorsTotal.WithLabelValues(string(conn.Provider()), "healthy").Inc()
	log.WithConnectorID(m.logger, id).Info().Str("provider", string(conn.Provider())).Msg("connector created")
	return id, nil
}

// get returns the connector for id across all three tables.
func (m *Manager) get(id string) (Connector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.aws[id]; ok {
		return c, true
	}
	if c, ok := m.azure[id]; ok {
		return c, true
	}
	if c, ok := m.gcp[id]; ok {
		return c, true
	}
	return nil, false
}

// Get returns the connector for id, or errs.NotFound.
func (m *Manager) Get(id string) (Connector, error) {
	c, ok := m.get(id)
	if !ok {
		return nil, errs.NewNotFound("connector %q not found", id)
	}
	return c, nil
}

// Discover routes to the connector's Discover and is provider-agnostic
// at the manager layer: every provider returns the same DiscoveryResult
// type, and there are no per-provider discovery methods or result
// types.
func (m *Manager) Discover(ctx context.Context, id string, resourceTypes []string) (DiscoveryResult, error) {
	conn, err := m.Get(id)
	if err != nil {
		return DiscoveryResult{}, err
	}
	timer := metrics.NewTimer()
	result, err := conn.Discover(ctx, resourceTypes)
	timer.ObserveDurationVec(metrics.ConnectorDiscoveryDuration, string(conn.Provider()))
	if err != nil {
		metrics.ConnectorErrorsTotal.WithLabelValues(string(conn.Provider()), "discover").Inc()
	}
	return result, err
}

// EstimateCost routes to the connector's EstimateCost.
func (m *Manager) EstimateCost(ctx context.Context, id string, resources []CloudResource) (map[string]float64, error) {
	conn, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.EstimateCost(ctx, resources)
}

// Recommend routes to the connector's Recommend.
func (m *Manager) Recommend(ctx context.Context, id string, resources []CloudResource) ([]string, error) {
	conn, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.Recommend(ctx, resources)
}

// HealthCheckConnector routes to the provider's health check and
// updates its consecutive-failure count, which IsHealthy consults for
// agent selection.
func (m *Manager) HealthCheckConnector(ctx context.Context, id string) (HealthStatus, error) {
	conn, err := m.Get(id)
	if err != nil {
		return HealthStatus{}, err
	}
	timer := metrics.NewTimer()
	status, err := conn.HealthCheck(ctx)
	timer.ObserveDurationVec(metrics.ConnectorHealthCheckDuration, string(conn.Provider()))
	if err != nil {
		metrics.ConnectorErrorsTotal.WithLabelValues(string(conn.Provider()), "health_check").Inc()
	}
	m.recordHealth(id, err == nil)
	return status, err
}

// recordHealth updates the consecutive-failure counter for id the way
// health.Status.Update tracks a container's checks: any success resets
// the streak, a failure extends it.
func (m *Manager) recordHealth(id string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.health[id]
	if !ok {
		h = &connHealth{}
		m.health[id] = h
	}
	h.lastCheck = time.Now()
	if healthy {
		h.consecutiveFailures = 0
	} else {
		h.consecutiveFailures++
	}
}

// IsHealthy reports false once a connector has failed unhealthyAfter
// consecutive health checks. A connector with no recorded check yet is
// considered healthy.
func (m *Manager) IsHealthy(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.health[id]
	if !ok {
		return true
	}
	return h.consecutiveFailures < unhealthyAfter
}

// ListConnectors returns every registered connector ID, sorted for a
// stable listing.
func (m *Manager) ListConnectors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.aws)+len(m.azure)+len(m.gcp))
	for id := range m.aws {
		ids = append(ids, id)
	}
	for id := range m.azure {
		ids = append(ids, id)
	}
	for id := range m.gcp {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConnectorsByProvider returns the connectors registered for p, used
// by the orchestration engine's agent-selection pass.
func (m *Manager) ConnectorsByProvider(p Provider) []Connector {
	table, ok := m.tableFor(p)
	if !ok {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Connector, 0, len(table))
	for _, c := range table {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// RemoveConnector deletes a connector by ID, or errs.NotFound.
func (m *Manager) RemoveConnector(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.aws[id]; ok {
		delete(m.aws, id)
		delete(m.health, id)
		metrics.ConnectorsTotal.WithLabelValues(string(c.Provider()), "healthy").Dec()
		return nil
	}
	if c, ok := m.azure[id]; ok {
		delete(m.azure, id)
		delete(m.health, id)
		metrics.ConnectorsTotal.WithLabelValues(string(c.Provider()), "healthy").Dec()
		return nil
	}
	if c, ok := m.gcp[id]; ok {
		delete(m.gcp, id)
		delete(m.health, id)
		metrics.ConnectorsTotal.WithLabelValues(string(c.Provider()), "healthy").Dec()
		return nil
	}
	return errs.NewNotFound("connector %q not found", id)
}
