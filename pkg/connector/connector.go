// Package connector implements the uniform cloud-connector contract
// (initialize, health-check, discover, estimate cost, recommend) and
// the Manager that owns one table of connectors per provider.
//
// The manager keeps three separate provider-keyed tables instead of a
// single map. All three hold the same Connector interface, and every
// provider's Discover returns the shared DiscoveryResult of normalized
// CloudResource values; there are no provider-specific result types.
package connector

import (
	"context"
	"time"

	"github.com/cuemby/sirsicore/pkg/types"
)

// Provider mirrors types.CloudProvider but is scoped to this package
// so connector code never has to qualify the import.
type Provider = types.CloudProvider

// Config is the shared connector configuration every provider accepts
// on creation.
type Config struct {
	Provider    Provider
	Region      string
	Credentials map[string]string
	Metadata    map[string]string
}

// CloudResource is the normalized resource shape returned by Discover,
// common across providers.
type CloudResource struct {
	Provider      Provider
	ResourceType  string
	ResourceID    string
	Name          string
	Region        string
	Tags          map[string]string
	Metadata      map[string]string
	CostEstimate  *float64
}

// DiscoveryResult is the uniform discovery envelope: the resources
// found plus any non-fatal warnings (e.g. a resource type the
// provider's API rejected).
type DiscoveryResult struct {
	Resources []CloudResource
	Warnings  []string
}

// HealthStatus is the last observed health of a connector.
type HealthStatus struct {
	Healthy   bool
	CheckedAt time.Time
	Message   string
}

// Connector is the capability contract every provider implements.
// Implementations must be safe for concurrent use of HealthCheck,
// Discover, EstimateCost and Recommend once Initialize has returned
// successfully — per the design note, connectors are shared read-only
// after creation aside from their last-health-check timestamp.
type Connector interface {
	// ID returns the opaque connector ID assigned at creation.
	ID() string
	// SetID assigns the connector ID generated by Manager.Create. It
	// is not meant to be called outside that path.
	SetID(id string)
	// Provider returns the connector's cloud provider.
	Provider() Provider
	// Capabilities lists the named abilities this connector declares,
	// used by the orchestration engine's agent-selection matching.
	Capabilities() []types.Capability
	// Initialize validates credentials and constructs provider
	// clients. Fails with errs.Configuration on bad inputs and
	// errs.ExternalService if the provider is unreachable.
	Initialize(ctx context.Context) error
	// HealthCheck performs a cheap identity/ping call.
	HealthCheck(ctx context.Context) (HealthStatus, error)
	// Discover returns resources of the given types, normalized to
	// CloudResource, plus any partial-failure warnings.
	Discover(ctx context.Context, resourceTypes []string) (DiscoveryResult, error)
	// EstimateCost returns a monthly USD estimate per resource ID.
	// Providers that do not support cost estimation return an empty
	// map rather than an error.
	EstimateCost(ctx context.Context, resources []CloudResource) (map[string]float64, error)
	// Recommend returns freeform advice strings, opaque to the core.
	Recommend(ctx context.Context, resources []CloudResource) ([]string, error)
}
