package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/types"
)

// AzureConfig configures an Azure connector.
type AzureConfig struct {
	SubscriptionID string
	TenantID       string
	ClientID       string
	ClientSecret   string
	Region         string
}

// AzureConnector is the Azure provider's connector. Its Discover is a
// stub that returns the shared DiscoveryResult with no resources.
type AzureConnector struct {
	id     string
	cfg    AzureConfig
	mu     sync.RWMutex
	health HealthStatus

	cred       azcore.TokenCredential
	credScopes []string
}

// NewAzureConnector constructs an uninitialized Azure connector.
func NewAzureConnector(id string, cfg AzureConfig) *AzureConnector {
	return &AzureConnector{id: id, cfg: cfg}
}

func (c *AzureConnector) ID() string        { return c.id }
func (c *AzureConnector) SetID(id string)   { c.id = id }
func (c *AzureConnector) Provider() Provider { return types.ProviderAzure }
func (c *AzureConnector) Capabilities() []types.Capability {
	return []types.Capability{"discover", "recommend", "health_check"}
}

// Initialize builds an Azure AD client-secret credential. Azure's SDK
// defers all network calls to first use, so Initialize does not by
// itself prove reachability — HealthCheck does that.
func (c *AzureConnector) Initialize(ctx context.Context) error {
	if c.cfg.SubscriptionID == "" || c.cfg.TenantID == "" || c.cfg.ClientID == "" {
		return errs.NewConfiguration("azure connector requires subscription_id, tenant_id and client_id")
	}

	cred, err := azidentity.NewClientSecretCredential(c.cfg.TenantID, c.cfg.ClientID, c.cfg.ClientSecret, nil)
	if err != nil {
		return errs.Wrap(errs.Configuration, err, "building azure client secret credential")
	}

	c.cred = cred
	c.credScopes = []string{"https://management.azure.com/.default"}
	return nil
}

// HealthCheck requests an access token for the management scope as a
// cheap identity check; it does not call any resource API.
func (c *AzureConnector) HealthCheck(ctx context.Context) (HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: c.credScopes})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = HealthStatus{Healthy: err == nil, CheckedAt: time.Now()}
	if err != nil {
		c.health.Message = err.Error()
		return c.health, errs.Wrap(errs.ExternalService, err, "azure identity token request failed")
	}
	return c.health, nil
}

// Discover is a documented stub: enumerating Azure resource groups
// and their members requires the armresources SDK module, which is
// out of scope for exercising the connector contract. It returns an
// empty result with an explanatory warning rather than fabricating
// data.
func (c *AzureConnector) Discover(ctx context.Context, resourceTypes []string) (DiscoveryResult, error) {
	return DiscoveryResult{
		Warnings: []string{"azure resource discovery requires the armresources client and is not wired in this build"},
	}, nil
}

// EstimateCost is unsupported for Azure in the spec surface; it
// returns an empty map rather than an error.
func (c *AzureConnector) EstimateCost(ctx context.Context, resources []CloudResource) (map[string]float64, error) {
	return map[string]float64{}, nil
}

// Recommend offers generic advice; Azure carries no cost signal to
// sharpen it beyond resource count.
func (c *AzureConnector) Recommend(ctx context.Context, resources []CloudResource) ([]string, error) {
	if len(resources) == 0 {
		return nil, nil
	}
	return []string{fmt.Sprintf("review %d azure resources for unused reservations", len(resources))}, nil
}
