package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/types"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// GCPConfig configures a GCP connector.
type GCPConfig struct {
	ProjectID       string
	Zone            string
	CredentialsJSON []byte
}

// GCPConnector discovers Compute Engine instances in one zone and
// returns them in the shared DiscoveryResult, with the zone stored in
// each CloudResource's Region field.
type GCPConnector struct {
	id     string
	cfg    GCPConfig
	mu     sync.RWMutex
	health HealthStatus

	computeSvc *compute.Service
}

// NewGCPConnector constructs an uninitialized GCP connector.
func NewGCPConnector(id string, cfg GCPConfig) *GCPConnector {
	return &GCPConnector{id: id, cfg: cfg}
}

func (c *GCPConnector) ID() string        { return c.id }
func (c *GCPConnector) SetID(id string)   { c.id = id }
func (c *GCPConnector) Provider() Provider { return types.ProviderGCP }
func (c *GCPConnector) Capabilities() []types.Capability {
	return []types.Capability{"discover", "recommend", "health_check"}
}

// Initialize constructs a Compute Engine client from the provided
// service-account JSON, or application-default credentials if none
// was given.
func (c *GCPConnector) Initialize(ctx context.Context) error {
	if c.cfg.ProjectID == "" || c.cfg.Zone == "" {
		return errs.NewConfiguration("gcp connector requires project_id and zone")
	}

	var opts []option.ClientOption
	if len(c.cfg.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(c.cfg.CredentialsJSON))
	}

	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return errs.Wrap(errs.Configuration, err, "building gcp compute client")
	}
	c.computeSvc = svc
	return nil
}

// HealthCheck lists at most one instance in the configured zone as a
// cheap reachability probe.
func (c *GCPConnector) HealthCheck(ctx context.Context) (HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := c.computeSvc.Instances.List(c.cfg.ProjectID, c.cfg.Zone).MaxResults(1).Context(ctx).Do()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = HealthStatus{Healthy: err == nil, CheckedAt: time.Now()}
	if err != nil {
		c.health.Message = err.Error()
		return c.health, errs.Wrap(errs.ExternalService, err, "gcp compute.instances.list health check failed")
	}
	return c.health, nil
}

// Discover lists Compute Engine instances in the connector's zone and
// normalizes them into CloudResource.
func (c *GCPConnector) Discover(ctx context.Context, resourceTypes []string) (DiscoveryResult, error) {
	var result DiscoveryResult

	wantInstances := len(resourceTypes) == 0
	for _, rt := range resourceTypes {
		switch rt {
		case "compute_instance", "instance":
			wantInstances = true
		default:
			result.Warnings = append(result.Warnings, fmt.Sprintf("unsupported resource type %q for gcp", rt))
		}
	}
	if !wantInstances {
		return result, nil
	}

	call := c.computeSvc.Instances.List(c.cfg.ProjectID, c.cfg.Zone).Context(ctx)
	err := call.Pages(ctx, func(page *compute.InstanceList) error {
		for _, inst := range page.Items {
			result.Resources = append(result.Resources, CloudResource{
				Provider:     types.ProviderGCP,
				ResourceType: "compute_instance",
				ResourceID:   fmt.Sprintf("%d", inst.Id),
				Name:         inst.Name,
				Region:       c.cfg.Zone,
				Tags:         labelsToTags(inst.Labels),
				Metadata:     map[string]string{"machine_type": inst.MachineType, "status": inst.Status},
			})
		}
		return nil
	})
	if err != nil {
		return result, errs.Wrap(errs.ExternalService, err, "gcp compute.instances.list failed")
	}
	return result, nil
}

func labelsToTags(labels map[string]string) map[string]string {
	if labels == nil {
		return map[string]string{}
	}
	return labels
}

// EstimateCost is unsupported for GCP in the spec surface.
func (c *GCPConnector) EstimateCost(ctx context.Context, resources []CloudResource) (map[string]float64, error) {
	return map[string]float64{}, nil
}

// Recommend offers generic advice based on instance status.
func (c *GCPConnector) Recommend(ctx context.Context, resources []CloudResource) ([]string, error) {
	stopped := 0
	for _, r := range resources {
		if r.Metadata["status"] == "TERMINATED" {
			stopped++
		}
	}
	if stopped == 0 {
		return nil, nil
	}
	return []string{fmt.Sprintf("%d gcp instances are stopped; consider deleting unused disks", stopped)}, nil
}
