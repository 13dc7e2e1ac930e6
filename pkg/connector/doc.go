/*
Package connector implements the cloud connector contract and the
manager that owns one connector table per provider.

# Capability Contract

Every connector implements the same five operations regardless of
provider:

	Initialize(ctx) error
	HealthCheck(ctx) (HealthStatus, error)
	Discover(ctx, resourceTypes) (DiscoveryResult, error)
	EstimateCost(ctx, resources) (map[string]float64, error)
	Recommend(ctx, resources) ([]string, error)

# Why Three Tables Instead Of One

The Manager keeps provider-keyed tables (aws/azure/gcp), and creation
rejects any other provider. Each table holds the same Connector
interface, and all calls are routed by connector ID through the same
methods: Discover returns the shared DiscoveryResult for every
provider, and EstimateCost on an Azure or GCP connector returns an
empty map (only the AWS connector produces cost estimates).

# Usage

	mgr := connector.NewManager()
	conn := connector.NewAWSConnector("", connector.AWSConfig{Region: "us-east-1"})
	id, err := mgr.Create(ctx, conn)
	result, err := mgr.Discover(ctx, id, []string{"ec2_instance"})
*/
package connector
