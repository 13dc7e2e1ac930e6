package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/cuemby/sirsicore/pkg/errs"
	"github.com/cuemby/sirsicore/pkg/types"
)

// AWSConfig configures an AWS connector.
type AWSConfig struct {
	Region        string
	AccessKeyID   string
	SecretKey     string
	RoleARN       string
	ExternalID    string
}

// AWSConnector discovers EC2 resources and estimates their cost via
// CloudWatch. It is the only provider the spec requires cost
// estimation from.
type AWSConnector struct {
	id     string
	cfg    AWSConfig
	mu     sync.RWMutex
	health HealthStatus

	ec2Client        *ec2.Client
	cloudwatchClient *cloudwatch.Client
}

// NewAWSConnector constructs an uninitialized AWS connector; call
// Initialize before any other method.
func NewAWSConnector(id string, cfg AWSConfig) *AWSConnector {
	return &AWSConnector{id: id, cfg: cfg}
}

func (c *AWSConnector) ID() string            { return c.id }
func (c *AWSConnector) SetID(id string)       { c.id = id }
func (c *AWSConnector) Provider() Provider     { return types.ProviderAWS }
func (c *AWSConnector) Capabilities() []types.Capability {
	return []types.Capability{"discover", "estimate_cost", "recommend", "health_check"}
}

// Initialize loads AWS SDK configuration for the connector's region
// and constructs its EC2 and CloudWatch clients.
func (c *AWSConnector) Initialize(ctx context.Context) error {
	if c.cfg.Region == "" {
		return errs.NewConfiguration("aws connector requires a region")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.cfg.Region)}
	if c.cfg.AccessKeyID != "" && c.cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     c.cfg.AccessKeyID,
					SecretAccessKey: c.cfg.SecretKey,
				}, nil
			},
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return errs.Wrap(errs.Configuration, err, "loading aws config")
	}

	c.ec2Client = ec2.NewFromConfig(awsCfg)
	c.cloudwatchClient = cloudwatch.NewFromConfig(awsCfg)
	return nil
}

// HealthCheck issues a bounded DescribeInstances call with MaxResults
// set to the API minimum, treating a reachable API as healthy
// regardless of how many instances exist.
func (c *AWSConnector) HealthCheck(ctx context.Context) (HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := c.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		MaxResults: aws.Int32(5),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = HealthStatus{Healthy: err == nil, CheckedAt: time.Now()}
	if err != nil {
		c.health.Message = err.Error()
		return c.health, errs.Wrap(errs.ExternalService, err, "aws ec2:DescribeInstances health check failed")
	}
	return c.health, nil
}

// Discover lists EC2 instances and normalizes them into CloudResource.
// resourceTypes not recognized produce a warning rather than a hard
// failure, matching the partial-success contract in spec §7.
func (c *AWSConnector) Discover(ctx context.Context, resourceTypes []string) (DiscoveryResult, error) {
	var result DiscoveryResult

	wantInstances := len(resourceTypes) == 0
	for _, rt := range resourceTypes {
		switch rt {
		case "ec2_instance", "instance":
			wantInstances = true
		default:
			result.Warnings = append(result.Warnings, fmt.Sprintf("unsupported resource type %q for aws", rt))
		}
	}
	if !wantInstances {
		return result, nil
	}

	out, err := c.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{})
	if err != nil {
		return result, errs.Wrap(errs.ExternalService, err, "aws ec2:DescribeInstances failed")
	}

	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if inst.InstanceId == nil {
				continue
			}
			tags := make(map[string]string, len(inst.Tags))
			name := ""
			for _, t := range inst.Tags {
				if t.Key == nil || t.Value == nil {
					continue
				}
				tags[*t.Key] = *t.Value
				if *t.Key == "Name" {
					name = *t.Value
				}
			}
			result.Resources = append(result.Resources, CloudResource{
				Provider:     types.ProviderAWS,
				ResourceType: "ec2_instance",
				ResourceID:   *inst.InstanceId,
				Name:         name,
				Region:       c.cfg.Region,
				Tags:         tags,
				Metadata:     map[string]string{"instance_type": string(inst.InstanceType)},
			})
		}
	}
	return result, nil
}

// EstimateCost pulls the CloudWatch EstimatedCharges metric as a
// coarse, whole-account proxy and divides it evenly across the given
// resources. This is deliberately a rough estimate — AWS has no
// per-instance billing API suitable for a cheap synchronous call.
func (c *AWSConnector) EstimateCost(ctx context.Context, resources []CloudResource) (map[string]float64, error) {
	if len(resources) == 0 {
		return map[string]float64{}, nil
	}

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	out, err := c.cloudwatchClient.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/Billing"),
		MetricName: aws.String("EstimatedCharges"),
		StartTime:  &start,
		EndTime:    &end,
		Period:     aws.Int32(86400),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticMaximum},
	})

	var total float64
	if err == nil && len(out.Datapoints) > 0 {
		dp := out.Datapoints[len(out.Datapoints)-1]
		if dp.Maximum != nil {
			total = *dp.Maximum
		}
	}

	perResource := total / float64(len(resources))
	estimate := make(map[string]float64, len(resources))
	for _, r := range resources {
		estimate[r.ResourceID] = perResource
	}
	return estimate, nil
}

// Recommend offers generic cost/ops advice keyed off resource count;
// the core treats the result as opaque freeform text.
func (c *AWSConnector) Recommend(ctx context.Context, resources []CloudResource) ([]string, error) {
	if len(resources) == 0 {
		return nil, nil
	}
	recs := []string{
		fmt.Sprintf("review %d ec2 instances for right-sizing opportunities", len(resources)),
	}
	untagged := 0
	for _, r := range resources {
		if len(r.Tags) == 0 {
			untagged++
		}
	}
	if untagged > 0 {
		recs = append(recs, fmt.Sprintf("%d instances have no tags; apply a cost-allocation tagging policy", untagged))
	}
	return recs, nil
}
