package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/log"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// EC2API is the subset of the EC2 client the provider uses.
type EC2API interface {
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, opts ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, opts ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeInstanceStatus(ctx context.Context, in *ec2.DescribeInstanceStatusInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error)
}

const transportAttempts = 3

// EC2Provider implements Compute on the EC2 API.
type EC2Provider struct {
	api EC2API
}

// NewEC2Provider creates an EC2-backed compute provider.
func NewEC2Provider(api EC2API) *EC2Provider {
	return &EC2Provider{api: api}
}

func (p *EC2Provider) Launch(ctx context.Context, spec LaunchSpec) (types.WorkerInstance, error) {
	logger := log.WithComponent("provider")

	input := &ec2.RunInstancesInput{
		MinCount: aws.Int32(1),
		MaxCount: aws.Int32(1),
		LaunchTemplate: &ec2types.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(spec.TemplateID),
			Version:          aws.String("$Latest"),
		},
		Placement: &ec2types.Placement{
			AvailabilityZone: aws.String(spec.Zone),
		},
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags:         toEC2Tags(spec.Tags),
		}},
	}
	if spec.Market == types.MarketSpot {
		input.InstanceMarketOptions = &ec2types.InstanceMarketOptionsRequest{
			MarketType: ec2types.MarketTypeSpot,
			SpotOptions: &ec2types.SpotMarketOptions{
				SpotInstanceType:             ec2types.SpotInstanceTypeOneTime,
				InstanceInterruptionBehavior: ec2types.InstanceInterruptionBehaviorTerminate,
			},
		}
	}

	out, err := p.api.RunInstances(ctx, input)
	if err != nil {
		return types.WorkerInstance{}, errdefs.ClassifyLaunch("provider.Launch", err)
	}
	if len(out.Instances) == 0 {
		return types.WorkerInstance{}, errdefs.New(errdefs.KindTransport, "provider.Launch")
	}
	inst := out.Instances[0]

	logger.Info().
		Str("instance_id", aws.ToString(inst.InstanceId)).
		Str("zone", spec.Zone).
		Str("market", string(spec.Market)).
		Msg("Launched instance")

	return types.WorkerInstance{
		InstanceID: aws.ToString(inst.InstanceId),
		Zone:       spec.Zone,
		Market:     spec.Market,
		LaunchTime: aws.ToTime(inst.LaunchTime),
		Tags:       spec.Tags,
	}, nil
}

// liveStates are the instance states counted as inventory. Terminated
// instances fall out immediately; shutting-down ones are already gone for
// capacity purposes.
var liveStates = []string{
	string(ec2types.InstanceStateNamePending),
	string(ec2types.InstanceStateNameRunning),
}

func (p *EC2Provider) ListInstances(ctx context.Context, clusterID string) ([]types.WorkerInstance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + types.TagClusterID), Values: []string{clusterID}},
			{Name: aws.String("tag:" + types.TagManagedBy), Values: []string{types.TagManagedByValue}},
			{Name: aws.String("instance-state-name"), Values: liveStates},
		},
	}

	var workers []types.WorkerInstance
	paginator := ec2.NewDescribeInstancesPaginator(p.api, input)
	for paginator.HasMorePages() {
		var page *ec2.DescribeInstancesOutput
		err := p.withRetry(ctx, "provider.ListInstances", func() error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				workers = append(workers, fromEC2Instance(inst))
			}
		}
	}
	return workers, nil
}

func (p *EC2Provider) Terminate(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return p.withRetry(ctx, "provider.Terminate", func() error {
		_, err := p.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: ids,
		})
		return err
	})
}

func (p *EC2Provider) Status(ctx context.Context, ids []string) (map[string]InstanceStatus, error) {
	statuses := lo.SliceToMap(ids, func(id string) (string, InstanceStatus) {
		return id, StatusGone
	})
	if len(ids) == 0 {
		return statuses, nil
	}
	var out *ec2.DescribeInstanceStatusOutput
	err := p.withRetry(ctx, "provider.Status", func() error {
		var err error
		out, err = p.api.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
			InstanceIds:         ids,
			IncludeAllInstances: aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, st := range out.InstanceStatuses {
		switch st.InstanceState.Name {
		case ec2types.InstanceStateNamePending:
			statuses[aws.ToString(st.InstanceId)] = StatusPending
		case ec2types.InstanceStateNameRunning:
			statuses[aws.ToString(st.InstanceId)] = StatusRunning
		case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameShuttingDown:
			statuses[aws.ToString(st.InstanceId)] = StatusStopping
		}
	}
	return statuses, nil
}

// withRetry retries transient API failures with backoff. Launch calls do
// not go through here; their error classification drives the fallback
// logic in the provisioner instead.
func (p *EC2Provider) withRetry(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(transportAttempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return errdefs.Wrap(errdefs.KindTransport, op, err)
	}
	return nil
}

func toEC2Tags(tags map[string]string) []ec2types.Tag {
	return lo.MapToSlice(tags, func(k, v string) ec2types.Tag {
		return ec2types.Tag{Key: aws.String(k), Value: aws.String(v)}
	})
}

func fromEC2Instance(inst ec2types.Instance) types.WorkerInstance {
	tags := lo.SliceToMap(inst.Tags, func(t ec2types.Tag) (string, string) {
		return aws.ToString(t.Key), aws.ToString(t.Value)
	})
	market := types.MarketOnDemand
	if inst.InstanceLifecycle == ec2types.InstanceLifecycleTypeSpot {
		market = types.MarketSpot
	}
	w := types.WorkerInstance{
		InstanceID: aws.ToString(inst.InstanceId),
		Market:     market,
		LaunchTime: aws.ToTime(inst.LaunchTime),
		Tags:       tags,
	}
	if inst.Placement != nil {
		w.Zone = aws.ToString(inst.Placement.AvailabilityZone)
	}
	if w.Zone == "" {
		w.Zone = fmt.Sprintf("unknown-%s", w.InstanceID)
	}
	return w
}
