// Package testutil provides in-memory fakes for the external collaborators
// this module consumes (spec §6), so the reconciler's full iteration can be
// exercised end to end without a real AWS account or a real Store/Queue
// backend — mirroring spec §8's "fakes live in internal/testutil ... no
// network, no real AWS."
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// FakeEC2 is a minimal in-memory stand-in for cloud.EC2API. It supports
// exactly the filter values this module's adapter sends (instance-state-name,
// state) and nothing else — enough to drive S1/S3/S6-style scenarios
// without a real account.
type FakeEC2 struct {
	mu sync.Mutex

	instances    map[string]types.Instance
	spotRequests map[string]types.SpotInstanceRequest
	keyPairs     map[string]bool

	nextID int
}

// NewFakeEC2 constructs an empty FakeEC2.
func NewFakeEC2() *FakeEC2 {
	return &FakeEC2{
		instances:    map[string]types.Instance{},
		spotRequests: map[string]types.SpotInstanceRequest{},
		keyPairs:     map[string]bool{},
	}
}

// SeedInstance inserts an instance directly, bypassing RequestSpotInstances,
// for scenarios that start from a non-empty fleet (S2, S4, S6).
func (f *FakeEC2) SeedInstance(inst types.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[*inst.InstanceId] = inst
}

// SeedSpotRequest inserts a spot request directly.
func (f *FakeEC2) SeedSpotRequest(sr types.SpotInstanceRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spotRequests[*sr.SpotInstanceRequestId] = sr
}

func hasState(states []string, want string) bool {
	for _, s := range states {
		if s == want {
			return true
		}
	}
	return false
}

func filterValues(filters []types.Filter, name string) []string {
	for _, f := range filters {
		if f.Name != nil && *f.Name == name {
			return f.Values
		}
	}
	return nil
}

func (f *FakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	states := filterValues(in.Filters, "instance-state-name")
	var reservation types.Reservation
	for _, inst := range f.instances {
		if inst.State != nil && hasState(states, string(inst.State.Name)) {
			reservation.Instances = append(reservation.Instances, inst)
		}
	}
	out := &ec2.DescribeInstancesOutput{}
	if len(reservation.Instances) > 0 {
		out.Reservations = []types.Reservation{reservation}
	}
	return out, nil
}

func (f *FakeEC2) DescribeSpotInstanceRequests(ctx context.Context, in *ec2.DescribeSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotInstanceRequestsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	states := filterValues(in.Filters, "state")
	out := &ec2.DescribeSpotInstanceRequestsOutput{}
	for _, sr := range f.spotRequests {
		if hasState(states, string(sr.State)) {
			out.SpotInstanceRequests = append(out.SpotInstanceRequests, sr)
		}
	}
	return out, nil
}

func (f *FakeEC2) RequestSpotInstances(ctx context.Context, in *ec2.RequestSpotInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sir-%06d", f.nextID)
	sr := types.SpotInstanceRequest{
		SpotInstanceRequestId: &id,
		State:                 types.SpotInstanceStateOpen,
		Status:                &types.SpotInstanceStatus{Code: strPtr("pending-evaluation")},
		SpotPrice:             in.SpotPrice,
		LaunchSpecification: &types.LaunchSpecification{
			ImageId:      in.LaunchSpecification.ImageId,
			InstanceType: in.LaunchSpecification.InstanceType,
			KeyName:      in.LaunchSpecification.KeyName,
			Placement:    in.LaunchSpecification.Placement,
		},
	}
	f.spotRequests[id] = sr
	return &ec2.RequestSpotInstancesOutput{SpotInstanceRequests: []types.SpotInstanceRequest{sr}}, nil
}

func (f *FakeEC2) CancelSpotInstanceRequests(ctx context.Context, in *ec2.CancelSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.SpotInstanceRequestIds {
		delete(f.spotRequests, id)
	}
	return &ec2.CancelSpotInstanceRequestsOutput{}, nil
}

func (f *FakeEC2) TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.InstanceIds {
		delete(f.instances, id)
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *FakeEC2) ImportKeyPair(ctx context.Context, in *ec2.ImportKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyPairs[*in.KeyName] = true
	return &ec2.ImportKeyPairOutput{}, nil
}

func (f *FakeEC2) DescribeKeyPairs(ctx context.Context, in *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &ec2.DescribeKeyPairsOutput{}
	for name := range f.keyPairs {
		out.KeyPairs = append(out.KeyPairs, types.KeyPairInfo{KeyName: strPtr(name)})
	}
	return out, nil
}

func (f *FakeEC2) DeleteKeyPair(ctx context.Context, in *ec2.DeleteKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keyPairs, *in.KeyName)
	return &ec2.DeleteKeyPairOutput{}, nil
}

func (f *FakeEC2) CreateTags(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	return &ec2.CreateTagsOutput{}, nil
}

func strPtr(s string) *string { return &s }
