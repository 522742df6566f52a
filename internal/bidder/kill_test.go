package bidder

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petemoore/aws-provisioner/internal/fleet"
	"github.com/petemoore/aws-provisioner/internal/inflight"
	"github.com/petemoore/aws-provisioner/internal/workertype"
)

func TestPlanKillStopsAtTarget(t *testing.T) {
	def := workertype.Definition{MinCapacity: 4, InstanceTypes: []workertype.InstanceTypeOption{{Type: "m5.large", Capacity: 2}}}
	instances := []fleet.Instance{
		{InstanceID: "i-1", InstanceType: "m5.large", Region: "us-east-1"},
		{InstanceID: "i-2", InstanceType: "m5.large", Region: "us-east-1"},
		{InstanceID: "i-3", InstanceType: "m5.large", Region: "us-east-1"},
		{InstanceID: "i-4", InstanceType: "m5.large", Region: "us-east-1"},
	}
	// currentCapacity=8 (4 instances * 2), target=4: at most 2 instances may be killed.
	plan := PlanKill(def, 8, 4, nil, nil, instances, false, rand.New(rand.NewPCG(1, 1)))
	assert.Len(t, plan, 2)
	for _, target := range plan {
		assert.Equal(t, TargetInstance, target.Kind)
	}
}

func TestPlanKillOrderPrefersInFlightThenRequestsThenInstances(t *testing.T) {
	def := workertype.Definition{MinCapacity: 0, InstanceTypes: []workertype.InstanceTypeOption{{Type: "m5.large", Capacity: 1}}}
	inFlightRecs := []inflight.Record{{RequestID: "if-1", InstanceType: "m5.large", Region: "us-east-1"}}
	requests := []fleet.Request{{RequestID: "r-1", InstanceType: "m5.large", Region: "us-east-1"}}
	instances := []fleet.Instance{{InstanceID: "i-1", InstanceType: "m5.large", Region: "us-east-1"}}

	plan := PlanKill(def, 3, 0, inFlightRecs, requests, instances, false, rand.New(rand.NewPCG(1, 1)))
	require.Len(t, plan, 3)
	assert.Equal(t, TargetInFlight, plan[0].Kind)
	assert.Equal(t, TargetRequest, plan[1].Kind)
	assert.Equal(t, TargetInstance, plan[2].Kind)
}

func TestPlanKillFullShutdownIgnoresTarget(t *testing.T) {
	def := workertype.Definition{MinCapacity: 10, InstanceTypes: []workertype.InstanceTypeOption{{Type: "m5.large", Capacity: 2}}}
	instances := []fleet.Instance{
		{InstanceID: "i-1", InstanceType: "m5.large", Region: "us-east-1"},
		{InstanceID: "i-2", InstanceType: "m5.large", Region: "us-east-1"},
	}
	plan := PlanKill(def, 4, 10, nil, nil, instances, true, rand.New(rand.NewPCG(1, 1)))
	assert.Len(t, plan, 2)
}

type fakeTerminator struct {
	cancelled, terminated map[string][]string
}

func newFakeTerminator() *fakeTerminator {
	return &fakeTerminator{cancelled: map[string][]string{}, terminated: map[string][]string{}}
}

func (f *fakeTerminator) CancelSpotRequests(ctx context.Context, region string, ids []string) error {
	f.cancelled[region] = append(f.cancelled[region], ids...)
	return nil
}

func (f *fakeTerminator) TerminateInstances(ctx context.Context, region string, ids []string) error {
	f.terminated[region] = append(f.terminated[region], ids...)
	return nil
}

func TestExecuteKillBatchesPerRegionAndClearsInFlight(t *testing.T) {
	tr := inflight.New(0)
	tr.Add(inflight.Record{RequestID: "if-1"})

	plan := []KillTarget{
		{Kind: TargetInFlight, ID: "if-1", Region: "us-east-1"},
		{Kind: TargetRequest, ID: "r-1", Region: "us-east-1"},
		{Kind: TargetInstance, ID: "i-1", Region: "us-west-2"},
	}
	term := newFakeTerminator()

	err := ExecuteKill(context.Background(), plan, term, tr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"if-1", "r-1"}, term.cancelled["us-east-1"])
	assert.ElementsMatch(t, []string{"i-1"}, term.terminated["us-west-2"])
	assert.Equal(t, 0, tr.Len())
}
