package bidder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/petemoore/aws-provisioner/internal/fleet"
	"github.com/petemoore/aws-provisioner/internal/inflight"
	"github.com/petemoore/aws-provisioner/internal/workertype"
)

func def2x(minCap, maxCap int, ratio float64) workertype.Definition {
	return workertype.Definition{
		MinCapacity:  minCap,
		MaxCapacity:  maxCap,
		ScalingRatio: ratio,
		InstanceTypes: []workertype.InstanceTypeOption{
			{Type: "m5.large", Capacity: 2},
			{Type: "m5.xlarge", Capacity: 4},
		},
	}
}

func TestCurrentCapacityCountsInstancesRequestsAndInFlight(t *testing.T) {
	def := def2x(0, 100, 1)
	instances := []fleet.Instance{
		{InstanceType: "m5.large", State: fleet.InstanceStateRunning},
		{InstanceType: "m5.large", State: fleet.InstanceStateShuttingDown}, // not countable
	}
	requests := []fleet.Request{{InstanceType: "m5.xlarge"}}
	inFlight := []inflight.Record{{InstanceType: "unknown-type"}}

	got := CurrentCapacity(def, instances, requests, inFlight)
	// 2 (running m5.large) + 4 (open m5.xlarge request) + 1 (unknown type defaults to 1)
	assert.Equal(t, 7, got)
}

func TestTargetCapacityClampsToBounds(t *testing.T) {
	def := def2x(2, 10, 5)

	target, delta := TargetCapacity(def, 0, 0)
	assert.Equal(t, 2, target) // clamped up to min
	assert.Equal(t, 2, delta)

	target, delta = TargetCapacity(def, 100, 3)
	assert.Equal(t, 10, target) // clamped down to max
	assert.Equal(t, 7, delta)

	target, delta = TargetCapacity(def, 12, 20)
	assert.Equal(t, 3, target) // ceil(12/5)=3, within bounds
	assert.Equal(t, 0, delta)  // current already above target
}

func TestTargetCapacityWithZeroScalingRatio(t *testing.T) {
	def := def2x(0, 50, 0)
	target, delta := TargetCapacity(def, 17, 10)
	assert.Equal(t, 17, target)
	assert.Equal(t, 7, delta)
}
