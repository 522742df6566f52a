// Package bidder implements capacity accounting, price selection, and
// excess termination — spec §4.4. Given a worker-type definition and the
// current fleet state, it decides how many new bids to place, at which
// (region, zone, instance-type, price), and which resources to kill when
// over bounds.
package bidder

import (
	"math"

	"github.com/petemoore/aws-provisioner/internal/fleet"
	"github.com/petemoore/aws-provisioner/internal/inflight"
	"github.com/petemoore/aws-provisioner/internal/workertype"
)

// countableInstanceStates are the instance states that contribute to
// current capacity — anything already winding down does not.
var countableInstanceStates = map[fleet.InstanceState]bool{
	fleet.InstanceStatePending: true,
	fleet.InstanceStateRunning: true,
}

// CurrentCapacity computes C for a worker type: spec §4.4 — instances in
// countable states, plus all open requests (a request not yet fulfilled
// still reserves capacity the moment it's accepted), plus in-flight
// records for the same worker type so a bid this iteration already placed,
// but not yet visible, isn't double-counted away.
func CurrentCapacity(def workertype.Definition, instances []fleet.Instance, requests []fleet.Request, inFlightRecords []inflight.Record) int {
	total := 0
	for _, i := range instances {
		if countableInstanceStates[i.State] {
			total += def.CapacityOf(i.InstanceType)
		}
	}
	for _, r := range requests {
		total += def.CapacityOf(r.InstanceType)
	}
	for _, rec := range inFlightRecords {
		total += def.CapacityOf(rec.InstanceType)
	}
	return total
}

// TargetCapacity computes T and the provisioning delta per spec §4.4:
// T = ceil(pending_tasks / scaling_ratio) when scaling_ratio > 0, else T =
// pending_tasks; clamped to [min_capacity, max_capacity]. delta =
// max(0, T-C).
func TargetCapacity(def workertype.Definition, pendingTasks int, current int) (target int, delta int) {
	var t float64
	if def.ScalingRatio > 0 {
		t = math.Ceil(float64(pendingTasks) / def.ScalingRatio)
	} else {
		t = float64(pendingTasks)
	}
	target = int(t)
	if target < def.MinCapacity {
		target = def.MinCapacity
	}
	if target > def.MaxCapacity {
		target = def.MaxCapacity
	}
	delta = target - current
	if delta < 0 {
		delta = 0
	}
	return target, delta
}
