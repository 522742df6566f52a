package bidder

import (
	"context"
	"math/rand/v2"

	"go.uber.org/multierr"

	"github.com/petemoore/aws-provisioner/internal/fleet"
	"github.com/petemoore/aws-provisioner/internal/inflight"
	"github.com/petemoore/aws-provisioner/internal/workertype"
)

// TargetKind distinguishes the three kill-order tiers of spec §4.4.
type TargetKind int

const (
	TargetInFlight TargetKind = iota
	TargetRequest
	TargetInstance
)

// KillTarget is one resource selected for termination.
type KillTarget struct {
	Kind     TargetKind
	ID       string // request_id for InFlight/Request, instance_id for Instance
	Region   string
	Capacity int
}

// Terminator is the narrow cloud-facing capability excess-kill needs,
// batched per region per spec §4.4: "Kills are batched per region into one
// cancelSpotRequests call and one terminateInstances call."
type Terminator interface {
	CancelSpotRequests(ctx context.Context, region string, ids []string) error
	TerminateInstances(ctx context.Context, region string, ids []string) error
}

// PlanKill selects which resources to kill to bring currentCapacity back
// down to target. Order is in-flight requests, then open spot requests
// (shuffled), then instances (shuffled) — spec §4.4. It stops as soon as
// removing the next candidate would push capacity below target, unless
// fullShutdown is true (the rogue-killer / worker-type-removal case, spec
// §4.4 and §4.6), in which case it drains to zero regardless of target.
func PlanKill(def workertype.Definition, currentCapacity, target int, inFlightRecords []inflight.Record, requests []fleet.Request, instances []fleet.Instance, fullShutdown bool, rng *rand.Rand) []KillTarget {
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2))
	}

	var plan []KillTarget
	remaining := currentCapacity
	floor := target
	if fullShutdown {
		floor = 0
	}

	stopped := false
	tryAdd := func(kind TargetKind, id, region string, capacity int) bool {
		if stopped || (remaining <= floor && !fullShutdown) {
			return false
		}
		if !fullShutdown && remaining-capacity < floor {
			// Would overshoot below the floor: stop planning here, so no
			// later candidate (of any tier) is considered either.
			stopped = true
			return false
		}
		plan = append(plan, KillTarget{Kind: kind, ID: id, Region: region, Capacity: capacity})
		remaining -= capacity
		return true
	}

	for _, r := range inFlightRecords {
		if remaining <= floor && !fullShutdown {
			break
		}
		tryAdd(TargetInFlight, r.RequestID, r.Region, def.CapacityOf(r.InstanceType))
	}

	shuffledRequests := append([]fleet.Request(nil), requests...)
	rng.Shuffle(len(shuffledRequests), func(i, j int) {
		shuffledRequests[i], shuffledRequests[j] = shuffledRequests[j], shuffledRequests[i]
	})
	for _, req := range shuffledRequests {
		if remaining <= floor && !fullShutdown {
			break
		}
		tryAdd(TargetRequest, req.RequestID, req.Region, def.CapacityOf(req.InstanceType))
	}

	shuffledInstances := append([]fleet.Instance(nil), instances...)
	rng.Shuffle(len(shuffledInstances), func(i, j int) {
		shuffledInstances[i], shuffledInstances[j] = shuffledInstances[j], shuffledInstances[i]
	})
	for _, inst := range shuffledInstances {
		if remaining <= floor && !fullShutdown {
			break
		}
		tryAdd(TargetInstance, inst.InstanceID, inst.Region, def.CapacityOf(inst.InstanceType))
	}

	return plan
}

// ExecuteKill batches plan per region into one CancelSpotRequests call and
// one TerminateInstances call, per spec §4.4. In-flight targets are
// cancelled the same way as open requests (they already have a real
// request_id, just not yet visible in a snapshot) and removed from
// tracker; requests are cancelled; instances are terminated. Partial
// failures are logged by the caller via the returned error (spec §7: "Kill
// failure → logged; item remains tracked and will be re-attempted next
// iteration" — tracker removal below only happens for in-flight targets
// since those are the only ones this package itself tracks).
func ExecuteKill(ctx context.Context, plan []KillTarget, terminator Terminator, tracker *inflight.Tracker) error {
	cancelIDsByRegion := make(map[string][]string)
	terminateIDsByRegion := make(map[string][]string)
	var inFlightIDs []string

	for _, t := range plan {
		switch t.Kind {
		case TargetInFlight:
			cancelIDsByRegion[t.Region] = append(cancelIDsByRegion[t.Region], t.ID)
			inFlightIDs = append(inFlightIDs, t.ID)
		case TargetRequest:
			cancelIDsByRegion[t.Region] = append(cancelIDsByRegion[t.Region], t.ID)
		case TargetInstance:
			terminateIDsByRegion[t.Region] = append(terminateIDsByRegion[t.Region], t.ID)
		}
	}

	var combined error
	for region, ids := range cancelIDsByRegion {
		if err := terminator.CancelSpotRequests(ctx, region, ids); err != nil {
			combined = multierr.Append(combined, err)
		}
	}
	for region, ids := range terminateIDsByRegion {
		if err := terminator.TerminateInstances(ctx, region, ids); err != nil {
			combined = multierr.Append(combined, err)
		}
	}

	if tracker != nil {
		for _, id := range inFlightIDs {
			tracker.Remove(id)
		}
	}
	return combined
}
