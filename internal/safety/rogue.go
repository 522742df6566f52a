// Package safety implements the two safety killers of spec §4.6: the rogue
// killer (worker types observed in cloud state but absent from the
// configured set) and the age killer (instances older than the configured
// max instance life).
package safety

import (
	"context"

	"go.uber.org/multierr"

	"github.com/petemoore/aws-provisioner/internal/bidder"
	"github.com/petemoore/aws-provisioner/internal/fleet"
	"github.com/petemoore/aws-provisioner/internal/inflight"
)

// KeyPairDeleter is the narrow capability the rogue killer needs from the
// key-pair manager.
type KeyPairDeleter interface {
	DeleteAll(ctx context.Context, workerType string, regions []string) error
}

// RogueWorkerTypes returns every worker-type name observed across
// instances, requests, or in-flight records that is not present in
// configured. Calling with an empty configured set makes every observed
// worker type rogue — spec §4.6: "Called with an empty set, it acts as a
// global stop."
func RogueWorkerTypes(configured map[string]bool, snapshot fleet.Snapshot, inFlightWorkerTypes []string) []string {
	seen := make(map[string]bool)
	var rogue []string
	consider := func(wt string) {
		if seen[wt] || configured[wt] {
			return
		}
		seen[wt] = true
		rogue = append(rogue, wt)
	}
	for _, wt := range snapshot.WorkerTypes() {
		consider(wt)
	}
	for _, wt := range inFlightWorkerTypes {
		consider(wt)
	}
	return rogue
}

// KillRogue cancels every request, terminates every instance, and deletes
// the key pair (in every region in allRegions) for workerType. It operates
// across all regions present in the snapshot plus allRegions, since a
// rogue worker type by definition isn't in any worker-type definition that
// would otherwise tell us which regions it used.
func KillRogue(ctx context.Context, workerType string, snapshot fleet.Snapshot, inFlightRecords []inflight.Record, allRegions []string, terminator bidder.Terminator, keyManager KeyPairDeleter, tracker *inflight.Tracker) error {
	requestsByRegion := make(map[string][]string)
	for _, r := range snapshot.RequestsFor(workerType) {
		requestsByRegion[r.Region] = append(requestsByRegion[r.Region], r.RequestID)
	}
	instancesByRegion := make(map[string][]string)
	for _, i := range snapshot.InstancesFor(workerType) {
		instancesByRegion[i.Region] = append(instancesByRegion[i.Region], i.InstanceID)
	}
	for _, rec := range inFlightRecords {
		if rec.WorkerType != workerType {
			continue
		}
		requestsByRegion[rec.Region] = append(requestsByRegion[rec.Region], rec.RequestID)
		if tracker != nil {
			tracker.Remove(rec.RequestID)
		}
	}

	var combined error
	for region, ids := range requestsByRegion {
		if err := terminator.CancelSpotRequests(ctx, region, ids); err != nil {
			combined = multierr.Append(combined, err)
		}
	}
	for region, ids := range instancesByRegion {
		if err := terminator.TerminateInstances(ctx, region, ids); err != nil {
			combined = multierr.Append(combined, err)
		}
	}
	if err := keyManager.DeleteAll(ctx, workerType, allRegions); err != nil {
		combined = multierr.Append(combined, err)
	}
	return combined
}
