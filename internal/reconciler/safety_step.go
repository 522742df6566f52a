package reconciler

import (
	"context"
	"time"

	"github.com/petemoore/aws-provisioner/internal/fleet"
	"github.com/petemoore/aws-provisioner/internal/metrics"
	"github.com/petemoore/aws-provisioner/internal/safety"
)

// runRogueKiller tears down every worker type observed in cloud state (or
// in-flight) but absent from configured, spec §4.6.
func (r *Reconciler) runRogueKiller(ctx context.Context, configured map[string]bool, current fleet.Snapshot) {
	allRegions := r.Adapter.Regions()
	rogue := safety.RogueWorkerTypes(configured, current, r.InFlight.WorkerTypes())
	for _, wt := range rogue {
		records := r.InFlight.ForWorkerType(wt)
		if err := safety.KillRogue(ctx, wt, current, records, allRegions, r.Adapter, r.KeyManager, r.InFlight); err != nil {
			r.Log.Warnw("rogue kill partially failed", "worker_type", wt, "error", err)
			continue
		}
		metrics.KillsIssued.WithLabelValues(wt, "rogue").Inc()
	}
}

// runAgeKiller terminates every instance older than max_instance_life
// regardless of worker type, spec §4.6.
func (r *Reconciler) runAgeKiller(ctx context.Context, current fleet.Snapshot, now time.Time) {
	aged := safety.AgedOutInstances(current.Instances(), r.Config.MaxInstanceLife, now)
	if len(aged) == 0 {
		return
	}
	if err := safety.KillAged(ctx, aged, r.Adapter); err != nil {
		r.Log.Warnw("age kill partially failed", "count", len(aged), "error", err)
	}
	byWorkerType := make(map[string]int)
	for _, i := range aged {
		byWorkerType[i.WorkerType]++
	}
	for wt, n := range byWorkerType {
		metrics.KillsIssued.WithLabelValues(wt, "aged").Add(float64(n))
	}
}

// tagFleet applies the three best-effort tags of spec §6/§4.7 step 8 —
// Name=<worker_type>, Owner=<provisioner_id>, WorkerType=<provisioner_id>/
// <worker_type> — to every instance and request in current, grouped per
// region per worker type. Tag failures are always swallowed (spec §7:
// "CreateTags failures are always swallowed").
func (r *Reconciler) tagFleet(ctx context.Context, current fleet.Snapshot) {
	type group struct{ region, workerType string }
	instanceIDs := make(map[group][]string)
	for _, i := range current.Instances() {
		g := group{region: i.Region, workerType: i.WorkerType}
		instanceIDs[g] = append(instanceIDs[g], i.InstanceID)
	}
	requestIDs := make(map[group][]string)
	for _, req := range current.Requests() {
		g := group{region: req.Region, workerType: req.WorkerType}
		requestIDs[g] = append(requestIDs[g], req.RequestID)
	}

	for g, ids := range instanceIDs {
		r.applyTags(ctx, g.region, g.workerType, ids)
	}
	for g, ids := range requestIDs {
		r.applyTags(ctx, g.region, g.workerType, ids)
	}
}

func (r *Reconciler) applyTags(ctx context.Context, region, workerType string, ids []string) {
	tags := map[string]string{
		"Name":       workerType,
		"Owner":      r.Config.ProvisionerID,
		"WorkerType": r.Config.ProvisionerID + "/" + workerType,
	}
	if err := r.Adapter.CreateTags(ctx, region, ids, tags); err != nil {
		r.Log.Debugw("tagging fleet resources failed, ignoring", "region", region, "worker_type", workerType, "error", err)
	}
}
