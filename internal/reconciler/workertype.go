package reconciler

import (
	"context"
	"time"

	"github.com/petemoore/aws-provisioner/internal/bidder"
	"github.com/petemoore/aws-provisioner/internal/events"
	"github.com/petemoore/aws-provisioner/internal/fleet"
	"github.com/petemoore/aws-provisioner/internal/inflight"
	"github.com/petemoore/aws-provisioner/internal/metrics"
	"github.com/petemoore/aws-provisioner/internal/workertype"
)

// processWorkerType runs one worker type's full per-tick decision: ensure
// its key pairs, compute capacity and target, then either place bids or
// plan and execute a kill — never both in the same tick, since delta is
// clamped to zero once current capacity reaches the target (spec §4.4).
func (r *Reconciler) processWorkerType(ctx context.Context, def workertype.Definition, current fleet.Snapshot, now time.Time) error {
	regions := def.RegionNames()
	if err := r.KeyManager.Ensure(ctx, def.Name, regions); err != nil {
		r.Log.Warnw("key pair ensure failed, skipping worker type this tick", "worker_type", def.Name, "error", err)
		return nil
	}

	instances := current.InstancesFor(def.Name)
	requests := current.RequestsFor(def.Name)
	inFlightRecords := r.InFlight.ForWorkerType(def.Name)

	currentCapacity := bidder.CurrentCapacity(def, instances, requests, inFlightRecords)
	metrics.CapacityObserved.WithLabelValues(def.Name).Set(float64(currentCapacity))

	pendingTasks, err := r.Queue.PendingTasks(ctx, def.Name)
	if err != nil {
		r.Log.Warnw("pending task count unavailable, skipping worker type this tick", "worker_type", def.Name, "error", err)
		return nil
	}

	target, delta := bidder.TargetCapacity(def, pendingTasks, currentCapacity)

	if delta > 0 {
		return r.placeBids(ctx, def, delta, regions, now)
	}
	// Excess termination fires only once capacity has actually exceeded
	// max_capacity (spec §4.4: "When C > max_capacity ..."), not merely
	// whenever backlog has temporarily dipped below target — otherwise a
	// transient drop in pending_tasks would kill healthy capacity down to
	// target this tick and re-bid it back up next tick, violating the
	// "same input twice, zero bids and zero kills" idempotence property.
	if currentCapacity > def.MaxCapacity {
		return r.killExcess(ctx, def, currentCapacity, target, inFlightRecords, requests, instances)
	}
	return nil
}

// iterationSink routes the bidder's events through Reconciler.emit so they
// carry iteration_id like every other event.
type iterationSink struct{ r *Reconciler }

func (s iterationSink) Emit(kind events.Kind, fields events.Fields) { s.r.emit(kind, fields) }

func (r *Reconciler) placeBids(ctx context.Context, def workertype.Definition, delta int, regions []string, now time.Time) error {
	candidates := buildCandidates(def, regions)
	keyName := r.KeyManager.KeyName(def.Name)
	resolveImage := func(region, instanceType string) (string, error) {
		return r.Generator.ImageID(def, region, instanceType)
	}
	submitted, err := bidder.PlaceBids(ctx, def, delta, candidates, r.Oracle, def.MinPrice, resolveImage, keyName, r.Adapter, r.InFlight, iterationSink{r}, now)
	if submitted > 0 {
		metrics.BidsSubmitted.WithLabelValues(def.Name).Add(float64(submitted))
	}
	return err
}

func (r *Reconciler) killExcess(ctx context.Context, def workertype.Definition, currentCapacity, target int, inFlightRecords []inflight.Record, requests []fleet.Request, instances []fleet.Instance) error {
	plan := bidder.PlanKill(def, currentCapacity, target, inFlightRecords, requests, instances, false, r.rng)
	if len(plan) == 0 {
		return nil
	}
	if err := bidder.ExecuteKill(ctx, plan, r.Adapter, r.InFlight); err != nil {
		r.Log.Warnw("excess kill partially failed", "worker_type", def.Name, "error", err)
	}
	metrics.KillsIssued.WithLabelValues(def.Name, "excess").Add(float64(len(plan)))
	return nil
}

// buildCandidates enumerates one Candidate per (region, instance-type)
// pair the worker type is configured for. Zone is left empty: this module
// never calls DescribeAvailabilityZones (not part of the declared wire
// surface, spec §6), so EC2 picks a zone within the region itself.
func buildCandidates(def workertype.Definition, regions []string) []bidder.Candidate {
	var out []bidder.Candidate
	for _, region := range regions {
		for _, it := range def.InstanceTypes {
			out = append(out, bidder.Candidate{Region: region, InstanceType: it.Type})
		}
	}
	return out
}
