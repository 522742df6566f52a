package reconciler

import (
	"time"

	"github.com/petemoore/aws-provisioner/internal/diff"
	"github.com/petemoore/aws-provisioner/internal/events"
	"github.com/petemoore/aws-provisioner/internal/fleet"
)

// runDiff runs the diff engine once per worker type and turns its output
// into either a terminal event or a pending-resolution enqueue, per
// spec §4.2.
func (r *Reconciler) runDiff(previous, current, dead fleet.Snapshot, workerTypes []string) {
	now := time.Now()
	for _, wt := range workerTypes {
		result := diff.Run(previous, current, dead, wt)
		for _, ro := range result.Requests {
			switch ro.Kind {
			case diff.RequestFulfilled:
				r.emitRequestFulfilled(wt, ro)
			case diff.RequestDied:
				r.emitRequestDied(wt, ro)
			default:
				r.PendingRequests.Enqueue(ro.RequestID, now.UnixMilli())
			}
		}
		for _, io := range result.Instances {
			if io.Kind == diff.InstanceTerminated {
				r.emitInstanceTerminated(wt, io)
				continue
			}
			r.PendingInstances.Enqueue(io.InstanceID, now.UnixMilli())
		}
	}
}

// revisitPending re-checks every still-pending ID against the freshly
// fetched dead snapshot, resolving and emitting for anything now
// classifiable — spec §4.2's "any entry whose ID now appears in dead with
// a populated reason is resolved."
func (r *Reconciler) revisitPending(dead fleet.Snapshot) {
	for _, id := range r.PendingInstances.IDs() {
		outcome, resolved := diff.ResolvePendingInstance(id, dead)
		if !resolved {
			continue
		}
		r.PendingInstances.Resolve(id)
		r.emitInstanceTerminated(outcome.Instance.WorkerType, outcome)
	}
	for _, id := range r.PendingRequests.IDs() {
		outcome, resolved := diff.ResolvePendingRequest(id, dead)
		if !resolved {
			continue
		}
		r.PendingRequests.Resolve(id)
		if outcome.Kind == diff.RequestFulfilled {
			r.emitRequestFulfilled(outcome.Request.WorkerType, outcome)
		} else {
			r.emitRequestDied(outcome.Request.WorkerType, outcome)
		}
	}
}

// tickPending advances both bounded sets by one iteration, logging (but
// not emitting an event for) anything dropped for exceeding
// max_iterations_for_state_resolution — spec §4.2: dropped entries are
// discarded silently as far as the EventSink is concerned.
func (r *Reconciler) tickPending() {
	if dropped := r.PendingInstances.Tick(); len(dropped) > 0 {
		r.Log.Warnw("dropping unresolved pending instances", "ids", dropped)
	}
	if dropped := r.PendingRequests.Tick(); len(dropped) > 0 {
		r.Log.Warnw("dropping unresolved pending requests", "ids", dropped)
	}
}

// sweepInFlight reconciles the In-Flight Tracker against current and
// emits a bid_visibility_lag event for every record removed this tick,
// whether it became visible or timed out (spec §4.3).
func (r *Reconciler) sweepInFlight(current fleet.Snapshot, now time.Time) {
	for _, sr := range r.InFlight.Sweep(current, now) {
		r.emit(events.KindBidVisibilityLag, events.Fields{
			"worker_type":   sr.Record.WorkerType,
			"request_id":    sr.Record.RequestID,
			"region":        sr.Record.Region,
			"lag_ms":        sr.Lag.Milliseconds(),
			"did_show":      sr.DidShow,
			"submitted_at":  sr.Record.SubmittedAt.UnixMilli(),
		})
	}
}

// emitAMIUsage emits one ami_usage event per (worker_type, image_id) pair
// observed in current, per the supplemented AMI-usage-accounting feature.
func (r *Reconciler) emitAMIUsage(current fleet.Snapshot) {
	type key struct{ workerType, imageID string }
	counts := make(map[key]int)
	for _, i := range current.Instances() {
		if i.ImageID == "" {
			continue
		}
		counts[key{i.WorkerType, i.ImageID}]++
	}
	for k, count := range counts {
		r.emit(events.KindAMIUsage, events.Fields{
			"worker_type": k.workerType,
			"image_id":    k.imageID,
			"count":       count,
		})
	}
}

func (r *Reconciler) emitRequestFulfilled(workerType string, ro diff.RequestOutcome) {
	r.emit(events.KindRequestFulfilled, events.Fields{
		"worker_type": workerType,
		"request_id":  ro.RequestID,
		"region":      ro.Request.Region,
		"instance_id": ro.Request.InstanceID,
	})
}

func (r *Reconciler) emitRequestDied(workerType string, ro diff.RequestOutcome) {
	r.emit(events.KindRequestDied, events.Fields{
		"worker_type":    workerType,
		"request_id":     ro.RequestID,
		"region":         ro.Request.Region,
		"status_code":    string(ro.Request.StatusCode),
		"status_message": ro.Request.StatusMessage,
		"bid_price":      ro.Request.BidPrice,
	})
}

func (r *Reconciler) emitInstanceTerminated(workerType string, io diff.InstanceOutcome) {
	fields := events.Fields{
		"worker_type": workerType,
		"instance_id": io.InstanceID,
		"region":      io.Instance.Region,
	}
	if io.Instance.StateReason != nil {
		fields["reason_code"] = io.Instance.StateReason.Code
		fields["reason_message"] = io.Instance.StateReason.Message
	}
	r.emit(events.KindInstanceTerminated, fields)

	if !io.IsSpotPriceFloor {
		return
	}
	floorFields := events.Fields{
		"worker_type":  workerType,
		"instance_id":  io.InstanceID,
		"region":       io.Instance.Region,
		"timestamp_ms": time.Now().UnixMilli(),
	}
	if io.HasMatchedBid {
		floorFields["bid_price"] = io.MatchedBidPrice
	}
	r.emit(events.KindSpotPriceFloor, floorFields)
}
