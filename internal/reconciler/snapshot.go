package reconciler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petemoore/aws-provisioner/internal/fleet"
)

// refreshSnapshot runs the four per-region queries of spec §4.1 in
// parallel, classifies each into a worker-type-tagged Snapshot, and
// synchronously cancels any request the stall bisection flags — spec
// §4.1: "stalled requests are cancelled synchronously, in the same
// iteration that detected them, rather than left for the next diff pass."
func (r *Reconciler) refreshSnapshot(ctx context.Context) (current, dead fleet.Snapshot, err error) {
	var liveInstances, deadInstances map[string][]fleet.RawInstance
	var openRequests, resolvedRequests map[string][]fleet.RawRequest

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { liveInstances, err = r.Adapter.DescribeLiveInstances(gctx); return })
	g.Go(func() (err error) { deadInstances, err = r.Adapter.DescribeDeadInstances(gctx); return })
	g.Go(func() (err error) { openRequests, err = r.Adapter.DescribeOpenSpotRequests(gctx); return })
	g.Go(func() (err error) { resolvedRequests, err = r.Adapter.DescribeResolvedSpotRequests(gctx); return })
	if err := g.Wait(); err != nil {
		return fleet.Snapshot{}, fleet.Snapshot{}, err
	}

	now := time.Now()
	current = fleet.Classify(r.Config.KeyPrefix, now, flattenRaw(liveInstances), flattenRawReq(openRequests))
	dead = fleet.Classify(r.Config.KeyPrefix, now, flattenRaw(deadInstances), flattenRawReq(resolvedRequests))

	good, stalled := fleet.BisectStalled(current.Requests(), fleet.StallConfig{StallTimeout: r.Config.StallTimeout}, now)
	if len(stalled) > 0 {
		r.cancelStalled(ctx, stalled)
		current = fleet.NewSnapshot(current.TakenAt(), current.Instances(), good)
	}

	return current, dead, nil
}

// cancelStalled batches the stalled open requests per region into one
// CancelSpotRequests call each, swallowing failures the same way the
// bidder's excess-kill path does: a stall that fails to cancel this tick
// is still stalled next tick and will be retried.
func (r *Reconciler) cancelStalled(ctx context.Context, stalled []fleet.Request) {
	byRegion := make(map[string][]string)
	for _, req := range stalled {
		byRegion[req.Region] = append(byRegion[req.Region], req.RequestID)
	}
	for region, ids := range byRegion {
		if err := r.Adapter.CancelSpotRequests(ctx, region, ids); err != nil {
			r.Log.Warnw("cancelling stalled spot requests", "region", region, "count", len(ids), "error", err)
		}
	}
}

func flattenRaw(byRegion map[string][]fleet.RawInstance) []fleet.RawInstance {
	var out []fleet.RawInstance
	for _, items := range byRegion {
		out = append(out, items...)
	}
	return out
}

func flattenRawReq(byRegion map[string][]fleet.RawRequest) []fleet.RawRequest {
	var out []fleet.RawRequest
	for _, items := range byRegion {
		out = append(out, items...)
	}
	return out
}
