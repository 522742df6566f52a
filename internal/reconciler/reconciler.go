// Package reconciler is the iteration driver of spec §4.7: it owns the
// ticker loop, refreshes the fleet snapshot once per tick, runs the diff
// engine and both trackers, then fans out bid-or-kill decisions per worker
// type before running the two safety killers. Nothing outside this package
// calls the cloud adapter, the diff engine, or either tracker directly —
// Reconciler is the only caller that sees all of them at once.
package reconciler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/petemoore/aws-provisioner/internal/cloud"
	"github.com/petemoore/aws-provisioner/internal/config"
	"github.com/petemoore/aws-provisioner/internal/events"
	"github.com/petemoore/aws-provisioner/internal/fleet"
	"github.com/petemoore/aws-provisioner/internal/inflight"
	"github.com/petemoore/aws-provisioner/internal/keypair"
	"github.com/petemoore/aws-provisioner/internal/launchspec"
	"github.com/petemoore/aws-provisioner/internal/metrics"
	"github.com/petemoore/aws-provisioner/internal/pending"
	"github.com/petemoore/aws-provisioner/internal/pricing"
	"github.com/petemoore/aws-provisioner/internal/queue"
	"github.com/petemoore/aws-provisioner/internal/store"
)

// workerTypeConcurrency bounds how many worker types are bid-or-killed in
// parallel within one iteration (spec §5's per-worker-type fan-out bound).
const workerTypeConcurrency = 8

// Reconciler wires every external collaborator of spec §6 together and
// runs one iteration at a time. Construct with New; the zero value is not
// usable.
type Reconciler struct {
	Adapter    *cloud.Adapter
	Store      store.Store
	Queue      queue.Queue
	Oracle     pricing.Oracle
	Generator  launchspec.Generator
	KeyManager *keypair.Manager
	Sink       events.Sink
	InFlight   *inflight.Tracker

	PendingInstances *pending.Set
	PendingRequests  *pending.Set

	Config *config.Config
	Log    *zap.SugaredLogger

	rng *rand.Rand

	mu          sync.Mutex
	previous    fleet.Snapshot
	hasPrev     bool
	iterationID string
}

// New constructs a Reconciler. Every collaborator must be non-nil except
// Oracle (spec §6: a nil Oracle falls back to uniform pricing).
func New(cfg *config.Config, adapter *cloud.Adapter, st store.Store, q queue.Queue, oracle pricing.Oracle, gen launchspec.Generator, km *keypair.Manager, sink events.Sink, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		Adapter:          adapter,
		Store:            st,
		Queue:            q,
		Oracle:           oracle,
		Generator:        gen,
		KeyManager:       km,
		Sink:             sink,
		InFlight:         inflight.New(cfg.InFlightTimeout),
		PendingInstances: pending.NewSet(cfg.MaxIterationsForStateResolution),
		PendingRequests:  pending.NewSet(cfg.MaxIterationsForStateResolution),
		Config:           cfg,
		Log:              log,
		rng:              rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xa5a5a5a5)),
	}
}

func (r *Reconciler) getPrevious() (fleet.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previous, r.hasPrev
}

func (r *Reconciler) setPrevious(s fleet.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previous = s
	r.hasPrev = true
}

// emit is a nil-safe convenience wrapper; Sink is a required collaborator
// in production but tests often leave it nil. Every event carries the
// iteration_id of the RunOnce call that produced it, so an operator
// reading the event stream can correlate several events back to one
// reconciliation pass without the EventSink needing to know about
// iterations at all.
func (r *Reconciler) emit(kind events.Kind, fields events.Fields) {
	if r.Sink == nil {
		return
	}
	r.mu.Lock()
	id := r.iterationID
	r.mu.Unlock()
	fields["iteration_id"] = id
	r.Sink.Emit(kind, fields)
}

// Run drives the non-overlapping ticker loop of spec §4.7 until ctx is
// cancelled. Each tick runs at most one RunOnce to completion before the
// next tick is considered — there is no separate goroutine per tick, so
// iterations never overlap regardless of how long one takes relative to
// iteration_interval.
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.Config.IterationInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.Log.Errorw("iteration aborted", "error", err)
			}
		}
	}
}

// RunOnce executes exactly one reconciliation iteration, bounded by an
// iteration-interval deadline (spec §5). A non-retryable snapshot-refresh
// failure aborts the iteration (returns an error); a retryable one skips
// the iteration and returns nil, per spec §7's self-healing-by-repetition
// rule.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.IterationDuration.Observe(time.Since(start).Seconds()) }()

	r.mu.Lock()
	r.iterationID = uuid.NewString()
	r.mu.Unlock()

	iterCtx, cancel := context.WithTimeout(ctx, r.Config.IterationInterval())
	defer cancel()

	current, dead, err := r.refreshSnapshot(iterCtx)
	if err != nil {
		if errors.Is(err, cloud.ErrPermission) {
			return errors.Wrap(err, "refreshing fleet snapshot")
		}
		metrics.IterationsSkipped.Inc()
		r.Log.Warnw("skipping iteration after snapshot refresh error", "error", err)
		return nil
	}

	now := time.Now()

	configuredNames, err := r.Store.ListWorkerTypes(iterCtx)
	if err != nil {
		if errors.Is(cloud.Classify(err), cloud.ErrPermission) {
			return errors.Wrap(err, "listing worker types")
		}
		metrics.IterationsSkipped.Inc()
		r.Log.Warnw("skipping iteration after store error", "error", err)
		return nil
	}
	configuredSet := make(map[string]bool, len(configuredNames))
	for _, name := range configuredNames {
		configuredSet[name] = true
	}

	previous, hadPrevious := r.getPrevious()
	if hadPrevious {
		r.runDiff(previous, current, dead, allWorkerTypes(previous, current, configuredNames))
	}
	r.revisitPending(dead)
	r.tickPending()
	r.sweepInFlight(current, now)
	r.emitAMIUsage(current)

	g, gctx := errgroup.WithContext(iterCtx)
	g.SetLimit(workerTypeConcurrency)
	for _, name := range configuredNames {
		name := name
		g.Go(func() error {
			def, loadErr := r.Store.LoadWorkerType(gctx, name)
			if loadErr != nil {
				r.Log.Warnw("skipping worker type: load failed", "worker_type", name, "error", loadErr)
				return nil
			}
			return r.processWorkerType(gctx, def, current, now)
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, cloud.ErrPermission) {
			return errors.Wrap(err, "processing worker types")
		}
		r.Log.Warnw("one or more worker types failed this iteration", "error", err)
	}

	r.runRogueKiller(iterCtx, configuredSet, current)
	r.runAgeKiller(iterCtx, current, now)
	r.tagFleet(iterCtx, current)

	r.setPrevious(current)
	return nil
}

// allWorkerTypes is the union of every worker-type name the diff engine
// needs to consider: previously observed, currently observed, or still
// configured (a worker type that just lost its last instance this tick
// still needs one more diff pass to catch the departure).
func allWorkerTypes(previous, current fleet.Snapshot, configured []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(wt string) {
		if wt == "" || seen[wt] {
			return
		}
		seen[wt] = true
		out = append(out, wt)
	}
	for _, wt := range previous.WorkerTypes() {
		add(wt)
	}
	for _, wt := range current.WorkerTypes() {
		add(wt)
	}
	for _, wt := range configured {
		add(wt)
	}
	return out
}
