// Package inflight implements the In-Flight Tracker of spec §4.3: the
// process-local set of spot bids submitted but not yet visible in any
// snapshot, bridging the eventual-consistency gap between "bid submitted"
// and "bid visible".
package inflight

import (
	"sync"
	"time"

	"github.com/petemoore/aws-provisioner/internal/fleet"
)

// Record is one in-flight bid, spec §3's In-Flight Record.
type Record struct {
	RequestID    string
	WorkerType   string
	Region       string
	Zone         string
	InstanceType string
	BidPrice     float64
	SubmittedAt  time.Time
}

// SweepResult reports what happened to one record during a Sweep, feeding
// the bid_visibility_lag event of spec §4.3.
type SweepResult struct {
	Record  Record
	Lag     time.Duration
	DidShow bool // false means removed for timing out, not for becoming visible
}

// Tracker is the process-local in-flight set. Zero value is not usable;
// use New. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	records map[string]Record // keyed by RequestID
	timeout time.Duration
}

// New constructs a Tracker with the configured in_flight_timeout
// (spec §6, default 15 minutes).
func New(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Tracker{records: make(map[string]Record), timeout: timeout}
}

// Add inserts a newly submitted bid. Every request_id returned from a
// successful RequestSpot call must be inserted here in the same iteration
// (spec §8 invariant 2) before the next candidate is evaluated.
func (t *Tracker) Add(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[r.RequestID] = r
}

// Remove drops an entry idempotently (spec §4.3: "Removal is idempotent").
func (t *Tracker) Remove(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, requestID)
}

// ForWorkerType returns the in-flight records currently tracked for
// workerType — used by capacity accounting (spec §4.4) so that a bid this
// iteration already submitted, but the cloud API hasn't surfaced yet,
// counts towards capacity and prevents double-provisioning.
func (t *Tracker) ForWorkerType(workerType string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Record
	for _, r := range t.records {
		if r.WorkerType == workerType {
			out = append(out, r)
		}
	}
	return out
}

// WorkerTypes returns the distinct worker types with at least one in-flight
// record, used by the rogue killer to consider bids that haven't surfaced
// in a snapshot yet.
func (t *Tracker) WorkerTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.records {
		if !seen[r.WorkerType] {
			seen[r.WorkerType] = true
			out = append(out, r.WorkerType)
		}
	}
	return out
}

// Len reports how many records are currently tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Sweep reconciles the tracker against the current snapshot: any record
// whose request ID now appears in current is removed as "became visible";
// any record older than the configured timeout is removed as "timed out".
// Per spec §9's build-next-state-then-swap discipline, the whole map is
// rebuilt rather than spliced in place. now is passed in explicitly so
// tests can control the timeout boundary deterministically.
func (t *Tracker) Sweep(current fleet.Snapshot, now time.Time) []SweepResult {
	visible := make(map[string]bool)
	for _, r := range current.Requests() {
		visible[r.RequestID] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]Record, len(t.records))
	var results []SweepResult
	for id, rec := range t.records {
		if visible[id] {
			results = append(results, SweepResult{Record: rec, Lag: now.Sub(rec.SubmittedAt), DidShow: true})
			continue
		}
		if now.Sub(rec.SubmittedAt) > t.timeout {
			results = append(results, SweepResult{Record: rec, Lag: now.Sub(rec.SubmittedAt), DidShow: false})
			continue
		}
		next[id] = rec
	}
	t.records = next
	return results
}
