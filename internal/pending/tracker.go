// Package pending implements the Pending-Resolution Tracker of spec §4:
// two bounded sets — instances awaiting a termination reason, and spot
// requests awaiting a fulfillment/failure classification — each entry
// retained for a maximum iteration count before being dropped silently.
package pending

import "sync"

// Record is one pending-resolution entry, spec §3's Pending-Resolution
// Record.
type Record struct {
	ID          string
	FirstSeenAt int64 // unix millis, so it survives as a plain comparable value
	Iterations  int
}

// Set is one bounded pending-resolution set (instances or requests are
// tracked via two separate Set values). Safe for concurrent use.
type Set struct {
	mu         sync.Mutex
	records    map[string]Record
	maxIterations int
}

// NewSet constructs a Set with the configured
// max_iterations_for_state_resolution (spec §6, default 20).
func NewSet(maxIterations int) *Set {
	if maxIterations <= 0 {
		maxIterations = 20
	}
	return &Set{records: make(map[string]Record), maxIterations: maxIterations}
}

// Enqueue adds id if not already tracked, recording firstSeenAt. Enqueueing
// an already-tracked id is a no-op: Tick is what advances the iteration
// count, so a second Enqueue in the same resolution window does not reset
// the retry budget.
func (s *Set) Enqueue(id string, firstSeenAtMillis int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		return
	}
	s.records[id] = Record{ID: id, FirstSeenAt: firstSeenAtMillis}
}

// Resolve removes id, returning the record's original FirstSeenAt so the
// caller can emit its terminal event with the timestamp the item was first
// observed leaving, not the timestamp it finally resolved.
func (s *Set) Resolve(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if ok {
		delete(s.records, id)
	}
	return rec, ok
}

// IDs returns the set of currently tracked IDs.
func (s *Set) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}

// Tick increments every tracked record's iteration count by one and drops
// any that have outlived maxIterations, per spec §9's
// build-next-state-then-swap discipline (the source this module is
// distilled from incremented iterationCount inside a filter callback,
// which is exactly the splice-during-iterate bug this rebuild avoids).
// Dropped IDs are returned so the caller can log them; spec §4.2 says
// they're discarded silently as far as events are concerned, but an
// operator log line is not an emitted event and is fine.
func (s *Set) Tick() (dropped []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		rec.Iterations++
		if rec.Iterations > s.maxIterations {
			dropped = append(dropped, id)
			continue
		}
		next[id] = rec
	}
	s.records = next
	return dropped
}

// Len reports how many records are currently tracked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
