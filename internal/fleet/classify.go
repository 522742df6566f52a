package fleet

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// WorkerTypeFromKeyName recovers a worker-type name by stripping keyPrefix
// from keyName. ok is false if keyName does not carry the prefix, in which
// case the item does not belong in any snapshot (spec §3 invariant a).
func WorkerTypeFromKeyName(keyPrefix, keyName string) (workerType string, ok bool) {
	if keyPrefix == "" || !strings.HasPrefix(keyName, keyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(keyName, keyPrefix), true
}

// RawInstance is the adapter-facing shape of one instance before worker-type
// classification (its key-pair name has not yet been resolved to a
// worker-type).
type RawInstance struct {
	Instance
}

// RawRequest is the adapter-facing shape of one spot request before
// worker-type classification.
type RawRequest struct {
	Request
}

// Classify partitions raw instances/requests into a Snapshot, dropping any
// item whose key-pair name doesn't carry keyPrefix. It is a pure function:
// invariant (c) of spec §3, "every worker_type is recovered by stripping a
// configured key prefix from key_name", lives entirely here so the rest of
// the module never re-derives worker-type identity.
func Classify(keyPrefix string, takenAt time.Time, rawInstances []RawInstance, rawRequests []RawRequest) Snapshot {
	instances := lo.FilterMap(rawInstances, func(ri RawInstance, _ int) (Instance, bool) {
		wt, ok := WorkerTypeFromKeyName(keyPrefix, ri.KeyName)
		if !ok {
			return Instance{}, false
		}
		ri.WorkerType = wt
		return ri.Instance, true
	})
	requests := lo.FilterMap(rawRequests, func(rr RawRequest, _ int) (Request, bool) {
		wt, ok := WorkerTypeFromKeyName(keyPrefix, rr.KeyName)
		if !ok {
			return Request{}, false
		}
		rr.WorkerType = wt
		return rr.Request, true
	})
	return NewSnapshot(takenAt, instances, requests)
}

// StallConfig parameterizes the stalled-request bisection of spec §4.1.
type StallConfig struct {
	StallTimeout time.Duration
}

// BisectStalled splits the open requests in requests into good and stalled
// sets. A request is stalled if its status code is in the bad-status set or
// its create_time predates now-StallTimeout while still open. Only open
// requests are examined; active/cancelled/failed/closed requests pass
// through untouched in good.
func BisectStalled(requests []Request, cfg StallConfig, now time.Time) (good, stalled []Request) {
	for _, r := range requests {
		if r.State != RequestStateOpen {
			good = append(good, r)
			continue
		}
		if IsBadStatus(r.StatusCode) || now.Sub(r.CreateTime) > cfg.StallTimeout {
			stalled = append(stalled, r)
			continue
		}
		good = append(good, r)
	}
	return good, stalled
}
