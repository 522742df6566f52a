// Package diff implements the Diff Engine of spec §4.2: given previous,
// current, and dead snapshots, it computes departed instances and departed
// requests and classifies each departure. The engine is a pure function
// over three fleet.Snapshot values — it owns no state and emits nothing
// itself; the reconciler translates its output into Pending-Resolution
// tracker updates and EventSink.Emit calls.
package diff

import "github.com/petemoore/aws-provisioner/internal/fleet"

// RequestOutcomeKind classifies one departed spot request.
type RequestOutcomeKind int

const (
	// RequestFulfilled: state=active, status=fulfilled.
	RequestFulfilled RequestOutcomeKind = iota
	// RequestDied: any other terminal state/status.
	RequestDied
	// RequestStillOpen: we saw it leave the live (open) view but the dead
	// view still reports it open — spec §4.2: "enqueue on the
	// Pending-Resolution tracker; retry next iteration."
	RequestStillOpen
	// RequestUnresolved: the request disappeared from both current and
	// dead (dead's lookback window expired, or it was never found); the
	// caller should enqueue for pending resolution the same as
	// RequestStillOpen, distinguished only for logging clarity.
	RequestUnresolved
)

// RequestOutcome is the classified result for one departed request ID.
type RequestOutcome struct {
	RequestID string
	Kind      RequestOutcomeKind
	Request   fleet.Request // the richer dead-snapshot record, zero value if unresolved
}

// InstanceOutcomeKind classifies one departed instance.
type InstanceOutcomeKind int

const (
	// InstanceTerminated: dead snapshot carries a populated state_reason.
	InstanceTerminated InstanceOutcomeKind = iota
	// InstancePending: no reason yet available; enqueue for resolution.
	InstancePending
)

// InstanceOutcome is the classified result for one departed instance ID.
type InstanceOutcome struct {
	InstanceID string
	Kind       InstanceOutcomeKind
	Instance   fleet.Instance // the richer dead-snapshot record, zero value if pending
	// IsSpotPriceFloor is true when Instance.StateReason.Code equals
	// fleet.SpotPriceFloorReasonCode — spec §4.2: also emit a
	// spot_price_floor event carrying the bid from the matching request.
	IsSpotPriceFloor bool
	// MatchedBidPrice is populated when IsSpotPriceFloor is true and the
	// matching spot request could be found in dead, per spec §8 scenario
	// S4.
	MatchedBidPrice float64
	HasMatchedBid   bool
}

// Result is the full output of one diff pass for one worker-type.
type Result struct {
	Requests  []RequestOutcome
	Instances []InstanceOutcome
}

// Run computes the diff between previous and current for workerType,
// resolving departures against dead to recover terminal metadata.
func Run(previous, current, dead fleet.Snapshot, workerType string) Result {
	var res Result

	prevInstances := previous.InstancesFor(workerType)
	currInstances := current.InstancesFor(workerType)
	currInstanceIDs := idSet(currInstances, func(i fleet.Instance) string { return i.InstanceID })
	for _, pi := range prevInstances {
		if currInstanceIDs[pi.InstanceID] {
			continue
		}
		res.Instances = append(res.Instances, classifyInstance(pi.InstanceID, dead))
	}

	prevRequests := previous.RequestsFor(workerType)
	currRequests := current.RequestsFor(workerType)
	currRequestIDs := idSet(currRequests, func(r fleet.Request) string { return r.RequestID })
	for _, pr := range prevRequests {
		if currRequestIDs[pr.RequestID] {
			continue
		}
		res.Requests = append(res.Requests, classifyRequest(pr.RequestID, dead))
	}

	return res
}

// ResolvePendingInstance re-checks a pending instance ID against the
// current dead snapshot, for use by the reconciler's Pending-Resolution
// revisit step (spec §4.2: "any entry whose ID now appears in dead with a
// populated reason is resolved").
func ResolvePendingInstance(instanceID string, dead fleet.Snapshot) (InstanceOutcome, bool) {
	outcome := classifyInstance(instanceID, dead)
	return outcome, outcome.Kind == InstanceTerminated
}

// ResolvePendingRequest re-checks a pending request ID against the current
// dead snapshot.
func ResolvePendingRequest(requestID string, dead fleet.Snapshot) (RequestOutcome, bool) {
	outcome := classifyRequest(requestID, dead)
	return outcome, outcome.Kind == RequestFulfilled || outcome.Kind == RequestDied
}

func classifyInstance(instanceID string, dead fleet.Snapshot) InstanceOutcome {
	di, ok := dead.InstanceByID(instanceID)
	if !ok || di.StateReason == nil {
		return InstanceOutcome{InstanceID: instanceID, Kind: InstancePending}
	}
	outcome := InstanceOutcome{InstanceID: instanceID, Kind: InstanceTerminated, Instance: di}
	if di.StateReason.Code == fleet.SpotPriceFloorReasonCode {
		outcome.IsSpotPriceFloor = true
		if di.SpotRequestID != "" {
			if req, ok := dead.RequestByID(di.SpotRequestID); ok {
				outcome.MatchedBidPrice = req.BidPrice
				outcome.HasMatchedBid = true
			}
		}
	}
	return outcome
}

func classifyRequest(requestID string, dead fleet.Snapshot) RequestOutcome {
	dr, ok := dead.RequestByID(requestID)
	if !ok {
		return RequestOutcome{RequestID: requestID, Kind: RequestUnresolved}
	}
	switch {
	case dr.State == fleet.RequestStateActive && dr.StatusCode == fleet.StatusFulfilled:
		return RequestOutcome{RequestID: requestID, Kind: RequestFulfilled, Request: dr}
	case dr.State == fleet.RequestStateOpen:
		return RequestOutcome{RequestID: requestID, Kind: RequestStillOpen, Request: dr}
	default:
		return RequestOutcome{RequestID: requestID, Kind: RequestDied, Request: dr}
	}
}

func idSet[T any](items []T, key func(T) string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[key(item)] = true
	}
	return out
}
