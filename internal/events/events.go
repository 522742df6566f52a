// Package events defines the EventSink contract of spec §6: the core emits
// structured events and leaves transport pluggable. Kind is a closed set so
// callers and sinks agree on vocabulary without a shared proto/schema
// package.
package events

// Kind enumerates the event kinds the reconciliation core emits.
type Kind string

const (
	KindRequestSubmitted Kind = "request_submitted"
	KindRequestFulfilled Kind = "request_fulfilled"
	KindRequestDied      Kind = "request_died"
	KindInstanceTerminated Kind = "instance_terminated"
	KindSpotPriceFloor   Kind = "spot_price_floor"
	KindAMIUsage         Kind = "ami_usage"
	KindBidVisibilityLag Kind = "bid_visibility_lag"
)

// Fields is a flat bag of event attributes. Using a map keeps the Sink
// interface stable as new event kinds accrue fields, matching spec §6's
// "EventSink.emit(kind, fields)" shape exactly rather than growing a
// per-kind struct hierarchy the core would have to keep in lockstep with
// every collaborator.
type Fields map[string]any

// Sink is the consumed interface of spec §6. Transport (pulse, telemetry,
// logs) is an external collaborator's concern; this module only ever calls
// Emit.
type Sink interface {
	Emit(kind Kind, fields Fields)
}
