package bidder

import (
	"context"
	"time"

	"github.com/petemoore/aws-provisioner/internal/events"
	"github.com/petemoore/aws-provisioner/internal/inflight"
	"github.com/petemoore/aws-provisioner/internal/pricing"
	"github.com/petemoore/aws-provisioner/internal/workertype"
)

// Submitter is the narrow cloud-facing capability the bidder needs: submit
// one spot bid and return its request ID. Decoupling from the concrete
// cloud.Adapter keeps this package testable with a fake.
type Submitter interface {
	RequestSpot(ctx context.Context, region, zone, instanceType, imageID, keyName string, bidPrice float64) (string, error)
}

// ImageResolver resolves the image ID to launch for one (region,
// instance-type) pair, typically backed by the external launch-spec
// generator (spec §1).
type ImageResolver func(region, instanceType string) (string, error)

// PlaceBids reduces delta to zero (or until no valid candidate remains) by
// repeatedly picking the cheapest candidate, submitting one bid, recording
// it in the in-flight tracker, and subtracting its capacity — spec §4.4:
// "It submits one bid at a time and reduces the remaining delta by the
// candidate's capacity until delta ≤ 0. Every submitted bid is recorded in
// the In-Flight Tracker before the next candidate is evaluated." keyName is
// resolved by the caller (key-pair naming is the Key-Pair Manager's
// concern, not the bidder's).
func PlaceBids(ctx context.Context, def workertype.Definition, delta int, candidates []Candidate, oracle pricing.Oracle, fallbackPrice float64, resolveImage ImageResolver, keyName string, submitter Submitter, tracker *inflight.Tracker, sink events.Sink, now time.Time) (submittedCount int, err error) {
	remaining := delta
	for remaining > 0 {
		priced := PriceCandidates(ctx, def, candidates, oracle, fallbackPrice)
		choice, pickErr := Pick(priced)
		if pickErr != nil {
			// No valid candidate: stop trying this iteration: the
			// reconciler will retry next tick per spec §7's
			// self-healing-by-repetition rule.
			return submittedCount, nil
		}
		bidPrice := BidPrice(def, choice)
		imageID, imgErr := resolveImage(choice.Region, choice.InstanceType)
		if imgErr != nil {
			return submittedCount, imgErr
		}
		requestID, submitErr := submitter.RequestSpot(ctx, choice.Region, choice.Zone, choice.InstanceType, imageID, keyName, bidPrice)
		if submitErr != nil {
			return submittedCount, submitErr
		}
		tracker.Add(inflight.Record{
			RequestID:    requestID,
			WorkerType:   def.Name,
			Region:       choice.Region,
			Zone:         choice.Zone,
			InstanceType: choice.InstanceType,
			BidPrice:     bidPrice,
			SubmittedAt:  now,
		})
		if sink != nil {
			sink.Emit(events.KindRequestSubmitted, events.Fields{
				"worker_type":   def.Name,
				"request_id":    requestID,
				"region":        choice.Region,
				"zone":          choice.Zone,
				"instance_type": choice.InstanceType,
				"bid_price":     bidPrice,
			})
		}
		submittedCount++
		remaining -= choice.Capacity
	}
	return submittedCount, nil
}
