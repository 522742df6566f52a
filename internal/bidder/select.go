package bidder

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/petemoore/aws-provisioner/internal/pricing"
	"github.com/petemoore/aws-provisioner/internal/workertype"
)

// Candidate is one (region, zone, instance-type) combination the bidder may
// choose, per spec §4.4. Zone may be empty when the caller has no
// zone-level price data and wants EC2 to pick within the region.
type Candidate struct {
	Region       string
	Zone         string
	InstanceType string
}

// PricedCandidate is a Candidate with its effective (utility-normalized)
// price resolved, and whether it satisfies the worker type's price bounds.
type PricedCandidate struct {
	Candidate
	RawPrice       float64
	EffectivePrice float64 // RawPrice / utility
	Capacity       int
	Valid          bool
}

// ErrNoValidCandidate is returned when no candidate satisfies the worker
// type's price bounds.
var ErrNoValidCandidate = errors.New("no candidate satisfies price bounds")

// PriceCandidates resolves a price for every candidate via oracle (or a
// uniform fallback price when oracle is nil, per spec §6) and marks which
// ones fall within [min_price, max_price] in utility-normalized units:
// "valid bids satisfy min_price ≤ p × utility ≤ max_price" restated as
// "min_price ≤ effective_price ≤ max_price" since effective_price already
// is p/utility... spec's contract is: actual bid = price_bound * utility,
// so validity is checked on the effective (already-normalized) price
// directly against [min_price, max_price].
func PriceCandidates(ctx context.Context, def workertype.Definition, candidates []Candidate, oracle pricing.Oracle, fallbackPrice float64) []PricedCandidate {
	out := make([]PricedCandidate, 0, len(candidates))
	for _, c := range candidates {
		utility := def.UtilityOf(c.InstanceType)
		raw := fallbackPrice
		if oracle != nil {
			if p, err := oracle.RecentSpot(ctx, c.Region, c.InstanceType, c.Zone); err == nil {
				raw = p
			}
		}
		effective := raw
		if utility != 0 {
			effective = raw / utility
		}
		valid := effective >= def.MinPrice && effective <= def.MaxPrice
		out = append(out, PricedCandidate{
			Candidate:      c,
			RawPrice:       raw,
			EffectivePrice: effective,
			Capacity:       def.CapacityOf(c.InstanceType),
			Valid:          valid,
		})
	}
	return out
}

// Pick selects the cheapest valid candidate, breaking ties by lower
// instance-type capacity first (so bids are granular), then by region
// alphabetically — spec §4.4's exact tie-break order.
func Pick(candidates []PricedCandidate) (PricedCandidate, error) {
	valid := lo.Filter(candidates, func(c PricedCandidate, _ int) bool { return c.Valid })
	if len(valid) == 0 {
		return PricedCandidate{}, ErrNoValidCandidate
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].EffectivePrice != valid[j].EffectivePrice {
			return valid[i].EffectivePrice < valid[j].EffectivePrice
		}
		if valid[i].Capacity != valid[j].Capacity {
			return valid[i].Capacity < valid[j].Capacity
		}
		return valid[i].Region < valid[j].Region
	})
	return valid[0], nil
}

// BidPrice returns the actual price to submit to EC2, per spec §4.4's
// contract that min_price/max_price are expressed in utility-normalized
// units (so the un-normalized ceiling is max_price * utility). Since
// EffectivePrice already satisfies the bound, the bid price submitted to
// the cloud is the raw (non-normalized) observed price, clamped so the
// reconciler never accidentally bids above max_price*utility due to a
// stale quote.
func BidPrice(def workertype.Definition, c PricedCandidate) float64 {
	utility := def.UtilityOf(c.InstanceType)
	ceiling := def.MaxPrice * utility
	if c.RawPrice > ceiling {
		return ceiling
	}
	return c.RawPrice
}
