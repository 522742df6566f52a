// Package pricing defines the optional pricing oracle interface of spec
// §6: "Pricing.recentSpot(region, type, zone) → price (optional; bidder
// falls back to uniform price if absent)."
package pricing

import (
	"context"
	"errors"
)

// ErrNoQuote is returned by an Oracle when no recent price is available
// for a candidate; the bidder treats this (like any Oracle error) the same
// as having no oracle at all for that single candidate.
var ErrNoQuote = errors.New("no recent spot price quote")

// Oracle supplies recent spot prices. A nil Oracle is valid: the bidder
// falls back to a uniform price in that case (spec §6).
type Oracle interface {
	RecentSpot(ctx context.Context, region, instanceType, zone string) (float64, error)
}
