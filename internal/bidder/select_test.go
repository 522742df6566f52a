package bidder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petemoore/aws-provisioner/internal/workertype"
)

type fakeOracle struct {
	prices map[string]float64
}

func (f fakeOracle) RecentSpot(ctx context.Context, region, instanceType, zone string) (float64, error) {
	p, ok := f.prices[region+"/"+instanceType]
	if !ok {
		return 0, assert.AnError
	}
	return p, nil
}

func TestPriceCandidatesMarksValidity(t *testing.T) {
	def := workertype.Definition{MinPrice: 0.01, MaxPrice: 0.10}
	oracle := fakeOracle{prices: map[string]float64{
		"us-east-1/m5.large": 0.05,
		"us-east-1/m5.xlarge": 0.50,
	}}
	candidates := []Candidate{
		{Region: "us-east-1", InstanceType: "m5.large"},
		{Region: "us-east-1", InstanceType: "m5.xlarge"},
	}

	priced := PriceCandidates(context.Background(), def, candidates, oracle, 0.02)
	require.Len(t, priced, 2)
	byType := make(map[string]PricedCandidate)
	for _, p := range priced {
		byType[p.InstanceType] = p
	}
	assert.True(t, byType["m5.large"].Valid)
	assert.False(t, byType["m5.xlarge"].Valid)
}

func TestPickBreaksTiesByCapacityThenRegion(t *testing.T) {
	priced := []PricedCandidate{
		{Candidate: Candidate{Region: "us-west-2", InstanceType: "m5.xlarge"}, EffectivePrice: 0.05, Capacity: 4, Valid: true},
		{Candidate: Candidate{Region: "us-east-1", InstanceType: "m5.large"}, EffectivePrice: 0.05, Capacity: 2, Valid: true},
		{Candidate: Candidate{Region: "eu-west-1", InstanceType: "t3.micro"}, EffectivePrice: 0.20, Capacity: 1, Valid: true},
	}
	choice, err := Pick(priced)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", choice.Region) // cheapest tie broken by lower capacity
}

func TestPickReturnsErrorWhenNoneValid(t *testing.T) {
	_, err := Pick([]PricedCandidate{{Valid: false}})
	assert.ErrorIs(t, err, ErrNoValidCandidate)
}

func TestBidPriceClampsToUtilityCeiling(t *testing.T) {
	def := workertype.Definition{MaxPrice: 0.10, InstanceTypes: []workertype.InstanceTypeOption{
		{Type: "m5.large", Utility: 2},
	}}
	c := PricedCandidate{Candidate: Candidate{InstanceType: "m5.large"}, RawPrice: 0.50}
	assert.Equal(t, 0.20, BidPrice(def, c))

	c.RawPrice = 0.10
	assert.Equal(t, 0.10, BidPrice(def, c))
}
