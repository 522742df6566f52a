package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petemoore/aws-provisioner/internal/fleet"
)

func snap(instances []fleet.Instance, requests []fleet.Request) fleet.Snapshot {
	return fleet.NewSnapshot(time.Now(), instances, requests)
}

func TestRunClassifiesFulfilledRequest(t *testing.T) {
	previous := snap(nil, []fleet.Request{{RequestID: "r-1", WorkerType: "builder"}})
	current := snap(nil, nil)
	dead := snap(nil, []fleet.Request{{
		RequestID:  "r-1",
		WorkerType: "builder",
		State:      fleet.RequestStateActive,
		StatusCode: fleet.StatusFulfilled,
		InstanceID: "i-1",
	}})

	result := Run(previous, current, dead, "builder")
	require.Len(t, result.Requests, 1)
	assert.Equal(t, RequestFulfilled, result.Requests[0].Kind)
	assert.Equal(t, "i-1", result.Requests[0].Request.InstanceID)
}

func TestRunClassifiesDiedRequest(t *testing.T) {
	previous := snap(nil, []fleet.Request{{RequestID: "r-2", WorkerType: "builder"}})
	current := snap(nil, nil)
	dead := snap(nil, []fleet.Request{{
		RequestID:  "r-2",
		WorkerType: "builder",
		State:      fleet.RequestStateFailed,
		StatusCode: fleet.StatusPriceTooLow,
	}})

	result := Run(previous, current, dead, "builder")
	require.Len(t, result.Requests, 1)
	assert.Equal(t, RequestDied, result.Requests[0].Kind)
}

func TestRunClassifiesStillOpenAndUnresolved(t *testing.T) {
	previous := snap(nil, []fleet.Request{
		{RequestID: "r-open", WorkerType: "builder"},
		{RequestID: "r-gone", WorkerType: "builder"},
	})
	current := snap(nil, nil)
	dead := snap(nil, []fleet.Request{{RequestID: "r-open", WorkerType: "builder", State: fleet.RequestStateOpen}})

	result := Run(previous, current, dead, "builder")
	require.Len(t, result.Requests, 2)
	byID := make(map[string]RequestOutcomeKind)
	for _, ro := range result.Requests {
		byID[ro.RequestID] = ro.Kind
	}
	assert.Equal(t, RequestStillOpen, byID["r-open"])
	assert.Equal(t, RequestUnresolved, byID["r-gone"])
}

func TestRunClassifiesSpotPriceFloor(t *testing.T) {
	previous := snap([]fleet.Instance{{InstanceID: "i-1", WorkerType: "builder", SpotRequestID: "r-1"}}, nil)
	current := snap(nil, nil)
	dead := snap([]fleet.Instance{{
		InstanceID:    "i-1",
		WorkerType:    "builder",
		SpotRequestID: "r-1",
		StateReason:   &fleet.StateReason{Code: fleet.SpotPriceFloorReasonCode, Message: "Server.SpotInstanceTermination: price too low"},
	}}, []fleet.Request{{RequestID: "r-1", WorkerType: "builder", BidPrice: 0.45}})

	result := Run(previous, current, dead, "builder")
	require.Len(t, result.Instances, 1)
	out := result.Instances[0]
	assert.Equal(t, InstanceTerminated, out.Kind)
	assert.True(t, out.IsSpotPriceFloor)
	require.True(t, out.HasMatchedBid)
	assert.Equal(t, 0.45, out.MatchedBidPrice)
}

func TestRunClassifiesInstancePendingWhenNoReasonYet(t *testing.T) {
	previous := snap([]fleet.Instance{{InstanceID: "i-2", WorkerType: "builder"}}, nil)
	current := snap(nil, nil)
	dead := snap(nil, nil)

	result := Run(previous, current, dead, "builder")
	require.Len(t, result.Instances, 1)
	assert.Equal(t, InstancePending, result.Instances[0].Kind)
}

func TestResolvePendingInstanceAndRequest(t *testing.T) {
	dead := snap(
		[]fleet.Instance{{InstanceID: "i-3", WorkerType: "builder", StateReason: &fleet.StateReason{Code: "Client.UserInitiatedShutdown", Message: "user initiated"}}},
		[]fleet.Request{{RequestID: "r-3", WorkerType: "builder", State: fleet.RequestStateActive, StatusCode: fleet.StatusFulfilled}},
	)

	instOutcome, resolved := ResolvePendingInstance("i-3", dead)
	assert.True(t, resolved)
	assert.Equal(t, InstanceTerminated, instOutcome.Kind)

	_, resolved = ResolvePendingInstance("i-unknown", dead)
	assert.False(t, resolved)

	reqOutcome, resolved := ResolvePendingRequest("r-3", dead)
	assert.True(t, resolved)
	assert.Equal(t, RequestFulfilled, reqOutcome.Kind)
}
