package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotLookups(t *testing.T) {
	now := time.Now()
	snap := NewSnapshot(now,
		[]Instance{
			{InstanceID: "i-1", WorkerType: "builder"},
			{InstanceID: "i-2", WorkerType: "tester"},
		},
		[]Request{
			{RequestID: "r-1", WorkerType: "builder"},
		},
	)

	assert.ElementsMatch(t, []string{"builder", "tester"}, snap.WorkerTypes())
	assert.Len(t, snap.InstancesFor("builder"), 1)
	assert.Len(t, snap.InstancesFor("tester"), 1)
	assert.Empty(t, snap.InstancesFor("unknown"))

	inst, ok := snap.InstanceByID("i-1")
	assert.True(t, ok)
	assert.Equal(t, "builder", inst.WorkerType)

	_, ok = snap.InstanceByID("missing")
	assert.False(t, ok)

	req, ok := snap.RequestByID("r-1")
	assert.True(t, ok)
	assert.Equal(t, "builder", req.WorkerType)
}

func TestSnapshotIsDefensivelyCopied(t *testing.T) {
	instances := []Instance{{InstanceID: "i-1"}}
	snap := NewSnapshot(time.Now(), instances, nil)
	instances[0].InstanceID = "mutated"
	got := snap.Instances()
	assert.Equal(t, "i-1", got[0].InstanceID)

	got[0].InstanceID = "mutated-again"
	got2 := snap.Instances()
	assert.Equal(t, "i-1", got2[0].InstanceID)
}
