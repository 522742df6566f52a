package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerTypeFromKeyName(t *testing.T) {
	tests := []struct {
		name       string
		keyPrefix  string
		keyName    string
		wantWT     string
		wantOK     bool
	}{
		{"matching prefix", "provisioner-", "provisioner-builder", "builder", true},
		{"no prefix configured", "", "provisioner-builder", "", false},
		{"key lacks prefix", "provisioner-", "other-builder", "", false},
		{"key equals prefix exactly", "provisioner-", "provisioner-", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wt, ok := WorkerTypeFromKeyName(tt.keyPrefix, tt.keyName)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantWT, wt)
		})
	}
}

func TestClassifyDropsUnmatchedPrefix(t *testing.T) {
	now := time.Now()
	raw := []RawInstance{
		{Instance{InstanceID: "i-1", KeyName: "provisioner-builder"}},
		{Instance{InstanceID: "i-2", KeyName: "someone-elses-key"}},
	}
	snap := Classify("provisioner-", now, raw, nil)
	instances := snap.Instances()
	require.Len(t, instances, 1)
	assert.Equal(t, "i-1", instances[0].InstanceID)
	assert.Equal(t, "builder", instances[0].WorkerType)
}

func TestBisectStalled(t *testing.T) {
	now := time.Now()
	cfg := StallConfig{StallTimeout: 20 * time.Minute}

	fresh := Request{RequestID: "r-fresh", State: RequestStateOpen, CreateTime: now.Add(-time.Minute)}
	aged := Request{RequestID: "r-aged", State: RequestStateOpen, CreateTime: now.Add(-30 * time.Minute)}
	badStatus := Request{RequestID: "r-bad", State: RequestStateOpen, StatusCode: StatusCapacityNotAvailable, CreateTime: now}
	active := Request{RequestID: "r-active", State: RequestStateActive, CreateTime: now.Add(-time.Hour)}

	good, stalled := BisectStalled([]Request{fresh, aged, badStatus, active}, cfg, now)

	goodIDs := idsOf(good)
	stalledIDs := idsOf(stalled)
	assert.ElementsMatch(t, []string{"r-fresh", "r-active"}, goodIDs)
	assert.ElementsMatch(t, []string{"r-aged", "r-bad"}, stalledIDs)
}

func idsOf(reqs []Request) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.RequestID)
	}
	return out
}
