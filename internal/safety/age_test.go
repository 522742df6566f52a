package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petemoore/aws-provisioner/internal/fleet"
)

func TestAgedOutInstancesIgnoresZeroLaunchTime(t *testing.T) {
	now := time.Now()
	instances := []fleet.Instance{
		{InstanceID: "i-old", LaunchTime: now.Add(-100 * time.Hour)},
		{InstanceID: "i-new", LaunchTime: now.Add(-1 * time.Hour)},
		{InstanceID: "i-no-launch-time"},
	}
	aged := AgedOutInstances(instances, 96*time.Hour, now)
	require.Len(t, aged, 1)
	assert.Equal(t, "i-old", aged[0].InstanceID)
}

func TestKillAgedBatchesPerRegion(t *testing.T) {
	term := &fakeTerminator{}
	aged := []fleet.Instance{
		{InstanceID: "i-1", Region: "us-east-1"},
		{InstanceID: "i-2", Region: "us-east-1"},
		{InstanceID: "i-3", Region: "us-west-2"},
	}
	err := KillAged(context.Background(), aged, term)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"us-east-1", "us-west-2"}, term.terminatedRegions)
}
