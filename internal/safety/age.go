package safety

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/petemoore/aws-provisioner/internal/bidder"
	"github.com/petemoore/aws-provisioner/internal/fleet"
)

// AgedOutInstances returns the instances across all worker types whose
// launch_time predates now-maxInstanceLife. Instances with a zero
// LaunchTime are ignored per spec §4.6: "Instances with no launch_time are
// ignored."
func AgedOutInstances(instances []fleet.Instance, maxInstanceLife time.Duration, now time.Time) []fleet.Instance {
	cutoff := now.Add(-maxInstanceLife)
	var out []fleet.Instance
	for _, i := range instances {
		if i.LaunchTime.IsZero() {
			continue
		}
		if i.LaunchTime.Before(cutoff) {
			out = append(out, i)
		}
	}
	return out
}

// KillAged terminates every instance in aged, batched per region.
func KillAged(ctx context.Context, aged []fleet.Instance, terminator bidder.Terminator) error {
	byRegion := make(map[string][]string)
	for _, i := range aged {
		byRegion[i.Region] = append(byRegion[i.Region], i.InstanceID)
	}
	var combined error
	for region, ids := range byRegion {
		if err := terminator.TerminateInstances(ctx, region, ids); err != nil {
			combined = multierr.Append(combined, err)
		}
	}
	return combined
}
