// Package launchspec defines the interface to the external launch-spec
// generator (spec §1: "out of scope ... the core calls it as a pure
// function"). It merges shared + per-region + per-type overrides into a
// launchable image/spec; this module only needs the resulting image ID to
// place a bid.
package launchspec

import (
	"errors"

	"github.com/petemoore/aws-provisioner/internal/workertype"
)

// Generator resolves the image ID to launch for one (worker type, region,
// instance type) combination.
type Generator interface {
	ImageID(def workertype.Definition, region, instanceType string) (string, error)
}

// imageIDOverrideKey is the overrides/shared-launch-spec map key this
// module looks for. The full merge logic (shared + per-region +
// per-type, spec §3) is the external generator's concern; this default
// only needs the one field this module actually consumes.
const imageIDOverrideKey = "image_id"

// ErrNoImageID is returned when no image ID can be resolved anywhere in
// the worker type's launch spec.
var ErrNoImageID = errors.New("no image_id configured for worker type")

// StaticGenerator is the minimal contract-conformant Generator this module
// ships: it resolves image_id by checking the instance-type override,
// then the region override, then the shared launch spec, mirroring the
// override precedence spec §3 already defines for a Worker-Type
// Definition. A real deployment is expected to supply a richer Generator
// that builds full cloud-init/launch templates; this default exists so
// the reconciler has something to call without requiring that
// integration up front.
type StaticGenerator struct{}

// ImageID implements Generator.
func (StaticGenerator) ImageID(def workertype.Definition, region, instanceType string) (string, error) {
	for _, it := range def.InstanceTypes {
		if it.Type == instanceType {
			if v, ok := it.Overrides[imageIDOverrideKey]; ok && v != "" {
				return v, nil
			}
			break
		}
	}
	for _, r := range def.Regions {
		if r.Region == region {
			if v, ok := r.Overrides[imageIDOverrideKey]; ok && v != "" {
				return v, nil
			}
			break
		}
	}
	if v, ok := def.SharedLaunchSpec[imageIDOverrideKey].(string); ok && v != "" {
		return v, nil
	}
	return "", ErrNoImageID
}
