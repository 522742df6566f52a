// Package workertype holds the read-only Worker-Type Definition of spec §3,
// borrowed from the external store. Nothing in this module ever mutates a
// Definition; the store owns it.
package workertype

// InstanceTypeOption is one instance-type choice available to a worker
// type, spec §3's instance_types entry.
type InstanceTypeOption struct {
	Type      string
	Capacity  int     // tasks-per-instance
	Utility   float64 // unitless multiplier normalizing spot prices across types
	Overrides map[string]string
}

// RegionOption is one allowed region for a worker type, spec §3's regions
// entry.
type RegionOption struct {
	Region    string
	Overrides map[string]string
}

// Definition is the Worker-Type Definition of spec §3: read-only input to
// the reconciliation core.
type Definition struct {
	Name            string
	MinCapacity     int
	MaxCapacity     int
	ScalingRatio    float64
	MinPrice        float64
	MaxPrice        float64
	InstanceTypes   []InstanceTypeOption
	Regions         []RegionOption
	SharedLaunchSpec map[string]any
}

// CapacityOf returns the capacity for instanceType, or 1 if unknown — spec
// §4.4: "If capacity_of is unknown for a given instance-type, count it as
// 1."
func (d Definition) CapacityOf(instanceType string) int {
	for _, it := range d.InstanceTypes {
		if it.Type == instanceType {
			return it.Capacity
		}
	}
	return 1
}

// UtilityOf returns the utility multiplier for instanceType, or 1 if
// unknown.
func (d Definition) UtilityOf(instanceType string) float64 {
	for _, it := range d.InstanceTypes {
		if it.Type == instanceType {
			if it.Utility == 0 {
				return 1
			}
			return it.Utility
		}
	}
	return 1
}

// RegionNames returns the allowed region names for this worker type.
func (d Definition) RegionNames() []string {
	out := make([]string, 0, len(d.Regions))
	for _, r := range d.Regions {
		out = append(out, r.Region)
	}
	return out
}
