package hydraulic

import (
	"time"

	"github.com/couchcryptid/hydromap/internal/network"
)

// NodeResult holds the solved state of a node. Demand is in m3/s; for
// reservoirs and tanks it is the net inflow (negative when supplying).
type NodeResult struct {
	Head     float64
	Pressure float64
	Demand   float64
}

// LinkResult holds the solved state of a link. Flow is in m3/s and
// positive from start to end node; Velocity is in m/s (zero for pumps).
type LinkResult struct {
	Flow     float64
	Velocity float64
	Headloss float64
	Status   network.LinkStatus
}

// Snapshot is the network state at one simulation time.
type Snapshot struct {
	Time  time.Duration
	Nodes map[string]NodeResult
	Links map[string]LinkResult
	// Trials is the number of gradient iterations the step took.
	Trials int
}

// Pressures returns node pressures keyed by name.
func (s *Snapshot) Pressures() map[string]float64 {
	out := make(map[string]float64, len(s.Nodes))
	for name, n := range s.Nodes {
		out[name] = n.Pressure
	}
	return out
}

// Results is the time series produced by a simulation run.
type Results struct {
	Times     []time.Duration
	Snapshots []Snapshot
}

// Last returns the final snapshot, or nil for an empty result.
func (r *Results) Last() *Snapshot {
	if r == nil || len(r.Snapshots) == 0 {
		return nil
	}
	return &r.Snapshots[len(r.Snapshots)-1]
}

// ClipNegativePressures returns a copy of pressures with negative values
// replaced by zero. It is a display correction only.
func ClipNegativePressures(pressures map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(pressures))
	for name, p := range pressures {
		out[name] = max(p, 0)
	}
	return out
}
