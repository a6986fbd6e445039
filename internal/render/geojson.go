package render

import (
	"fmt"

	"github.com/couchcryptid/hydromap/internal/geo"
	"github.com/couchcryptid/hydromap/internal/hydraulic"
	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ExportGeoJSON builds a FeatureCollection with a point per node and a line
// string per link, in WGS84. When snap is non-nil the features also carry
// pressure (clipped), demand in L/s, flow in L/s and velocity in m/s.
func ExportGeoJSON(net *network.Network, snap *hydraulic.Snapshot, tr geo.Transformer) (*geojson.FeatureCollection, error) {
	positions := make(map[string]orb.Point, net.NodeCount())
	fc := geojson.NewFeatureCollection()

	var pressure map[string]float64
	if snap != nil {
		pressure = hydraulic.ClipNegativePressures(snap.Pressures())
	}

	for _, n := range net.Nodes() {
		ll, err := tr.Transform(n.Coordinates())
		if err != nil {
			return nil, fmt.Errorf("project node %s: %w", n.Name(), err)
		}
		positions[n.Name()] = ll.Point()

		f := geojson.NewFeature(ll.Point())
		f.ID = n.Name()
		f.Properties["name"] = n.Name()
		f.Properties["kind"] = n.Kind().String()
		f.Properties["elevation"] = n.Elevation()
		if snap != nil {
			f.Properties["pressure"] = pressure[n.Name()]
			f.Properties["head"] = snap.Nodes[n.Name()].Head
			f.Properties["demand_lps"] = snap.Nodes[n.Name()].Demand * 1000
		}
		fc.Append(f)
	}

	for _, l := range net.Links() {
		f := geojson.NewFeature(orb.LineString{positions[l.StartNode()], positions[l.EndNode()]})
		f.ID = l.Name()
		f.Properties["name"] = l.Name()
		f.Properties["kind"] = l.Kind().String()
		f.Properties["start"] = l.StartNode()
		f.Properties["end"] = l.EndNode()
		if v, ok := l.(*network.Valve); ok {
			f.Properties["valve_type"] = string(v.Type)
			f.Properties["setting"] = v.Setting
		}
		if snap != nil {
			r := snap.Links[l.Name()]
			f.Properties["flow_lps"] = r.Flow * 1000
			f.Properties["velocity"] = r.Velocity
			f.Properties["status"] = r.Status.String()
		}
		fc.Append(f)
	}
	return fc, nil
}
