package mesh

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// BuildFeatureCollection renders one estimation result as GeoJSON: a Point
// feature per positioned node and a LineString per link whose endpoints are
// both positioned. Nodes without a coordinate are left out; map clients
// cannot draw them anyway.
func BuildFeatureCollection(nodes []Node, edges []EdgeLine) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	positions := make(map[uint32]orb.Point, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if !n.HasCoord() {
			continue
		}
		pt := orb.Point{*n.Lon, *n.Lat}
		positions[n.Num] = pt

		f := geojson.NewFeature(pt)
		f.ID = n.Num
		f.Properties["num"] = n.Num
		f.Properties["short_name"] = n.ShortName
		f.Properties["long_name"] = n.LongName
		f.Properties["estimated"] = n.Estimated
		if n.ID != "" {
			f.Properties["id"] = n.ID
		}
		if n.Role != "" {
			f.Properties["role"] = n.Role
		}
		if n.HWModel != "" {
			f.Properties["hw_model"] = n.HWModel
		}
		if n.TraceOnly {
			f.Properties["trace_only"] = true
		}
		fc.Append(f)
	}

	for _, e := range edges {
		from, okFrom := positions[e.From]
		to, okTo := positions[e.To]
		if !okFrom || !okTo {
			continue
		}
		f := geojson.NewFeature(orb.LineString{from, to})
		f.Properties["from"] = e.From
		f.Properties["to"] = e.To
		f.Properties["count"] = e.Count
		if !math.IsNaN(e.MeanSNR) {
			f.Properties["mean_snr_db"] = e.MeanSNR
		}
		fc.Append(f)
	}

	return fc
}
