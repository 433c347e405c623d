package mesh

import "math"

// metersPerLatDegree is the equirectangular approximation of one degree of
// latitude. Longitude degrees shrink with cos(lat); the cosine is floored
// to keep the projection invertible near the poles.
const metersPerLatDegree = 111111.0

const minLonCosine = 0.2

// Projector maps between geodetic coordinates and a local tangent-plane
// Cartesian system centered on a reference point, in meters. It is the
// only coordinate system the solver and refiner operate in.
type Projector struct {
	Lat0 float64
	Lon0 float64

	metersPerLon float64
}

// NewProjector creates a projector centered on the centroid of the given
// anchor nodes. Callers must pass at least one anchor.
func NewProjector(anchors []*Node) *Projector {
	var lat0, lon0 float64
	for _, a := range anchors {
		lat0 += *a.Lat
		lon0 += *a.Lon
	}
	n := float64(len(anchors))
	lat0 /= n
	lon0 /= n
	return &Projector{
		Lat0:         lat0,
		Lon0:         lon0,
		metersPerLon: metersPerLonDegree(lat0),
	}
}

func metersPerLonDegree(lat float64) float64 {
	return metersPerLatDegree * math.Max(minLonCosine, math.Cos(lat*math.Pi/180.0))
}

// ToLocal converts a geodetic coordinate to local plane meters.
func (p *Projector) ToLocal(lat, lon float64) Point {
	return Point{
		X: (lon - p.Lon0) * p.metersPerLon,
		Y: (lat - p.Lat0) * metersPerLatDegree,
	}
}

// ToGeo converts a local plane point back to a geodetic coordinate.
func (p *Projector) ToGeo(pt Point) (lat, lon float64) {
	return p.Lat0 + pt.Y/metersPerLatDegree, p.Lon0 + pt.X/p.metersPerLon
}
