package mesh

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// ---------------------------------------------------------------------------
// Projector
// ---------------------------------------------------------------------------

func TestProjectorCenteredOnAnchorCentroid(t *testing.T) {
	anchors := []*Node{
		{Num: 1, Lat: ptr(50.0), Lon: ptr(4.0)},
		{Num: 2, Lat: ptr(52.0), Lon: ptr(6.0)},
	}
	p := NewProjector(anchors)
	if !almostEqual(p.Lat0, 51.0, 1e-9) || !almostEqual(p.Lon0, 5.0, 1e-9) {
		t.Errorf("center = (%v, %v), want (51, 5)", p.Lat0, p.Lon0)
	}
	origin := p.ToLocal(51.0, 5.0)
	if !almostEqual(origin.X, 0, 1e-9) || !almostEqual(origin.Y, 0, 1e-9) {
		t.Errorf("centroid must project to the origin, got %v", origin)
	}
}

func TestProjectorRoundTrip(t *testing.T) {
	p := NewProjector([]*Node{{Num: 1, Lat: ptr(51.5), Lon: ptr(5.25)}})

	tests := []struct{ lat, lon float64 }{
		{51.5, 5.25},
		{51.6, 5.30},
		{51.4, 5.10},
		{52.0, 6.0},
	}
	for _, tt := range tests {
		pt := p.ToLocal(tt.lat, tt.lon)
		lat, lon := p.ToGeo(pt)
		if !almostEqual(lat, tt.lat, 1e-9) || !almostEqual(lon, tt.lon, 1e-9) {
			t.Errorf("round trip (%v, %v) -> (%v, %v)", tt.lat, tt.lon, lat, lon)
		}
	}
}

func TestProjectorScale(t *testing.T) {
	p := NewProjector([]*Node{{Num: 1, Lat: ptr(0.0), Lon: ptr(0.0)}})

	// One degree of latitude at the equator.
	pt := p.ToLocal(1.0, 0.0)
	if !almostEqual(pt.Y, metersPerLatDegree, 1e-6) {
		t.Errorf("lat degree = %v m, want %v", pt.Y, metersPerLatDegree)
	}
	// At the equator a longitude degree matches a latitude degree.
	pt = p.ToLocal(0.0, 1.0)
	if !almostEqual(pt.X, metersPerLatDegree, 1e-6) {
		t.Errorf("lon degree at equator = %v m, want %v", pt.X, metersPerLatDegree)
	}
}

func TestProjectorPolarCosineFloor(t *testing.T) {
	// Near the pole cos(lat) collapses; the floor keeps longitude meters
	// non-degenerate so ToGeo stays finite.
	p := NewProjector([]*Node{{Num: 1, Lat: ptr(89.9), Lon: ptr(0.0)}})
	if p.metersPerLon < metersPerLatDegree*minLonCosine-1e-6 {
		t.Errorf("metersPerLon = %v, below floor", p.metersPerLon)
	}
	lat, lon := p.ToGeo(Point{X: 1000, Y: 1000})
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		t.Errorf("polar projection produced non-finite coordinate (%v, %v)", lat, lon)
	}
}
