package mesh

import (
	"math"
	"testing"
)

// relaxFixture wires a minimal topology, calibration, and solver state by
// hand so the spring passes can be exercised in isolation.
func relaxFixture(scale float64, positions map[uint32]Point, fixed map[uint32]bool, traces []Trace) (*Topology, *Calibration, *solver) {
	topo := BuildTopology(nil, traces)
	cal := &Calibration{GlobalMetersPerUnit: scale}
	s := &solver{
		cfg:    DefaultEstimatorConfig(),
		topo:   topo,
		cal:    cal,
		pos:    make(map[uint32]*Point),
		fixed:  fixed,
		strong: make(map[uint32]bool),
	}
	for num, p := range positions {
		pt := p
		s.pos[num] = &pt
	}
	return topo, cal, s
}

func TestRelaxPullsEdgeTowardDesiredLength(t *testing.T) {
	// One edge at unit cost, scale 1000: desired length is 1000 m. Node 2
	// starts 3000 m out and must be pulled inward; node 1 is fixed.
	topo, cal, s := relaxFixture(1000,
		map[uint32]Point{1: {X: 0, Y: 0}, 2: {X: 3000, Y: 0}},
		map[uint32]bool{1: true},
		[]Trace{{TowardsNums: NodeNumList{1, 2}}},
	)

	relax(topo, cal, s, s.cfg)

	if s.pos[1].X != 0 || s.pos[1].Y != 0 {
		t.Errorf("fixed node moved to %v", *s.pos[1])
	}
	got := math.Hypot(s.pos[2].X, s.pos[2].Y)
	if got >= 3000 {
		t.Errorf("edge length %v did not shrink", got)
	}
	if got < 1000 {
		t.Errorf("edge length %v overshot the desired 1000", got)
	}
}

func TestRelaxPushesTooShortEdgeApart(t *testing.T) {
	topo, cal, s := relaxFixture(1000,
		map[uint32]Point{1: {X: 0, Y: 0}, 2: {X: 100, Y: 0}},
		map[uint32]bool{1: true},
		[]Trace{{TowardsNums: NodeNumList{1, 2}}},
	)

	relax(topo, cal, s, s.cfg)

	got := math.Hypot(s.pos[2].X, s.pos[2].Y)
	if got <= 100 {
		t.Errorf("edge length %v did not grow", got)
	}
	if got > 1000 {
		t.Errorf("edge length %v overshot the desired 1000", got)
	}
}

func TestRelaxSkipsUnpositionedEndpoints(t *testing.T) {
	topo, cal, s := relaxFixture(1000,
		map[uint32]Point{1: {X: 0, Y: 0}},
		map[uint32]bool{1: true},
		[]Trace{{TowardsNums: NodeNumList{1, 2}}},
	)

	relax(topo, cal, s, s.cfg)

	if _, ok := s.pos[2]; ok {
		t.Error("relaxation must not invent a position for an unplaced node")
	}
	if s.pos[1].X != 0 || s.pos[1].Y != 0 {
		t.Errorf("fixed node moved to %v", *s.pos[1])
	}
}

func TestRelaxStrongNodesMoveLess(t *testing.T) {
	// Two identical free-floating edges; in one the far end is strong. The
	// correction splits by mobility, so the strong end must absorb less of
	// it than a fully free end paired with the same neighbor.
	run := func(strong bool) float64 {
		topo, cal, s := relaxFixture(1000,
			map[uint32]Point{1: {X: 0, Y: 0}, 2: {X: 2000, Y: 0}},
			map[uint32]bool{},
			[]Trace{{TowardsNums: NodeNumList{1, 2}}},
		)
		if strong {
			s.strong[2] = true
		}
		relax(topo, cal, s, s.cfg)
		return math.Abs(2000 - s.pos[2].X)
	}

	movedFree := run(false)
	movedStrong := run(true)
	if movedStrong >= movedFree {
		t.Errorf("strong node moved %v, free node %v; strong must move less",
			movedStrong, movedFree)
	}
	if movedStrong == 0 {
		t.Error("strong node should still move a little")
	}
}

func TestRelaxCoincidentPointsStable(t *testing.T) {
	// Degenerate zero-length edge: the pass must leave it alone rather than
	// emit NaN from the normalization.
	topo, cal, s := relaxFixture(1000,
		map[uint32]Point{1: {X: 50, Y: 50}, 2: {X: 50, Y: 50}},
		map[uint32]bool{},
		[]Trace{{TowardsNums: NodeNumList{1, 2}}},
	)

	relax(topo, cal, s, s.cfg)

	for num, p := range s.pos {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) {
			t.Errorf("node %d at non-finite position %v", num, *p)
		}
	}
}
