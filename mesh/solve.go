package mesh

import (
	"math"
	"sort"
)

// Constraint ties one target node to one anchor: the anchor's local-plane
// position, the estimated radius in meters derived from path cost, and a
// weight that decays with hop distance to favor nearby anchors.
type Constraint struct {
	Anchor uint32
	Pos    Point
	Hop    int
	Cost   float64
	Radius float64
	Weight float64
}

// solver places every coordinate-less node in the local plane from its
// anchor constraints. Anchors are fixed; nodes solved from three or more
// constraints are marked strong, which later limits how far relaxation
// may move them.
type solver struct {
	cfg  EstimatorConfig
	topo *Topology
	cal  *Calibration

	pos    map[uint32]*Point
	fixed  map[uint32]bool
	strong map[uint32]bool

	constraints map[uint32][]Constraint
}

func newSolver(topo *Topology, anchors []*Node, cal *Calibration, cfg EstimatorConfig) *solver {
	s := &solver{
		cfg:         cfg,
		topo:        topo,
		cal:         cal,
		pos:         make(map[uint32]*Point),
		fixed:       make(map[uint32]bool),
		strong:      make(map[uint32]bool),
		constraints: make(map[uint32][]Constraint),
	}
	for _, anchor := range anchors {
		p := cal.AnchorPos[anchor.Num]
		s.pos[anchor.Num] = &Point{X: p.X, Y: p.Y}
		s.fixed[anchor.Num] = true
	}
	s.buildConstraints(anchors)
	return s
}

// buildConstraints collects, for every node without a coordinate, the
// anchors within the hop budget, sorted by (hop, anchor) for determinism
// and truncated to the nearest few to keep the solve cheap.
func (s *solver) buildConstraints(anchors []*Node) {
	for _, num := range s.topo.SortedNums() {
		if s.topo.Nodes[num].HasCoord() {
			continue
		}
		var constraints []Constraint
		for _, anchor := range anchors {
			hop, ok := s.cal.HopsByAnchor[anchor.Num][num]
			if !ok || hop <= 0 || hop > s.cfg.MaxConstraintHops {
				continue
			}
			cost, ok := s.cal.CostByAnchor[anchor.Num][num]
			if !ok || cost <= 0 {
				continue
			}
			pos, ok := s.cal.AnchorPos[anchor.Num]
			if !ok {
				continue
			}
			radius := cost * s.cal.MetersPerUnit(anchor.Num)
			constraints = append(constraints, Constraint{
				Anchor: anchor.Num,
				Pos:    pos,
				Hop:    hop,
				Cost:   cost,
				Radius: radius,
				Weight: 1.0 / float64(hop*hop),
			})
		}
		sort.Slice(constraints, func(i, j int) bool {
			if constraints[i].Hop != constraints[j].Hop {
				return constraints[i].Hop < constraints[j].Hop
			}
			return constraints[i].Anchor < constraints[j].Anchor
		})
		if len(constraints) > s.cfg.MaxAnchorsPerNode {
			constraints = constraints[:s.cfg.MaxAnchorsPerNode]
		}
		s.constraints[num] = constraints
	}
}

// run places all solvable nodes. Strongly constrained nodes are solved
// first; the remaining nodes are processed in rounds so that a node placed
// in one round can serve as a neighbor hint for another in the next.
func (s *solver) run() {
	nums := s.topo.SortedNums()

	for _, num := range nums {
		if s.topo.Nodes[num].HasCoord() {
			continue
		}
		constraints := s.constraints[num]
		if len(constraints) < 3 {
			continue
		}
		solved := s.solveMultilateration(constraints)
		s.pos[num] = &solved
		s.strong[num] = true
	}

	for round := 0; round < s.cfg.SolverRounds; round++ {
		progressed := false
		for _, num := range nums {
			if s.topo.Nodes[num].HasCoord() {
				continue
			}
			if _, placed := s.pos[num]; placed {
				continue
			}
			constraints := s.constraints[num]
			if len(constraints) == 0 {
				continue
			}
			hint, hasHint := s.neighborHint(num)

			var placed Point
			switch {
			case len(constraints) >= 3:
				placed = s.solveMultilateration(constraints)
				s.strong[num] = true
			case len(constraints) == 2:
				placed = s.placeWithTwoAnchors(num, constraints[0], constraints[1], hint, hasHint)
			default:
				placed = s.placeWithOneAnchor(num, constraints[0], hint, hasHint)
			}
			s.pos[num] = &placed
			progressed = true
		}
		if !progressed {
			break
		}
	}
}

// solveMultilateration refines a weighted-centroid initial guess with
// damped Gauss-Newton iterations on the residuals |p - anchor| - radius.
// The damping keeps the 2x2 normal equations well conditioned; iteration
// stops early once the step shrinks below the configured threshold or the
// system goes singular.
func (s *solver) solveMultilateration(constraints []Constraint) Point {
	var x, y, wSum float64
	for _, c := range constraints {
		x += c.Pos.X * c.Weight
		y += c.Pos.Y * c.Weight
		wSum += c.Weight
	}
	if wSum > 0 {
		x /= wSum
		y /= wSum
	}

	damping := s.cfg.SolverDamping
	for iter := 0; iter < s.cfg.SolverIterations; iter++ {
		var a11, a12, a22, b1, b2 float64
		for _, c := range constraints {
			dx := x - c.Pos.X
			dy := y - c.Pos.Y
			dist := math.Hypot(dx, dy)
			if dist == 0 {
				dist = 1e-6
			}
			jx := dx / dist
			jy := dy / dist
			resid := dist - c.Radius
			a11 += c.Weight * jx * jx
			a12 += c.Weight * jx * jy
			a22 += c.Weight * jy * jy
			b1 += c.Weight * jx * resid
			b2 += c.Weight * jy * resid
		}

		a11 += damping
		a22 += damping
		det := a11*a22 - a12*a12
		if math.IsNaN(det) || math.IsInf(det, 0) || math.Abs(det) < 1e-9 {
			break
		}
		dxStep := (-a22*b1 + a12*b2) / det
		dyStep := (a12*b1 - a11*b2) / det
		if math.IsNaN(dxStep) || math.IsInf(dxStep, 0) || math.IsNaN(dyStep) || math.IsInf(dyStep, 0) {
			break
		}

		x += dxStep
		y += dyStep
		if math.Hypot(dxStep, dyStep) < s.cfg.SolverStepThreshold {
			break
		}
	}
	return Point{X: x, Y: y}
}

// neighborHint averages the positions of already-placed graph neighbors.
func (s *solver) neighborHint(num uint32) (Point, bool) {
	var xSum, ySum float64
	count := 0
	for _, neighbor := range s.topo.NeighborNums(num) {
		pos, ok := s.pos[neighbor]
		if !ok {
			continue
		}
		xSum += pos.X
		ySum += pos.Y
		count++
	}
	if count == 0 {
		return Point{}, false
	}
	return Point{X: xSum / float64(count), Y: ySum / float64(count)}, true
}

// circleIntersections returns the 0 or 2 intersection points of two
// circles. Coincident centers, disjoint circles, and containment all
// yield no intersection.
func circleIntersections(a Point, r1 float64, b Point, r2 float64) []Point {
	dx := b.X - a.X
	dy := b.Y - a.Y
	dist := math.Hypot(dx, dy)
	if math.IsNaN(dist) || dist < 1e-6 {
		return nil
	}
	if dist > r1+r2 || dist < math.Abs(r1-r2) {
		return nil
	}
	t := (r1*r1 - r2*r2 + dist*dist) / (2.0 * dist)
	h := math.Sqrt(math.Max(0.0, r1*r1-t*t))
	ux := dx / dist
	uy := dy / dist
	px := a.X + ux*t
	py := a.Y + uy*t
	rx := -uy * h
	ry := ux * h
	return []Point{{X: px + rx, Y: py + ry}, {X: px - rx, Y: py - ry}}
}

// placeWithTwoAnchors intersects the two constraint circles. With two
// intersection points the one nearer the neighbor hint wins; lacking a
// hint, node-number parity picks a side so repeated runs agree. When the
// circles do not intersect the node lands on the anchor-to-anchor line,
// split by relative radii and nudged by a node-derived angle so it cannot
// coincide with either anchor.
func (s *solver) placeWithTwoAnchors(num uint32, c1, c2 Constraint, hint Point, hasHint bool) Point {
	intersections := circleIntersections(c1.Pos, c1.Radius, c2.Pos, c2.Radius)
	if len(intersections) == 2 {
		if hasHint {
			d0 := math.Hypot(intersections[0].X-hint.X, intersections[0].Y-hint.Y)
			d1 := math.Hypot(intersections[1].X-hint.X, intersections[1].Y-hint.Y)
			if d0 <= d1 {
				return intersections[0]
			}
			return intersections[1]
		}
		if num%2 == 0 {
			return intersections[0]
		}
		return intersections[1]
	}

	dx := c2.Pos.X - c1.Pos.X
	dy := c2.Pos.Y - c1.Pos.Y
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		dist = 1e-6
	}
	t := 0.5
	if c1.Radius+c2.Radius > 1e-6 {
		t = math.Max(0.0, math.Min(1.0, c1.Radius/(c1.Radius+c2.Radius)))
	}
	x := c1.Pos.X + dx*t
	y := c1.Pos.Y + dy*t

	angle := nodeAngle(num)
	nudge := math.Min(0.22*s.cal.GlobalMetersPerUnit, 120.0)
	return Point{X: x + math.Cos(angle)*nudge, Y: y + math.Sin(angle)*nudge}
}

// placeWithOneAnchor puts the node on the constraint circle, towards the
// neighbor hint when one exists, else at a node-derived angle.
func (s *solver) placeWithOneAnchor(num uint32, c Constraint, hint Point, hasHint bool) Point {
	angle := nodeAngle(num)
	if hasHint {
		angle = math.Atan2(hint.Y-c.Pos.Y, hint.X-c.Pos.X)
	}
	return Point{
		X: c.Pos.X + math.Cos(angle)*c.Radius,
		Y: c.Pos.Y + math.Sin(angle)*c.Radius,
	}
}

// nodeAngle derives a stable angle from the node number. Not
// geometrically meaningful, just deterministic.
func nodeAngle(num uint32) float64 {
	return float64(num%360) * math.Pi / 180.0
}

// mobility returns how far relaxation may move a node: anchors never
// move, strongly solved nodes barely, everything else freely.
func (s *solver) mobility(num uint32) float64 {
	if s.fixed[num] {
		return 0.0
	}
	if s.strong[num] {
		return s.cfg.StrongMobility
	}
	return 1.0
}
