package mesh

import (
	"math"
	"sort"
)

// EstimatorConfig holds every bound and tuning constant of the position
// estimation pipeline. All distances are meters, all costs are unitless
// edge-cost units. Every iterative stage has a hard cap so pathological
// graphs cannot make a pass run away.
type EstimatorConfig struct {
	MaxSearchHops        int     // BFS depth cap per anchor
	SearchCostPerHop     float64 // Dijkstra cost cap is MaxSearchHops times this
	MaxCalibrationHops   int     // Anchor pairs farther apart are not used for scale
	MinUnitMeters        float64 // Plausibility floor for meters-per-unit ratios
	MaxUnitMeters        float64 // Plausibility ceiling for meters-per-unit ratios
	DefaultMetersPerUnit float64 // Scale used when no usable anchor pair exists
	LocalScaleBlend      float64 // Weight of an anchor's local median vs the global scale
	MinAnchorRatios      int     // Samples an anchor needs before its local scale counts

	MaxConstraintHops int // Anchors beyond this hop budget yield no constraint
	MaxAnchorsPerNode int // Nearest-anchor constraint cap per node

	SolverIterations    int     // Gauss-Newton iteration cap
	SolverDamping       float64 // Added to the normal-equations diagonal each iteration
	SolverStepThreshold float64 // Stop once the step is shorter than this (m)
	SolverRounds        int     // Placement rounds so hints can propagate

	SpringIterations   int     // Relaxation passes over all edges
	SpringAlpha        float64 // Base relaxation rate
	SpringStepFraction float64 // Per-edge movement cap as a fraction of desired length
	StrongMobility     float64 // Mobility of nodes solved from three or more anchors
}

// DefaultEstimatorConfig returns the tuning used in production.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		MaxSearchHops:        25,
		SearchCostPerHop:     2.6,
		MaxCalibrationHops:   12,
		MinUnitMeters:        10.0,
		MaxUnitMeters:        20000.0,
		DefaultMetersPerUnit: 400.0,
		LocalScaleBlend:      0.7,
		MinAnchorRatios:      3,
		MaxConstraintHops:    12,
		MaxAnchorsPerNode:    8,
		SolverIterations:     22,
		SolverDamping:        1.0,
		SolverStepThreshold:  0.2,
		SolverRounds:         5,
		SpringIterations:     28,
		SpringAlpha:          0.08,
		SpringStepFraction:   0.45,
		StrongMobility:       0.25,
	}
}

func (c EstimatorConfig) maxSearchCost() float64 {
	return float64(c.MaxSearchHops) * c.SearchCostPerHop
}

// Estimator infers coordinates for nodes that never report GPS from the
// trace topology and the anchor set. It holds only configuration; every
// call derives all state fresh from its inputs, so a single Estimator is
// safe for repeated use as long as callers pass snapshotted inputs.
type Estimator struct {
	cfg EstimatorConfig
}

// NewEstimator creates an estimator with the given configuration.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// EstimatePositions runs the full pipeline with the default configuration.
func EstimatePositions(nodes []Node, traces []Trace) []Node {
	return NewEstimator(DefaultEstimatorConfig()).Estimate(nodes, traces)
}

// Estimate returns the full node set, sorted by ascending node number,
// with coordinates filled in where the topology allows an estimate.
// Input-supplied coordinates are never touched; nodes in components with
// no reachable anchor stay without a coordinate. The function is total
// and deterministic: it never fails, and identical inputs produce
// identical output.
func (e *Estimator) Estimate(nodes []Node, traces []Trace) []Node {
	topo := BuildTopology(nodes, traces)

	anchors := topo.Anchors()
	if len(anchors) == 0 {
		return sortedNodes(topo)
	}

	proj := NewProjector(anchors)
	cal := Calibrate(topo, anchors, proj, e.cfg)

	s := newSolver(topo, anchors, cal, e.cfg)
	s.run()
	relax(topo, cal, s, e.cfg)

	for _, num := range topo.SortedNums() {
		node := topo.Nodes[num]
		if node.HasCoord() {
			continue
		}
		pos, ok := s.pos[num]
		if !ok {
			continue
		}
		lat, lon := proj.ToGeo(*pos)
		if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
			continue
		}
		node.SetCoord(lat, lon)
		node.Estimated = true
	}

	return sortedNodes(topo)
}

func sortedNodes(topo *Topology) []Node {
	out := make([]Node, 0, len(topo.Nodes))
	for _, n := range topo.Nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}
