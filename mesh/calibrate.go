package mesh

import (
	"math"
	"sort"
	"strconv"

	"github.com/katalvlaran/lvlath/bfs"
	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dijkstra"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// costMilliScale converts float edge-cost units to the integer weights the
// graph library traverses. Costs live in [0.7, 2.4], so milli-units keep
// quantization error well below the calibration noise floor.
const costMilliScale = 1000.0

// snrQuality maps a mean SNR in dB to a [0,1] link quality. The [-20,12]
// window covers the usable LoRa SNR range.
func snrQuality(db float64) (float64, bool) {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return 0, false
	}
	clamped := math.Max(-20.0, math.Min(12.0, db))
	return (clamped + 20.0) / 32.0, true
}

// edgeCostUnits is the unitless traversal cost of an edge: baseline 1.0,
// scaled up for weak links and down for strong ones. A weak link tends to
// mean a longer or more obstructed physical hop.
func edgeCostUnits(e *EdgeStats) float64 {
	quality, ok := snrQuality(e.MeanSNR())
	if !ok {
		return 1.0
	}
	mult := 0.85 + (1.0-quality)*1.25
	return math.Max(0.7, math.Min(2.4, mult))
}

// edgeSpringWeight is the relaxation weight of an edge: repeated
// observations and good SNR make a link more trustworthy, capped so a
// single chatty link cannot dominate the refinement.
func edgeSpringWeight(e *EdgeStats) float64 {
	snrFactor := 0.85
	if quality, ok := snrQuality(e.MeanSNR()); ok {
		snrFactor = 0.55 + 0.75*quality
	}
	return math.Min(3.2, math.Sqrt(math.Max(1.0, float64(e.Count)))*snrFactor)
}

// median returns the median of the finite entries, or NaN if none remain.
// Cost-to-distance ratios are occasionally wildly wrong (bad SNR reports,
// asymmetric routing), so calibration uses the median, not the mean.
func median(values []float64) float64 {
	items := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			items = append(items, v)
		}
	}
	if len(items) == 0 {
		return math.NaN()
	}
	sort.Float64s(items)
	mid := len(items) / 2
	if len(items)%2 == 1 {
		return items[mid]
	}
	return (items[mid-1] + items[mid]) / 2.0
}

func vertexID(num uint32) string {
	return strconv.FormatUint(uint64(num), 10)
}

func numFromVertex(id string) (uint32, bool) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Calibration converts graph-theoretic cost into physical meters. It holds
// the per-anchor shortest-path tables and the global and per-anchor
// meters-per-cost-unit scales derived from anchor-to-anchor paths.
type Calibration struct {
	// HopsByAnchor[a][n] is the BFS hop distance from anchor a to node n.
	HopsByAnchor map[uint32]map[uint32]int
	// CostByAnchor[a][n] is the Dijkstra cost from anchor a to node n in
	// edge-cost units.
	CostByAnchor map[uint32]map[uint32]float64
	// AnchorPos is each anchor's position in the local plane.
	AnchorPos map[uint32]Point

	GlobalMetersPerUnit float64

	perAnchor map[uint32]float64
}

// Calibrate runs the bounded shortest-path searches from every anchor and
// derives the meters-per-unit scales. It never fails; with no usable
// anchor pair the global scale falls back to cfg.DefaultMetersPerUnit.
func Calibrate(topo *Topology, anchors []*Node, proj *Projector, cfg EstimatorConfig) *Calibration {
	cal := &Calibration{
		HopsByAnchor:        make(map[uint32]map[uint32]int, len(anchors)),
		CostByAnchor:        make(map[uint32]map[uint32]float64, len(anchors)),
		AnchorPos:           make(map[uint32]Point, len(anchors)),
		GlobalMetersPerUnit: cfg.DefaultMetersPerUnit,
		perAnchor:           make(map[uint32]float64),
	}

	costGraph, hopGraph := buildSearchGraphs(topo)
	maxCost := cfg.maxSearchCost()

	for _, anchor := range anchors {
		cal.AnchorPos[anchor.Num] = proj.ToLocal(*anchor.Lat, *anchor.Lon)
		cal.HopsByAnchor[anchor.Num] = hopDistances(hopGraph, anchor.Num, cfg.MaxSearchHops)
		cal.CostByAnchor[anchor.Num] = costDistances(costGraph, anchor.Num, maxCost)
	}

	cal.estimateScales(anchors, cfg)
	return cal
}

// buildSearchGraphs materializes the topology as two graphs for the search
// library: a weighted one carrying milli-unit edge costs for Dijkstra and
// an unweighted twin for BFS.
func buildSearchGraphs(topo *Topology) (costGraph, hopGraph *core.Graph) {
	costGraph = core.NewGraph(core.WithWeighted())
	hopGraph = core.NewGraph()

	nums := topo.SortedNums()
	for _, num := range nums {
		id := vertexID(num)
		_ = costGraph.AddVertex(id)
		_ = hopGraph.AddVertex(id)
	}
	for _, u := range nums {
		for _, v := range topo.NeighborNums(u) {
			if u >= v {
				continue
			}
			weight := int64(math.Round(edgeCostUnits(topo.Adj[u][v]) * costMilliScale))
			_, _ = costGraph.AddEdge(vertexID(u), vertexID(v), weight)
			_, _ = hopGraph.AddEdge(vertexID(u), vertexID(v), 0)
		}
	}
	return costGraph, hopGraph
}

func hopDistances(g *core.Graph, start uint32, maxHops int) map[uint32]int {
	hops := make(map[uint32]int)
	res, err := bfs.BFS(g, vertexID(start), bfs.WithMaxDepth(maxHops))
	if err != nil {
		return hops
	}
	for id, depth := range res.Depth {
		if num, ok := numFromVertex(id); ok {
			hops[num] = depth
		}
	}
	return hops
}

func costDistances(g *core.Graph, start uint32, maxCost float64) map[uint32]float64 {
	costs := make(map[uint32]float64)
	dist, _, err := dijkstra.Dijkstra(g,
		dijkstra.Source(vertexID(start)),
		dijkstra.WithMaxDistance(int64(math.Ceil(maxCost*costMilliScale))),
	)
	if err != nil {
		return costs
	}
	for id, milli := range dist {
		if milli == math.MaxInt64 {
			continue
		}
		units := float64(milli) / costMilliScale
		if units > maxCost {
			continue
		}
		if num, ok := numFromVertex(id); ok {
			costs[num] = units
		}
	}
	return costs
}

// estimateScales collects real-distance/path-cost ratios over all usable
// anchor pairs and derives the global and per-anchor scales.
func (cal *Calibration) estimateScales(anchors []*Node, cfg EstimatorConfig) {
	var globalRatios []float64
	perAnchorRatios := make(map[uint32][]float64)

	for i, a := range anchors {
		hopsA := cal.HopsByAnchor[a.Num]
		costsA := cal.CostByAnchor[a.Num]
		for _, b := range anchors[i+1:] {
			hop, ok := hopsA[b.Num]
			if !ok || hop <= 0 || hop > cfg.MaxCalibrationHops {
				continue
			}
			cost, ok := costsA[b.Num]
			if !ok || cost <= 0 {
				continue
			}
			meters := geo.DistanceHaversine(
				orb.Point{*a.Lon, *a.Lat},
				orb.Point{*b.Lon, *b.Lat},
			)
			if math.IsNaN(meters) || meters <= 0 {
				continue
			}
			ratio := meters / cost
			if math.IsNaN(ratio) || ratio < cfg.MinUnitMeters || ratio > cfg.MaxUnitMeters {
				continue
			}
			globalRatios = append(globalRatios, ratio)
			perAnchorRatios[a.Num] = append(perAnchorRatios[a.Num], ratio)
			perAnchorRatios[b.Num] = append(perAnchorRatios[b.Num], ratio)
		}
	}

	global := median(globalRatios)
	if math.IsNaN(global) || global <= 0 {
		global = cfg.DefaultMetersPerUnit
	}
	cal.GlobalMetersPerUnit = global

	for _, anchor := range anchors {
		ratios := perAnchorRatios[anchor.Num]
		if len(ratios) < cfg.MinAnchorRatios {
			continue
		}
		med := median(ratios)
		if math.IsNaN(med) || med <= 0 {
			continue
		}
		cal.perAnchor[anchor.Num] = cfg.LocalScaleBlend*med + (1.0-cfg.LocalScaleBlend)*global
	}
}

// MetersPerUnit returns the calibrated scale for the given anchor, falling
// back to the global scale when the anchor had too few usable pairs.
func (cal *Calibration) MetersPerUnit(anchorNum uint32) float64 {
	if local, ok := cal.perAnchor[anchorNum]; ok && local > 0 {
		return local
	}
	return cal.GlobalMetersPerUnit
}
