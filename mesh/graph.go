package mesh

import (
	"fmt"
	"math"
	"sort"
)

// EdgeStats accumulates observations of one undirected link between two
// nodes. Count grows with every hop observation; the SNR sum/count pair
// tracks the mean link quality across observations that reported one.
type EdgeStats struct {
	Count    int
	SNRSum   float64
	SNRCount int
}

// MeanSNR returns the mean observed SNR in dB, or NaN if no observation
// carried a reading.
func (e *EdgeStats) MeanSNR() float64 {
	if e == nil || e.SNRCount <= 0 {
		return math.NaN()
	}
	return e.SNRSum / float64(e.SNRCount)
}

func (e *EdgeStats) observe(snrDB float64) {
	e.Count++
	if !math.IsNaN(snrDB) {
		e.SNRSum += snrDB
		e.SNRCount++
	}
}

// Topology is the working graph derived from one (nodes, traces) snapshot:
// a node map that includes synthetic trace-only nodes, and a symmetric
// adjacency of edge statistics.
type Topology struct {
	Nodes map[uint32]*Node
	Adj   map[uint32]map[uint32]*EdgeStats
}

// BuildTopology derives a Topology from the node list and trace list.
// Nodes appearing only inside traces are registered as synthetic
// trace-only nodes. It never fails; malformed entries are dropped.
func BuildTopology(nodes []Node, traces []Trace) *Topology {
	t := &Topology{
		Nodes: make(map[uint32]*Node, len(nodes)),
		Adj:   make(map[uint32]map[uint32]*EdgeStats),
	}

	for i := range nodes {
		n := nodes[i] // copy; inputs are never mutated
		n.Estimated = false
		if !n.HasCoord() {
			n.Lat = nil
			n.Lon = nil
		}
		t.Nodes[n.Num] = &n
	}

	for i := range traces {
		t.addRoute(traces[i].TowardsNums, traces[i].TowardsSNR)
		t.addRoute(traces[i].BackNums, traces[i].BackSNR)
	}

	return t
}

func (t *Topology) addRoute(route NodeNumList, snr SNRList) {
	for _, raw := range route {
		t.ensureTraceNode(raw)
	}
	if len(route) < 2 {
		return
	}
	for i := 0; i+1 < len(route); i++ {
		t.addEdge(route[i], route[i+1], edgeSNRAt(route, snr, i))
	}
}

// edgeSNRAt returns the SNR reading for the hop between route positions i
// and i+1. When the SNR array matches the route length, entry i+1 belongs
// to that hop (the first entry describes the hop into the origin); when it
// is one shorter, entry i does. Any other shape means no reading.
func edgeSNRAt(route NodeNumList, snr SNRList, i int) float64 {
	switch len(snr) {
	case len(route):
		if i+1 < len(snr) {
			return snr[i+1]
		}
		return snr[i]
	case len(route) - 1:
		return snr[i]
	default:
		return math.NaN()
	}
}

// ensureTraceNode registers a synthetic node for a route entry that has no
// node-list record, with a display name derived from the low 16 bits of
// the node number.
func (t *Topology) ensureTraceNode(raw int64) {
	if raw == InvalidNodeNum {
		return
	}
	num := uint32(raw)
	if _, ok := t.Nodes[num]; ok {
		return
	}
	short := shortNameFromNum(num)
	t.Nodes[num] = &Node{
		Num:       num,
		LongName:  "Unknown " + short,
		ShortName: short,
		TraceOnly: true,
	}
}

func (t *Topology) addEdge(aRaw, bRaw int64, snrDB float64) {
	if aRaw == InvalidNodeNum || bRaw == InvalidNodeNum || aRaw == bRaw {
		return
	}
	a, b := uint32(aRaw), uint32(bRaw)
	if _, ok := t.Nodes[a]; !ok {
		return
	}
	if _, ok := t.Nodes[b]; !ok {
		return
	}
	t.edgeStats(a, b).observe(snrDB)
	t.edgeStats(b, a).observe(snrDB)
}

func (t *Topology) edgeStats(from, to uint32) *EdgeStats {
	neighbors, ok := t.Adj[from]
	if !ok {
		neighbors = make(map[uint32]*EdgeStats)
		t.Adj[from] = neighbors
	}
	stats, ok := neighbors[to]
	if !ok {
		stats = &EdgeStats{}
		neighbors[to] = stats
	}
	return stats
}

// Anchors returns the nodes with known coordinates, sorted by ascending
// node number.
func (t *Topology) Anchors() []*Node {
	var anchors []*Node
	for _, n := range t.Nodes {
		if n.HasCoord() {
			anchors = append(anchors, n)
		}
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Num < anchors[j].Num })
	return anchors
}

// SortedNums returns all node numbers in ascending order. Every loop whose
// result depends on iteration order walks this slice, keeping the whole
// pipeline deterministic.
func (t *Topology) SortedNums() []uint32 {
	nums := make([]uint32, 0, len(t.Nodes))
	for num := range t.Nodes {
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// NeighborNums returns the neighbor numbers of num in ascending order.
func (t *Topology) NeighborNums(num uint32) []uint32 {
	neighbors := t.Adj[num]
	if len(neighbors) == 0 {
		return nil
	}
	nums := make([]uint32, 0, len(neighbors))
	for n := range neighbors {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// shortNameFromNum derives the fallback display name for a node: the last
// four hex digits of the number as an unsigned 32-bit value.
func shortNameFromNum(num uint32) string {
	return fmt.Sprintf("%08x", num)[4:]
}
