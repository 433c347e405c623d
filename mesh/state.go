package mesh

import (
	"sync"
	"time"
)

// EdgeLine is one observed link of the network, summarized for output.
type EdgeLine struct {
	From    uint32  `json:"from"`
	To      uint32  `json:"to"`
	Count   int     `json:"count"`
	MeanSNR float64 `json:"mean_snr_db"` // NaN when no hop carried a reading
}

// NetworkEdges derives the deduplicated link list from one snapshot, each
// undirected link reported once with From < To.
func NetworkEdges(nodes []Node, traces []Trace) []EdgeLine {
	topo := BuildTopology(nodes, traces)

	var edges []EdgeLine
	for _, u := range topo.SortedNums() {
		for _, v := range topo.NeighborNums(u) {
			if u >= v {
				continue
			}
			stats := topo.Adj[u][v]
			edges = append(edges, EdgeLine{
				From:    u,
				To:      v,
				Count:   stats.Count,
				MeanSNR: stats.MeanSNR(),
			})
		}
	}
	return edges
}

// SnapshotTracker holds the latest estimation result for the HTTP
// endpoints, so requests never block on a running refresh.
type SnapshotTracker struct {
	mu        sync.RWMutex
	nodes     []Node
	edges     []EdgeLine
	updatedAt time.Time
}

// NewSnapshotTracker creates an empty tracker.
func NewSnapshotTracker() *SnapshotTracker {
	return &SnapshotTracker{}
}

// Update replaces the tracked result.
func (st *SnapshotTracker) Update(nodes []Node, edges []EdgeLine) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nodes = nodes
	st.edges = edges
	st.updatedAt = time.Now()
}

// Nodes returns a copy of the latest node list.
func (st *SnapshotTracker) Nodes() []Node {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Node, len(st.nodes))
	copy(out, st.nodes)
	return out
}

// Edges returns a copy of the latest link list.
func (st *SnapshotTracker) Edges() []EdgeLine {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]EdgeLine, len(st.edges))
	copy(out, st.edges)
	return out
}

// HasResult reports whether at least one estimation pass has completed.
func (st *SnapshotTracker) HasResult() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return !st.updatedAt.IsZero()
}

// UpdatedAt returns the time of the latest completed pass.
func (st *SnapshotTracker) UpdatedAt() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.updatedAt
}
