package mesh

import (
	"math"
	"reflect"
	"testing"
)

func nodeByNum(t *testing.T, nodes []Node, num uint32) *Node {
	t.Helper()
	for i := range nodes {
		if nodes[i].Num == num {
			return &nodes[i]
		}
	}
	t.Fatalf("node %d missing from result", num)
	return nil
}

// ---------------------------------------------------------------------------
// Basic guarantees
// ---------------------------------------------------------------------------

func TestEstimateLeavesAnchorsUntouched(t *testing.T) {
	nodes := []Node{
		{Num: 1, Lat: ptr(0.0), Lon: ptr(0.0)},
		{Num: 2},
		{Num: 3, Lat: ptr(0.0), Lon: ptr(0.02)},
	}
	traces := []Trace{{TowardsNums: NodeNumList{1, 2, 3}}}

	out := EstimatePositions(nodes, traces)

	for _, num := range []uint32{1, 3} {
		n := nodeByNum(t, out, num)
		if n.Estimated {
			t.Errorf("anchor %d marked estimated", num)
		}
	}
	a1 := nodeByNum(t, out, 1)
	if *a1.Lat != 0.0 || *a1.Lon != 0.0 {
		t.Errorf("anchor 1 moved to (%v, %v)", *a1.Lat, *a1.Lon)
	}
	a3 := nodeByNum(t, out, 3)
	if *a3.Lat != 0.0 || *a3.Lon != 0.02 {
		t.Errorf("anchor 3 moved to (%v, %v)", *a3.Lat, *a3.Lon)
	}
}

func TestEstimateWithoutAnchors(t *testing.T) {
	nodes := []Node{{Num: 1}, {Num: 2}}
	traces := []Trace{{TowardsNums: NodeNumList{1, 2}}}

	out := EstimatePositions(nodes, traces)
	if len(out) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(out))
	}
	for _, n := range out {
		if n.Lat != nil || n.Lon != nil || n.Estimated {
			t.Errorf("node %d got a position with no anchors in the network", n.Num)
		}
	}
}

func TestEstimateUnreachableComponentStaysUnplaced(t *testing.T) {
	nodes := []Node{
		{Num: 1, Lat: ptr(0.0), Lon: ptr(0.0)},
		{Num: 2, Lat: ptr(0.0), Lon: ptr(0.02)},
		{Num: 10},
		{Num: 20},
		{Num: 30},
	}
	traces := []Trace{
		{TowardsNums: NodeNumList{1, 10, 2}},
		{TowardsNums: NodeNumList{20, 30}}, // island with no anchor
	}

	out := EstimatePositions(nodes, traces)

	if n := nodeByNum(t, out, 10); !n.Estimated {
		t.Error("reachable node 10 should have been estimated")
	}
	for _, num := range []uint32{20, 30} {
		n := nodeByNum(t, out, num)
		if n.Lat != nil || n.Lon != nil || n.Estimated {
			t.Errorf("island node %d received a position", num)
		}
	}
}

func TestEstimateEmptyInputs(t *testing.T) {
	if out := EstimatePositions(nil, nil); len(out) != 0 {
		t.Errorf("empty inputs produced %d nodes", len(out))
	}
}

// Nodes known only from a traceroute still come out, named from the low
// bits of the number, and get positions like any other node.
func TestEstimateSynthesizesTraceOnlyNodes(t *testing.T) {
	nodes := []Node{
		{Num: 1, Lat: ptr(0.0), Lon: ptr(0.0)},
		{Num: 2, Lat: ptr(0.0), Lon: ptr(0.02)},
	}
	traces := []Trace{{TowardsNums: NodeNumList{1, 99, 100, 2}}}

	out := EstimatePositions(nodes, traces)
	if len(out) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(out))
	}
	n99 := nodeByNum(t, out, 99)
	if !n99.TraceOnly {
		t.Error("node 99 should be trace-only")
	}
	if n99.ShortName != "0063" || n99.LongName != "Unknown 0063" {
		t.Errorf("node 99 named %q / %q", n99.ShortName, n99.LongName)
	}
	if !n99.Estimated || n99.Lat == nil {
		t.Error("node 99 sits between two anchors and should be estimated")
	}
}

// A network of only trace-only nodes and no anchors must pass through
// without positions and without failing.
func TestEstimateGracefulWithoutNodeList(t *testing.T) {
	out := EstimatePositions(nil, []Trace{{TowardsNums: NodeNumList{99, 100}}})
	if len(out) != 2 {
		t.Fatalf("expected 2 synthesized nodes, got %d", len(out))
	}
	for _, n := range out {
		if !n.TraceOnly {
			t.Errorf("node %d should be trace-only", n.Num)
		}
		if n.Lat != nil || n.Lon != nil || n.Estimated {
			t.Errorf("node %d has a position despite no anchors", n.Num)
		}
	}
}

// ---------------------------------------------------------------------------
// Placement quality
// ---------------------------------------------------------------------------

// A node relayed between two anchors on the equator must land between
// them, near the line.
func TestEstimateTwoAnchorInterpolation(t *testing.T) {
	nodes := []Node{
		{Num: 1, Lat: ptr(0.0), Lon: ptr(0.0)},
		{Num: 2},
		{Num: 3, Lat: ptr(0.0), Lon: ptr(0.02)},
	}
	traces := []Trace{{TowardsNums: NodeNumList{1, 2, 3}}}

	out := EstimatePositions(nodes, traces)
	mid := nodeByNum(t, out, 2)

	if !mid.Estimated || mid.Lat == nil || mid.Lon == nil {
		t.Fatal("middle node was not estimated")
	}
	if *mid.Lon <= 0.0 || *mid.Lon >= 0.02 {
		t.Errorf("middle node lon = %v, want strictly between the anchors", *mid.Lon)
	}
	if *mid.Lon < 0.005 || *mid.Lon > 0.015 {
		t.Errorf("middle node lon = %v, want near the midpoint 0.01", *mid.Lon)
	}
	if math.Abs(*mid.Lat) > 0.002 {
		t.Errorf("middle node lat = %v, want near the anchor line", *mid.Lat)
	}
}

// With four anchors around it, the center of a cross lands close to the
// true center via multilateration.
func TestEstimateMultilateration(t *testing.T) {
	nodes := []Node{
		{Num: 1, Lat: ptr(0.01), Lon: ptr(0.0)},
		{Num: 2, Lat: ptr(-0.01), Lon: ptr(0.0)},
		{Num: 3, Lat: ptr(0.0), Lon: ptr(0.01)},
		{Num: 4, Lat: ptr(0.0), Lon: ptr(-0.01)},
		{Num: 5},
	}
	traces := []Trace{
		{TowardsNums: NodeNumList{1, 5, 2}},
		{TowardsNums: NodeNumList{3, 5, 4}},
	}

	out := EstimatePositions(nodes, traces)
	center := nodeByNum(t, out, 5)
	if !center.Estimated {
		t.Fatal("center node was not estimated")
	}
	if math.Abs(*center.Lat) > 0.004 || math.Abs(*center.Lon) > 0.004 {
		t.Errorf("center node at (%v, %v), want near (0, 0)", *center.Lat, *center.Lon)
	}
}

// Weak SNR inflates path cost, so a relay with one strong and one weak
// link must land closer to the anchor behind the strong link.
func TestEstimateSNRShiftsPlacement(t *testing.T) {
	build := func(snrToFirst, snrToSecond float64) float64 {
		nodes := []Node{
			{Num: 1, Lat: ptr(0.0), Lon: ptr(0.0)},
			{Num: 2},
			{Num: 3, Lat: ptr(0.0), Lon: ptr(0.02)},
		}
		traces := []Trace{{
			TowardsNums: NodeNumList{1, 2, 3},
			TowardsSNR:  SNRList{snrToFirst, snrToSecond},
		}}
		out := EstimatePositions(nodes, traces)
		mid := nodeByNum(t, out, 2)
		if !mid.Estimated {
			t.Fatal("middle node was not estimated")
		}
		return *mid.Lon
	}

	strongFirst := build(12.0, -20.0)
	strongSecond := build(-20.0, 12.0)

	if strongFirst >= 0.01 {
		t.Errorf("strong link to the west anchor, but lon = %v", strongFirst)
	}
	if strongSecond <= 0.01 {
		t.Errorf("strong link to the east anchor, but lon = %v", strongSecond)
	}
	if strongFirst >= strongSecond {
		t.Errorf("placements did not follow link quality: %v vs %v",
			strongFirst, strongSecond)
	}
}

// ---------------------------------------------------------------------------
// Determinism
// ---------------------------------------------------------------------------

func TestEstimateDeterministic(t *testing.T) {
	// A messy network: several anchors, relays at different constraint
	// counts, an SNR mix, and trace-only nodes.
	nodes := []Node{
		{Num: 10, Lat: ptr(52.00), Lon: ptr(5.00)},
		{Num: 20, Lat: ptr(52.02), Lon: ptr(5.00)},
		{Num: 30, Lat: ptr(52.01), Lon: ptr(5.03)},
		{Num: 40},
		{Num: 50},
	}
	traces := []Trace{
		{TowardsNums: NodeNumList{10, 40, 20}, TowardsSNR: SNRList{3.5, -2.0}},
		{TowardsNums: NodeNumList{30, 40}, TowardsSNR: SNRList{6.0}},
		{TowardsNums: NodeNumList{20, 50, 77}, BackNums: NodeNumList{77, 50, 20}},
		{TowardsNums: NodeNumList{10, 30}},
	}

	first := EstimatePositions(nodes, traces)
	second := EstimatePositions(nodes, traces)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("two runs over identical input disagree:\n%+v\n%+v", first, second)
	}

	// Output order is ascending node number.
	for i := 1; i < len(first); i++ {
		if first[i-1].Num >= first[i].Num {
			t.Errorf("output not sorted at index %d: %d >= %d",
				i, first[i-1].Num, first[i].Num)
		}
	}

	// Every estimated coordinate is finite and in range.
	for _, n := range first {
		if n.Lat == nil {
			continue
		}
		if math.IsNaN(*n.Lat) || math.IsNaN(*n.Lon) ||
			*n.Lat < -90 || *n.Lat > 90 || *n.Lon < -180 || *n.Lon > 180 {
			t.Errorf("node %d at invalid coordinate (%v, %v)", n.Num, *n.Lat, *n.Lon)
		}
	}
}

func TestEstimateDoesNotMutateInputs(t *testing.T) {
	nodes := []Node{
		{Num: 1, Lat: ptr(0.0), Lon: ptr(0.0)},
		{Num: 2},
		{Num: 3, Lat: ptr(0.0), Lon: ptr(0.02)},
	}
	traces := []Trace{{TowardsNums: NodeNumList{1, 2, 3}}}

	_ = EstimatePositions(nodes, traces)

	if nodes[1].Lat != nil || nodes[1].Estimated {
		t.Error("input slice was mutated")
	}
}
