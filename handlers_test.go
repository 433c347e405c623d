package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kwv/tracemesh/mesh"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func coord(lat, lon float64) (*float64, *float64) {
	return &lat, &lon
}

// populatedTracker returns a tracker holding a two-node network with one
// link, enough for every endpoint to produce real output.
func populatedTracker() *mesh.SnapshotTracker {
	lat1, lon1 := coord(52.0, 4.0)
	lat2, lon2 := coord(52.001, 4.001)
	nodes := []mesh.Node{
		{Num: 1, ShortName: "AAAA", Lat: lat1, Lon: lon1},
		{Num: 2, ShortName: "BBBB", Lat: lat2, Lon: lon2, Estimated: true},
	}
	edges := []mesh.EdgeLine{{From: 1, To: 2, Count: 3, MeanSNR: -4.5}}

	st := mesh.NewSnapshotTracker()
	st.Update(nodes, edges)
	return st
}

func testCollector(t *testing.T) *mesh.Collector {
	t.Helper()
	collector, err := mesh.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return collector
}

func doRequest(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// /health
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	handler := newHTTPServer(mesh.NewSnapshotTracker(), testCollector(t))
	rec := doRequest(t, handler, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status struct {
		Status    string `json:"status"`
		HasResult bool   `json:"hasResult"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("expected status ok, got %q", status.Status)
	}
	if status.HasResult {
		t.Error("empty tracker should report hasResult=false")
	}
}

func TestHealthEndpointWithResult(t *testing.T) {
	handler := newHTTPServer(populatedTracker(), testCollector(t))
	rec := doRequest(t, handler, "/health")

	var status struct {
		HasResult bool `json:"hasResult"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if !status.HasResult {
		t.Error("populated tracker should report hasResult=true")
	}
}

// ---------------------------------------------------------------------------
// /api/nodes
// ---------------------------------------------------------------------------

func TestNodesEndpoint(t *testing.T) {
	handler := newHTTPServer(populatedTracker(), testCollector(t))
	rec := doRequest(t, handler, "/api/nodes")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	var response struct {
		Nodes []mesh.Node     `json:"nodes"`
		Edges []mesh.EdgeLine `json:"edges"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding nodes response: %v", err)
	}
	if len(response.Nodes) != 2 {
		t.Errorf("expected 2 nodes, got %d", len(response.Nodes))
	}
	if len(response.Edges) != 1 {
		t.Errorf("expected 1 edge, got %d", len(response.Edges))
	}
}

func TestNodesEndpointBeforeFirstPass(t *testing.T) {
	handler := newHTTPServer(mesh.NewSnapshotTracker(), testCollector(t))
	rec := doRequest(t, handler, "/api/nodes")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before the first pass, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// /api/map.geojson
// ---------------------------------------------------------------------------

func TestGeoJSONEndpoint(t *testing.T) {
	handler := newHTTPServer(populatedTracker(), testCollector(t))
	rec := doRequest(t, handler, "/api/map.geojson")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected application/geo+json, got %q", ct)
	}
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("decoding GeoJSON: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected FeatureCollection, got %q", fc.Type)
	}
	// two node points plus one link line
	if len(fc.Features) != 3 {
		t.Errorf("expected 3 features, got %d", len(fc.Features))
	}
}

func TestGeoJSONEndpointBeforeFirstPass(t *testing.T) {
	handler := newHTTPServer(mesh.NewSnapshotTracker(), testCollector(t))
	rec := doRequest(t, handler, "/api/map.geojson")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before the first pass, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// rendered views
// ---------------------------------------------------------------------------

func TestNetworkPNGEndpoint(t *testing.T) {
	handler := newHTTPServer(populatedTracker(), testCollector(t))
	rec := doRequest(t, handler, "/network.png")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	pngMagic := []byte{0x89, 0x50, 0x4E, 0x47}
	if !bytes.HasPrefix(rec.Body.Bytes(), pngMagic) {
		t.Error("response does not start with the PNG signature")
	}
}

func TestNetworkSVGEndpoint(t *testing.T) {
	handler := newHTTPServer(populatedTracker(), testCollector(t))
	rec := doRequest(t, handler, "/network.svg")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("expected image/svg+xml, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<svg") {
		t.Error("response does not contain an <svg> element")
	}
}

func TestRenderEndpointsBeforeFirstPass(t *testing.T) {
	handler := newHTTPServer(mesh.NewSnapshotTracker(), testCollector(t))
	for _, path := range []string{"/network.png", "/network.svg"} {
		rec := doRequest(t, handler, path)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503 before the first pass, got %d", path, rec.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// /metrics
// ---------------------------------------------------------------------------

func TestMetricsEndpoint(t *testing.T) {
	collector := testCollector(t)
	collector.RecordIngest("nodeinfo")

	handler := newHTTPServer(populatedTracker(), collector)
	rec := doRequest(t, handler, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tracemesh_messages_ingested_total") {
		t.Error("metrics output does not contain the ingest counter")
	}
}
