package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/kwv/tracemesh/mesh"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(tracker *mesh.SnapshotTracker, metrics *mesh.Collector) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasResult bool      `json:"hasResult"`
			UpdatedAt time.Time `json:"updatedAt,omitempty"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasResult: tracker.HasResult(),
			UpdatedAt: tracker.UpdatedAt(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Full node list, estimated positions included
	mux.HandleFunc("/api/nodes", func(w http.ResponseWriter, r *http.Request) {
		if !tracker.HasResult() {
			http.Error(w, "No estimation result available yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		response := struct {
			Nodes     []mesh.Node     `json:"nodes"`
			Edges     []mesh.EdgeLine `json:"edges"`
			UpdatedAt time.Time       `json:"updatedAt"`
		}{
			Nodes:     tracker.Nodes(),
			Edges:     tracker.Edges(),
			UpdatedAt: tracker.UpdatedAt(),
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.Printf("Error encoding node list: %v", err)
		}
	})

	// GeoJSON for map frontends
	mux.HandleFunc("/api/map.geojson", func(w http.ResponseWriter, r *http.Request) {
		if !tracker.HasResult() {
			http.Error(w, "No estimation result available yet", http.StatusServiceUnavailable)
			return
		}
		fc := mesh.BuildFeatureCollection(tracker.Nodes(), tracker.Edges())
		data, err := fc.MarshalJSON()
		if err != nil {
			log.Printf("Error encoding GeoJSON: %v", err)
			http.Error(w, "Encoding error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing GeoJSON response: %v", err)
		}
	})

	// Rendered network overview
	mux.HandleFunc("/network.png", func(w http.ResponseWriter, r *http.Request) {
		if !tracker.HasResult() {
			http.Error(w, "No estimation result available yet", http.StatusServiceUnavailable)
			return
		}
		renderer := mesh.NewNetworkRenderer()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w, tracker.Nodes(), tracker.Edges()); err != nil {
			log.Printf("Error rendering network PNG: %v", err)
		}
	})

	mux.HandleFunc("/network.svg", func(w http.ResponseWriter, r *http.Request) {
		if !tracker.HasResult() {
			http.Error(w, "No estimation result available yet", http.StatusServiceUnavailable)
			return
		}
		renderer := mesh.NewNetworkRenderer()
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w, tracker.Nodes(), tracker.Edges()); err != nil {
			log.Printf("Error rendering network SVG: %v", err)
		}
	})

	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	return mux
}
