package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kwv/tracemesh/mesh"
)

// App wires the running service together: the snapshot store fed by MQTT,
// the estimator refreshed on a timer, and the tracker serving HTTP requests.
type App struct {
	Config    *mesh.Config
	Store     *mesh.Store
	Estimator *mesh.Estimator
	Tracker   *mesh.SnapshotTracker
	Metrics   *mesh.Collector
	MQTT      *mesh.MQTTClient
	Publisher *mesh.Publisher
}

func newApp(configFile, dbPath string) (*App, error) {
	config, err := mesh.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", configFile, err)
	}
	if dbPath == "" {
		dbPath = config.Storage.Path
	}
	store, err := mesh.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", dbPath, err)
	}

	metrics, err := mesh.NewCollector(nil)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	return &App{
		Config:    config,
		Store:     store,
		Estimator: mesh.NewEstimator(mesh.DefaultEstimatorConfig()),
		Tracker:   mesh.NewSnapshotTracker(),
		Metrics:   metrics,
	}, nil
}

// refresh runs one estimation pass over the current snapshot and publishes
// the result to the tracker, the metrics, and (if configured) MQTT.
func (a *App) refresh() {
	start := time.Now()
	nodes, traces, err := a.Store.Snapshot(a.Config.SnapshotTraceLimit())
	if err != nil {
		log.Printf("Error loading snapshot: %v", err)
		return
	}

	estimated := a.Estimator.Estimate(nodes, traces)
	edges := mesh.NetworkEdges(estimated, traces)
	a.Tracker.Update(estimated, edges)
	a.Metrics.RecordEstimation(estimated, edges, time.Since(start))

	var placed int
	for i := range estimated {
		if estimated[i].Estimated {
			placed++
		}
	}
	log.Printf("Estimation pass: %d nodes, %d edges, %d positions synthesized (%.2fs)",
		len(estimated), len(edges), placed, time.Since(start).Seconds())

	if a.Publisher != nil {
		if err := a.Publisher.PublishEstimates(estimated); err != nil {
			log.Printf("Error publishing estimates: %v", err)
		}
	}
}

// handleEnvelope stores one decoded MQTT message. Unknown envelope types are
// counted and skipped.
func (a *App) handleEnvelope(topic string, env *mesh.Envelope, err error) {
	if err != nil {
		log.Printf("Ignoring malformed message on %s: %v", topic, err)
		return
	}
	a.Metrics.RecordIngest(env.Type)

	if node, ok, err := mesh.NodeFromEnvelope(env); err != nil {
		log.Printf("Ignoring %s from %d: %v", env.Type, env.From, err)
		return
	} else if ok {
		if err := a.Store.UpsertNode(node); err != nil {
			log.Printf("Error storing node %d: %v", node.Num, err)
		}
		return
	}

	if tr, ok, err := mesh.TraceFromEnvelope(env); err != nil {
		log.Printf("Ignoring traceroute from %d: %v", env.From, err)
	} else if ok {
		if err := a.Store.AddTraceroute(tr); err != nil {
			log.Printf("Error storing traceroute from %d: %v", env.From, err)
		}
	}
}

func (a *App) prune() {
	retention := a.Config.Storage.RetentionHours
	if retention <= 0 {
		return
	}
	removed, err := a.Store.PruneTraceroutes(retention)
	if err != nil {
		log.Printf("Error pruning traceroutes: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Pruned %d traceroutes older than %dh", removed, retention)
	}
}

// RunOnce loads the snapshot, runs a single estimation pass, and writes the
// result as GeoJSON to outputFile ("-" for stdout).
func RunOnce(configFile, dbPath, outputFile string) {
	app, err := newApp(configFile, dbPath)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer app.Store.Close()

	app.refresh()
	if !app.Tracker.HasResult() {
		log.Fatalf("Estimation produced no result")
	}

	fc := mesh.BuildFeatureCollection(app.Tracker.Nodes(), app.Tracker.Edges())
	data, err := fc.MarshalJSON()
	if err != nil {
		log.Fatalf("Failed to encode GeoJSON: %v", err)
	}

	if outputFile == "" || outputFile == "-" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		log.Fatalf("Failed to write %s: %v", outputFile, err)
	}
	log.Printf("Wrote %s", outputFile)
}

// RunService runs the full service: MQTT ingest, periodic estimation, and
// the HTTP endpoints. Blocks until SIGINT or SIGTERM.
func RunService(configFile, dbPath string, httpPort int, enableMQTT, enableHTTP bool) {
	app, err := newApp(configFile, dbPath)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer app.Store.Close()

	if enableMQTT {
		client, err := mesh.InitMQTT(app.Config, app.handleEnvelope)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		if client != nil {
			app.MQTT = client
			app.Publisher = mesh.NewPublisher(client.GetClient(), app.Config)
			log.Printf("MQTT ingest enabled")
		} else {
			log.Printf("MQTT not configured, running from stored data only")
		}
	}

	if enableHTTP {
		server := newHTTPServer(app.Tracker, app.Metrics)
		go func() {
			addr := fmt.Sprintf(":%d", httpPort)
			log.Printf("HTTP server starting on %s", addr)
			log.Printf("Endpoints: /health /api/nodes /api/map.geojson /network.png /network.svg /metrics")
			if err := http.ListenAndServe(addr, server); err != nil {
				log.Fatalf("HTTP server failed: %v", err)
			}
		}()
	}

	app.refresh()
	app.prune()

	refreshTicker := time.NewTicker(time.Duration(app.Config.RefreshInterval()) * time.Second)
	defer refreshTicker.Stop()
	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-refreshTicker.C:
			app.refresh()
		case <-pruneTicker.C:
			app.prune()
		case <-sigChan:
			log.Printf("Shutting down")
			if app.MQTT != nil {
				app.MQTT.Disconnect()
			}
			return
		}
	}
}
