package mesh

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of the service: ingest counters
// driven by the MQTT handler and estimation gauges refreshed once per pass.
type Collector struct {
	gatherer prometheus.Gatherer

	MessagesIngested *prometheus.CounterVec
	EstimationRuns   prometheus.Counter
	EstimationTime   prometheus.Histogram

	NodesTotal     prometheus.Gauge
	NodesAnchored  prometheus.Gauge
	NodesEstimated prometheus.Gauge
	NetworkEdges   prometheus.Gauge
}

// NewCollector registers the service metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracemesh_messages_ingested_total",
		Help: "Mesh messages ingested from MQTT, labeled by message type.",
	}, []string{"type"})
	ingested, err := registerCounterVec(reg, ingested, "tracemesh_messages_ingested_total")
	if err != nil {
		return nil, err
	}

	runs, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracemesh_estimation_runs_total",
		Help: "Completed position estimation passes.",
	}), "tracemesh_estimation_runs_total")
	if err != nil {
		return nil, err
	}

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracemesh_estimation_duration_seconds",
		Help:    "Wall time of one estimation pass.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	duration, err = registerHistogram(reg, duration, "tracemesh_estimation_duration_seconds")
	if err != nil {
		return nil, err
	}

	total, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracemesh_nodes_total",
		Help: "Nodes in the latest snapshot, including trace-only nodes.",
	}), "tracemesh_nodes_total")
	if err != nil {
		return nil, err
	}
	anchored, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracemesh_nodes_anchored",
		Help: "Nodes with a reported GPS position in the latest snapshot.",
	}), "tracemesh_nodes_anchored")
	if err != nil {
		return nil, err
	}
	estimated, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracemesh_nodes_estimated",
		Help: "Nodes whose position was synthesized in the latest pass.",
	}), "tracemesh_nodes_estimated")
	if err != nil {
		return nil, err
	}
	edges, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracemesh_network_edges",
		Help: "Distinct links observed in the latest snapshot.",
	}), "tracemesh_network_edges")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		MessagesIngested: ingested,
		EstimationRuns:   runs,
		EstimationTime:   duration,
		NodesTotal:       total,
		NodesAnchored:    anchored,
		NodesEstimated:   estimated,
		NetworkEdges:     edges,
	}, nil
}

// RecordIngest counts one ingested message of the given envelope type.
func (c *Collector) RecordIngest(messageType string) {
	if c == nil || c.MessagesIngested == nil {
		return
	}
	c.MessagesIngested.WithLabelValues(messageType).Inc()
}

// RecordEstimation updates the run counter, duration histogram, and node
// gauges after one completed pass.
func (c *Collector) RecordEstimation(nodes []Node, edges []EdgeLine, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.EstimationRuns.Inc()
	c.EstimationTime.Observe(elapsed.Seconds())

	var anchored, estimated int
	for i := range nodes {
		switch {
		case nodes[i].Estimated:
			estimated++
		case nodes[i].HasCoord():
			anchored++
		}
	}
	c.NodesTotal.Set(float64(len(nodes)))
	c.NodesAnchored.Set(float64(anchored))
	c.NodesEstimated.Set(float64(estimated))
	c.NetworkEdges.Set(float64(len(edges)))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
