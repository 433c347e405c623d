package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher pushes estimation results back to the broker so other map
// consumers can pick up synthesized positions.
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	retain bool
}

// NewPublisher creates a result publisher. If client is nil, publishing is
// disabled (for testing and store-only runs). The topic comes from
// MQTT_PUBLISH_TOPIC, then the configuration, then a default.
func NewPublisher(client mqtt.Client, config *Config) *Publisher {
	topic := os.Getenv("MQTT_PUBLISH_TOPIC")
	if topic == "" && config != nil && config.MQTT.PublishTopic != "" {
		topic = config.MQTT.PublishTopic
	}
	if topic == "" {
		topic = "tracemesh/positions"
	}

	return &Publisher{
		client: client,
		topic:  topic,
		qos:    0,    // fire and forget; the next refresh supersedes it anyway
		retain: true, // late subscribers get the latest estimate
	}
}

// estimateMessage is the wire form of one published estimation pass.
type estimateMessage struct {
	Nodes     []Node `json:"nodes"`
	Estimated int    `json:"estimated_count"`
	Timestamp int64  `json:"timestamp"`
}

// PublishEstimates publishes the nodes that carry an estimated position.
func (p *Publisher) PublishEstimates(nodes []Node) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	estimated := make([]Node, 0)
	for _, n := range nodes {
		if n.Estimated {
			estimated = append(estimated, n)
		}
	}
	if len(estimated) == 0 {
		return nil
	}

	payload, err := json.Marshal(estimateMessage{
		Nodes:     estimated,
		Estimated: len(estimated),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling estimates: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, token.Error())
	}

	log.Printf("Published %d estimated positions to %s", len(estimated), p.topic)
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
