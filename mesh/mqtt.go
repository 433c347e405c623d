package mesh

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// EnvelopeHandler is called for every decoded mesh message.
// Parameters: topic, envelope, decode error (envelope is nil on error).
type EnvelopeHandler func(topic string, env *Envelope, err error)

// MQTTClient manages the broker connection and the JSON topic subscription.
type MQTTClient struct {
	client      mqtt.Client
	topicRoot   string
	handler     EnvelopeHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT initializes the MQTT client from the configuration. Environment
// variables override the file: MQTT_BROKER, MQTT_CLIENT_ID, MQTT_USERNAME,
// MQTT_PASSWORD, MQTT_TOPIC_ROOT. If no broker is configured, MQTT is
// disabled and this returns nil.
func InitMQTT(config *Config, handler EnvelopeHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		log.Println("MQTT disabled: no broker configured")
		return nil, nil
	}

	topicRoot := os.Getenv("MQTT_TOPIC_ROOT")
	if topicRoot == "" && config != nil {
		topicRoot = config.MQTT.TopicRoot
	}
	if topicRoot == "" {
		return nil, fmt.Errorf("MQTT enabled but no topic root configured")
	}

	client := &MQTTClient{
		topicRoot: topicRoot,
		handler:   handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config != nil && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "tracemesh"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config != nil && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config != nil && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // preserve subscriptions on reconnect
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()
	return client, nil
}

// connectWithRetry attempts to connect to the broker with exponential backoff.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	filter := subscriptionFilter(c.topicRoot)
	log.Printf("MQTT connected, subscribing to %s", filter)

	token := client.Subscribe(filter, 0, c.handleMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to %s: %v", filter, token.Error())
	} else {
		log.Printf("Successfully subscribed to %s", filter)
	}
}

// subscriptionFilter turns the configured topic root into a wildcard
// filter: "msh/EU_868/2/json" becomes "msh/EU_868/2/json/#".
func subscriptionFilter(topicRoot string) string {
	root := strings.TrimSuffix(topicRoot, "/")
	if strings.HasSuffix(root, "#") {
		return root
	}
	return root + "/#"
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

func (c *MQTTClient) handleMessage(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()

	env, err := DecodeEnvelope(payload)
	if err != nil {
		// Non-JSON topics (stat, raw protobuf) share the tree; not an event
		// worth logging per message.
		if c.handler != nil {
			c.handler(msg.Topic(), nil, err)
		}
		return
	}
	if c.handler != nil {
		c.handler(msg.Topic(), env, nil)
	}
}

// IsConnected returns true if the client currently holds a connection.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// GetClient returns the underlying MQTT client for publishing.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// Disconnect gracefully closes the MQTT connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client,
// used in tests with mock clients.
func newMQTTClientWithMock(client mqtt.Client, topicRoot string, handler EnvelopeHandler) *MQTTClient {
	return &MQTTClient{
		client:    client,
		topicRoot: topicRoot,
		handler:   handler,
	}
}
