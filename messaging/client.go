package messaging

import (
	"errors"
	"fmt"
	"sync"

	"linetrack/config"
)

// ErrNotConnected is returned by Publish and Subscribe before Connect
// succeeds or after Close.
var ErrNotConnected = errors.New("messaging: not connected")

// broker is one concrete wire: paho for MQTT, kafka-go for Kafka.
type broker interface {
	connect() error
	publish(topic string, payload []byte) error
	subscribe(topic string, fn func([]byte)) error
	connected() bool
	close()
}

// Client carries sync traffic over MQTT or Kafka. Both sides of the link
// treat each payload as superseding the previous one, so delivery is at
// most once.
type Client struct {
	mu   sync.RWMutex
	kind string
	b    broker
	up   bool
}

// NewClient prepares a client for kind "mqtt" or "kafka". nodeID names the
// MQTT session and the Kafka consumer group suffix unless the config pins
// an MQTT client id.
func NewClient(kind string, cfg *config.MessagingConfig, nodeID string) *Client {
	c := &Client{kind: kind}
	switch kind {
	case "mqtt":
		id := nodeID
		if cfg.MQTT.ClientID != "" {
			id = cfg.MQTT.ClientID
		}
		c.b = &mqttBroker{addr: fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Broker, cfg.MQTT.Port), clientID: id}
	case "kafka":
		c.b = newKafkaBroker(cfg.Kafka.Brokers, cfg.Kafka.GroupID+"-"+nodeID)
	}
	return c
}

func (c *Client) Backend() string { return c.kind }

func (c *Client) Connect() error {
	if c.b == nil {
		return fmt.Errorf("unknown messaging backend: %s", c.kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.b.connect(); err != nil {
		return err
	}
	c.up = true
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.up {
		return ErrNotConnected
	}
	return c.b.publish(topic, payload)
}

// Subscribe delivers each message on topic to fn on a broker goroutine.
func (c *Client) Subscribe(topic string, fn func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.up {
		return ErrNotConnected
	}
	return c.b.subscribe(topic, fn)
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.up && c.b.connected()
}

// Close releases the broker connection. The client cannot be reconnected.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.up {
		c.b.close()
		c.up = false
	}
}
