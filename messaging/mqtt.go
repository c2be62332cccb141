package messaging

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttConnectWait = 10 * time.Second
	mqttPublishWait = 2 * time.Second
	mqttRetryEvery  = 5 * time.Second
)

type mqttBroker struct {
	addr     string
	clientID string
	conn     mqtt.Client
}

func (m *mqttBroker) connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.addr).
		SetClientID(m.clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(mqttRetryEvery).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("messaging: lost %s: %v", m.addr, err)
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			log.Printf("messaging: reconnecting to %s", m.addr)
		})

	conn := mqtt.NewClient(opts)
	tok := conn.Connect()
	if !tok.WaitTimeout(mqttConnectWait) {
		return fmt.Errorf("mqtt connect %s: timed out after %s", m.addr, mqttConnectWait)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", m.addr, err)
	}
	m.conn = conn
	log.Printf("messaging: mqtt %s as %s", m.addr, m.clientID)
	return nil
}

// publish uses QoS 0 without retain. A stale retained report would look
// alive to a station that starts later.
func (m *mqttBroker) publish(topic string, payload []byte) error {
	if !m.connected() {
		return ErrNotConnected
	}
	tok := m.conn.Publish(topic, 0, false, payload)
	if !tok.WaitTimeout(mqttPublishWait) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return tok.Error()
}

func (m *mqttBroker) subscribe(topic string, fn func([]byte)) error {
	tok := m.conn.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Payload())
	})
	if !tok.WaitTimeout(mqttConnectWait) {
		return fmt.Errorf("mqtt subscribe %s: timed out", topic)
	}
	return tok.Error()
}

func (m *mqttBroker) connected() bool {
	return m.conn != nil && m.conn.IsConnected()
}

func (m *mqttBroker) close() {
	if m.conn != nil {
		m.conn.Disconnect(250)
		m.conn = nil
	}
}
