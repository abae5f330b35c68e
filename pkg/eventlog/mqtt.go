package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (

	// DefaultTopic denotes the MQTT topic occupancy events are published to
	DefaultTopic = "perchscale/events"

	mqttClientID       = "perchscale"
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// Payload denotes the MQTT message payload of a record
type Payload struct {
	Timestamp string   `json:"timestamp"`
	MassGrams float64  `json:"mass_grams"`
	Kind      string   `json:"kind"`
	Health    *float64 `json:"health_level,omitempty"`
	DeviceID  string   `json:"device_id,omitempty"`
}

// FormatPayload creates the JSON payload for a record
func FormatPayload(rec Record, deviceID string) ([]byte, error) {
	return json.Marshal(Payload{
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
		MassGrams: rec.Mass,
		Kind:      rec.Kind.String(),
		Health:    rec.Health,
		DeviceID:  deviceID,
	})
}

// MQTTSink publishes every record to an MQTT broker
type MQTTSink struct {
	publish  func(payload []byte) error
	close    func()
	deviceID string
}

// DialMQTT connects to the given broker and returns a sink publishing to topic
func DialMQTT(broker, topic, deviceID string) (*MQTTSink, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(mqttClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connection to broker `%s` timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker `%s`: %w", broker, err)
	}

	return NewMQTTSink(client, topic, deviceID), nil
}

// NewMQTTSink instantiates a sink on top of an existing client
func NewMQTTSink(client paho.Client, topic, deviceID string) *MQTTSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTSink{
		publish: func(payload []byte) error {

			// QoS 1 (at-least-once), not retained
			token := client.Publish(topic, 1, false, payload)
			if !token.WaitTimeout(mqttPublishTimeout) {
				return fmt.Errorf("publish timeout")
			}
			return token.Error()
		},
		close: func() {
			client.Disconnect(1000)
		},
		deviceID: deviceID,
	}
}

// Record publishes the record
func (s *MQTTSink) Record(rec Record) error {
	payload, err := FormatPayload(rec, s.deviceID)
	if err != nil {
		return fmt.Errorf("failed to format payload: %w", err)
	}
	if err := s.publish(payload); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Flush is a no-op, every record is published synchronously
func (s *MQTTSink) Flush() error {
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
