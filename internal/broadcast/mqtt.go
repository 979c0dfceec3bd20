package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/callwatch/callwatch/internal/database/models"
)

// MQTTSink publishes state changes to an MQTT broker. Publish failures are
// logged and dropped; the broker client reconnects on its own.
type MQTTSink struct {
	client      mqtt.Client
	topicPrefix string
	qos         byte
}

// MQTTOptions configures the MQTT sink.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// NewMQTTSink creates and connects an MQTT-backed Sink.
func NewMQTTSink(opts MQTTOptions) (*MQTTSink, error) {
	if opts.ClientID == "" {
		opts.ClientID = "callwatch-" + uuid.NewString()[:8]
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "callwatch"
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return &MQTTSink{
		client:      client,
		topicPrefix: opts.TopicPrefix,
		qos:         opts.QoS,
	}, nil
}

// CallUpdated publishes a call state change to <prefix>/calls/<linkedid>.
func (s *MQTTSink) CallUpdated(call *models.Call) {
	env := Envelope{
		ID:        uuid.NewString(),
		Kind:      "call",
		Timestamp: time.Now().UTC(),
		Call:      NewCallUpdate(call),
	}
	s.publish(s.topicPrefix+"/calls/"+call.LinkedID, env)
}

// ExtensionStatusUpdated publishes an extension change to
// <prefix>/extensions/<number>.
func (s *MQTTSink) ExtensionStatusUpdated(ext *models.Extension) {
	env := Envelope{
		ID:        uuid.NewString(),
		Kind:      "extension",
		Timestamp: time.Now().UTC(),
		Extension: NewExtensionUpdate(ext),
	}
	s.publish(s.topicPrefix+"/extensions/"+ext.Number, env)
}

func (s *MQTTSink) publish(topic string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error("broadcast: encoding envelope", "error", err, "topic", topic)
		return
	}
	token := s.client.Publish(topic, s.qos, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			slog.Warn("broadcast: publish failed", "error", err, "topic", topic)
		}
	}()
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(1000)
	return nil
}
