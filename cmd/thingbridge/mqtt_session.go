package main

import (
	"context"

	"github.com/nerrad567/thingbridge/internal/bridge"
	"github.com/nerrad567/thingbridge/internal/envelope"
	"github.com/nerrad567/thingbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/thingbridge/internal/linkstate"
)

var _ bridge.MQTTTransport = (*mqttSession)(nil)

// mqttSession adapts the infrastructure MQTT client to bridge.MQTTTransport.
// The differences are the QoS type, the publish retain flag and the
// subscribe handler signature:
//   - Infrastructure mqtt: func(topic string, payload []byte) error
//   - Bridge expects: func(topic string, payload []byte)
type mqttSession struct {
	client *mqtt.Client
}

func (s *mqttSession) Connect(ctx context.Context) error {
	return s.client.Connect(ctx)
}

func (s *mqttSession) Disconnect() error {
	return s.client.Disconnect()
}

// Publish implements bridge.MQTTTransport. Thing messages are never retained.
func (s *mqttSession) Publish(ctx context.Context, topic string, qos envelope.QoS, payload []byte) error {
	return s.client.Publish(ctx, topic, payload, byte(qos), false)
}

// Subscribe implements bridge.MQTTTransport.
func (s *mqttSession) Subscribe(ctx context.Context, topic string, qos envelope.QoS, onMessage func(topic string, payload []byte)) error {
	return s.client.Subscribe(ctx, topic, byte(qos), func(t string, p []byte) error {
		onMessage(t, p)
		return nil
	})
}

func (s *mqttSession) Unsubscribe(ctx context.Context, topic string) error {
	return s.client.Unsubscribe(ctx, topic)
}

func (s *mqttSession) SetOnStateChange(callback func(linkstate.State)) {
	s.client.SetOnStateChange(callback)
}
