package bridge

import (
	"context"

	"github.com/nerrad567/thingbridge/internal/envelope"
	"github.com/nerrad567/thingbridge/internal/linkstate"
)

// DeviceTransport is the local link to one thing (BLE, socket or simulated).
//
// Implementations deliver received frames through the SetOnFrame callback
// one at a time and in arrival order, and report link transitions through
// SetOnStateChange. Callbacks must be registered before Connect.
type DeviceTransport interface {
	// Connect opens the link. The state moves through Connecting to
	// Connected, or back to Disconnected on failure.
	Connect(ctx context.Context) error

	// Disconnect closes the link. Safe to call more than once.
	Disconnect() error

	// Send writes one encoded TLV frame to the device.
	Send(ctx context.Context, frame []byte) error

	// SetOnFrame registers the callback for frames received from the device.
	SetOnFrame(callback func(frame []byte))

	// SetOnStateChange registers the callback for link transitions.
	SetOnStateChange(callback func(linkstate.State))

	// State returns the current link state.
	State() linkstate.State
}

// MQTTTransport is a thing's broker session.
type MQTTTransport interface {
	// Connect opens the session.
	Connect(ctx context.Context) error

	// Disconnect closes the session. Safe to call more than once.
	Disconnect() error

	// Publish sends payload to topic. For AtLeastOnce it returns only after
	// the broker acknowledged delivery.
	Publish(ctx context.Context, topic string, qos envelope.QoS, payload []byte) error

	// Subscribe registers onMessage for messages arriving on topic.
	Subscribe(ctx context.Context, topic string, qos envelope.QoS, onMessage func(topic string, payload []byte)) error

	// Unsubscribe removes the subscription for topic.
	Unsubscribe(ctx context.Context, topic string) error

	// SetOnStateChange registers the callback for session transitions.
	SetOnStateChange(callback func(linkstate.State))
}

// ReadinessSetter is implemented by device transports that only emit frames
// while the bridge can forward them (the simulated thing).
type ReadinessSetter interface {
	SetReady(ready func() bool)
}

// Direction of a frame relative to the gateway.
const (
	DirectionUplink   = "uplink"
	DirectionDownlink = "downlink"
)

// TrafficRecorder receives one sample per frame moved by a bridge.
// Implementations must not block; *influxdb.Client satisfies it.
type TrafficRecorder interface {
	RecordFrame(thingID, direction, frameType string, size int)
}

// Logger is the logging surface used by the bridge.
// Compatible with *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
