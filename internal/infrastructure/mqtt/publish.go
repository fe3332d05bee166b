package mqtt

import (
	"context"
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message and waits for it to complete.
//
// At QoS 1 the call returns only after the broker's PUBACK, so a nil error
// means delivery was confirmed. At QoS 0 it returns once the message has
// been written.
//
// Returns ErrNotConnected without touching the network when the session is
// down.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}

	if err := waitToken(ctx, client.Publish(topic, qos, retained, payload), defaultPublishTimeout); err != nil {
		if isTimeout(err) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(ctx context.Context, topic string, payload []byte) error {
	return c.Publish(ctx, topic, payload, byte(c.cfg.QoS), true) //nolint:gosec // QoS validated by config
}
