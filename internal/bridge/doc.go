// Package bridge connects each thing's device link to its MQTT session.
//
// A Bridge owns one thing. Frames from the device are decoded into
// envelopes and published; messages arriving on the thing's subscriptions
// are encoded and sent down to the device; completed requests are
// acknowledged back to the device with PubAck, SubAck or UnsubAck frames.
//
// The MQTT session follows the device link. When the device becomes
// Connected the bridge opens the session (client ID = thing ID); when the
// device goes away the session is closed and its subscriptions end.
//
// # Link state
//
// Both links are tracked by a linkstate.Tracker. Every transition is
// published to the Events publisher in the order it was applied. An
// operation that needs a link which is not Connected fails with
// ErrNotConnected without touching either transport.
//
// # Failure handling
//
// Transport errors are wrapped in ErrTransportFailure, logged and returned.
// Nothing is retried or queued. If the device link drops while an operation
// is in flight, the acknowledgement for it is discarded.
//
// # Usage
//
//	b, err := bridge.New(bridge.Options{
//	    ThingID: "esp32",
//	    Device:  device,
//	    MQTT:    session,
//	    Events:  notifier,
//	    Logger:  logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    logger.Warn("device link not up yet", "error", err)
//	}
//	defer b.Stop()
package bridge
