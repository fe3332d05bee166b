package bridge

import "errors"

// Domain errors for bridge operations. Check with errors.Is.
var (
	// ErrNotConnected is returned when an operation needs a link that is not
	// Connected. Nothing is sent and nothing is queued.
	ErrNotConnected = errors.New("bridge: link not connected")

	// ErrTransportFailure wraps a failure reported by the device or MQTT
	// transport. The operation is abandoned; retries are the caller's choice.
	ErrTransportFailure = errors.New("bridge: transport failure")

	// ErrUnsupportedRequest is returned for device-initiated subscribe or
	// unsubscribe requests when the bridge is configured to refuse them.
	ErrUnsupportedRequest = errors.New("bridge: unsupported request")

	// ErrRateLimited is returned when a device frame exceeds the thing's
	// uplink rate limit. The frame is dropped.
	ErrRateLimited = errors.New("bridge: uplink rate limit exceeded")

	// ErrLinkDropped is returned when the device link went down while an
	// operation was in flight. Its result is discarded.
	ErrLinkDropped = errors.New("bridge: link dropped during operation")

	// ErrStopped is returned by operations on a stopped bridge.
	ErrStopped = errors.New("bridge: stopped")

	// ErrThingNotFound is returned by the manager for unknown thing IDs.
	ErrThingNotFound = errors.New("bridge: thing not found")

	// ErrDuplicateThing is returned when adding a second bridge with the
	// same thing ID.
	ErrDuplicateThing = errors.New("bridge: duplicate thing")
)
