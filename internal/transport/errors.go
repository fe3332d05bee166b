package transport

import "errors"

// Transport errors. Check with errors.Is.
var (
	// ErrNotConnected is returned by Send when the link is not Connected.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnectFailed is returned when a link cannot be opened.
	ErrConnectFailed = errors.New("transport: connect failed")

	// ErrSendFailed wraps a write that did not reach the device.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrFrameTooLarge is returned when a frame exceeds the link's MTU.
	ErrFrameTooLarge = errors.New("transport: frame exceeds mtu")

	// ErrProtocolDesync is returned when the byte stream can no longer be
	// split into frames. The connection is dropped and re-established.
	ErrProtocolDesync = errors.New("transport: protocol desync")

	// ErrUnsupported is returned when a transport is not available on this
	// platform.
	ErrUnsupported = errors.New("transport: unsupported on this platform")

	// ErrUnknownTransport is returned by New for unknown transport kinds.
	ErrUnknownTransport = errors.New("transport: unknown transport")
)
