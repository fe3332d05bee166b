// Package tlv implements the binary Type-Length-Value protocol spoken by
// local things.
//
// # Frame layout
//
//	byte 0    : type   (0=Invalid 1=PubAck 2=SubAck 3=UnsubAck 4=Pub 5=Sub 6=Unsub)
//	byte 1    : total frame length in bytes (2 + len(value)), at most 255
//	byte 2..N : value
//
// The length byte is authoritative when encoding. When decoding a frame that
// has already been delimited (a BLE characteristic read, or a frame pulled off
// a stream by ReadFrame) the value is taken from the slice itself.
//
// # Request text
//
// Pub, Sub and Unsub frames carry UTF-8 text:
//
//	[<topic>]<qos-digit>{<key1>:<value1>;<key2>:<value2>;...}
//
// The brace content of a Pub frame becomes a JSON object whose values are all
// strings. Acknowledgement frames carry raw bytes: the publish payload for
// PubAck and the topic for SubAck/UnsubAck.
//
// # Errors
//
// Nothing in this package panics on malformed input. Decode failures return
// ErrDecodeFailure, acknowledgement frames given to DecodeRequest return
// ErrNoRequest, and values that do not fit the one-byte length field return
// ErrPayloadTooLarge.
package tlv
