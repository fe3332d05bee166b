package tlv

import (
	"fmt"
)

// Type is the frame type tag. The ordinal values are the wire values and
// must never be reordered.
type Type byte

const (
	TypeInvalid  Type = 0
	TypePubAck   Type = 1
	TypeSubAck   Type = 2
	TypeUnsubAck Type = 3
	TypePub      Type = 4
	TypeSub      Type = 5
	TypeUnsub    Type = 6
)

// Frame size constraints.
const (
	// HeaderSize is the type byte plus the length byte.
	HeaderSize = 2

	// MaxFrameSize is the largest length the length byte can express.
	MaxFrameSize = 255

	// MaxValueSize is the largest value that fits in a frame.
	MaxValueSize = MaxFrameSize - HeaderSize
)

var typeNames = [...]string{
	TypeInvalid:  "invalid",
	TypePubAck:   "puback",
	TypeSubAck:   "suback",
	TypeUnsubAck: "unsuback",
	TypePub:      "pub",
	TypeSub:      "sub",
	TypeUnsub:    "unsub",
}

// String returns the lowercase type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// Valid reports whether t is a known, non-Invalid type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t <= TypeUnsub
}

// IsRequest reports whether frames of this type carry a request text.
func (t Type) IsRequest() bool {
	return t == TypePub || t == TypeSub || t == TypeUnsub
}

// IsAck reports whether t is an acknowledgement type.
func (t Type) IsAck() bool {
	return t == TypePubAck || t == TypeSubAck || t == TypeUnsubAck
}

// Frame is one decoded TLV record.
type Frame struct {
	Type  Type
	Value []byte
}

// Len returns the total encoded length of the frame.
func (f Frame) Len() int {
	return HeaderSize + len(f.Value)
}

// Encode serialises the frame.
func (f Frame) Encode() ([]byte, error) {
	return Encode(f.Type, f.Value)
}

// Encode builds a frame of the given type around value.
//
// Values longer than MaxValueSize are rejected with ErrPayloadTooLarge rather
// than letting the length byte wrap.
func Encode(t Type, value []byte) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, t)
	}
	if len(value) > MaxValueSize {
		return nil, fmt.Errorf("%w: value is %d bytes, max %d", ErrPayloadTooLarge, len(value), MaxValueSize)
	}

	buf := make([]byte, HeaderSize+len(value))
	buf[0] = byte(t)
	buf[1] = byte(HeaderSize + len(value)) //nolint:gosec // bounded by MaxFrameSize above
	copy(buf[HeaderSize:], value)
	return buf, nil
}

// LengthMismatch reports the length byte of data when it disagrees with
// len(data). ok is false for frames too short to carry a length byte.
func LengthMismatch(data []byte) (declared int, ok bool) {
	if len(data) < HeaderSize || int(data[1]) == len(data) {
		return 0, false
	}
	return int(data[1]), true
}

// Decode parses a delimited frame.
//
// On failure the returned Frame has Type TypeInvalid and the error wraps
// ErrDecodeFailure. The value is a copy of data[2:]; the length byte is not
// consulted because the slice boundaries are authoritative. Callers that
// want to report a disagreeing length byte use LengthMismatch.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{Type: TypeInvalid}, fmt.Errorf("%w: frame too short (%d bytes)", ErrDecodeFailure, len(data))
	}

	t := Type(data[0])
	if !t.Valid() {
		return Frame{Type: TypeInvalid}, fmt.Errorf("%w: unknown type byte 0x%02x", ErrDecodeFailure, data[0])
	}

	value := make([]byte, len(data)-HeaderSize)
	copy(value, data[HeaderSize:])
	return Frame{Type: t, Value: value}, nil
}
