package tlv

import "errors"

// Codec errors. Check with errors.Is.
var (
	// ErrDecodeFailure is returned for truncated, malformed or unknown frames.
	// Callers drop the frame and do not forward anything.
	ErrDecodeFailure = errors.New("tlv: decode failure")

	// ErrNoRequest is returned by DecodeRequest for frame types that never
	// carry a request (acknowledgements and Invalid).
	ErrNoRequest = errors.New("tlv: frame carries no request")

	// ErrPayloadTooLarge is returned when a value does not fit the
	// single-byte length field.
	ErrPayloadTooLarge = errors.New("tlv: payload too large")

	// ErrInvalidType is returned when encoding a frame with the Invalid type
	// or a type byte outside the known range.
	ErrInvalidType = errors.New("tlv: invalid frame type")
)
