package tlv

import (
	"fmt"
	"io"
)

// ReadFrame reads one frame from a byte stream using the length byte as the
// delimiter. The returned slice is the complete frame, header included.
//
// A length byte below HeaderSize cannot be resynchronised and is reported as
// ErrDecodeFailure; the caller should drop the connection.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	total := int(header[1])
	if total < HeaderSize {
		return nil, fmt.Errorf("%w: length byte %d below header size", ErrDecodeFailure, total)
	}

	frame := make([]byte, total)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}
