//go:build !linux

package transport

import "context"

// dialGATT is only implemented on Linux (BlueZ).
func dialGATT(_ context.Context, _ BLEConfig) (gattConn, error) {
	return nil, ErrUnsupported
}
