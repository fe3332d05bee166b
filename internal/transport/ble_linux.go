//go:build linux

package transport

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

var (
	adapter       = bluetooth.DefaultAdapter
	adapterOnce   sync.Once
	errAdapterOff error
)

// enableAdapter powers up the default adapter once per process.
func enableAdapter() error {
	adapterOnce.Do(func() {
		errAdapterOff = adapter.Enable()
	})
	return errAdapterOff
}

// gattCharacteristic adapts a discovered characteristic and its device to
// gattConn.
type gattCharacteristic struct {
	read       func([]byte) (int, error)
	write      func([]byte) (int, error)
	disconnect func() error
}

func (g *gattCharacteristic) Read(buf []byte) (int, error) { return g.read(buf) }
func (g *gattCharacteristic) Write(p []byte) (int, error)  { return g.write(p) }
func (g *gattCharacteristic) Disconnect() error            { return g.disconnect() }

// newGATTCharacteristic binds char and its device to gattConn. BlueZ only
// exposes write-without-response on a characteristic, so frames go out that
// way.
func newGATTCharacteristic(char bluetooth.DeviceCharacteristic, device bluetooth.Device) *gattCharacteristic {
	return &gattCharacteristic{
		read:       char.Read,
		write:      char.WriteWithoutResponse,
		disconnect: device.Disconnect,
	}
}

// dialGATT connects to cfg.Address through BlueZ and discovers the frame
// characteristic. The adapter connect call cannot be cancelled; if ctx ends
// first the late connection is closed when it arrives.
func dialGATT(ctx context.Context, cfg BLEConfig) (gattConn, error) {
	if err := enableAdapter(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	mac, err := bluetooth.ParseMAC(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", cfg.Address, err)
	}
	serviceUUID, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("parse service uuid: %w", err)
	}
	charUUID, err := bluetooth.ParseUUID(cfg.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic uuid: %w", err)
	}

	type result struct {
		conn gattConn
		err  error
	}
	done := make(chan result, 1)

	go func() {
		device, err := adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, bluetooth.ConnectionParams{})
		if err != nil {
			done <- result{err: fmt.Errorf("connect: %w", err)}
			return
		}

		services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
		if err != nil || len(services) == 0 {
			device.Disconnect() //nolint:errcheck // already failing
			done <- result{err: fmt.Errorf("discover service %s: %w", cfg.ServiceUUID, errOrMissing(err))}
			return
		}

		chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
		if err != nil || len(chars) == 0 {
			device.Disconnect() //nolint:errcheck // already failing
			done <- result{err: fmt.Errorf("discover characteristic %s: %w", cfg.CharacteristicUUID, errOrMissing(err))}
			return
		}

		done <- result{conn: newGATTCharacteristic(chars[0], device)}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Disconnect() //nolint:errcheck // abandoned connection
			}
		}()
		return nil, ctx.Err()
	}
}

func errOrMissing(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("not found")
}
