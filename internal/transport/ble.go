package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/thingbridge/internal/linkstate"
	"github.com/nerrad567/thingbridge/internal/tlv"
)

// BLE defaults, matching the ESP32 firmware.
const (
	DefaultBLEPollInterval = 5 * time.Second
	DefaultBLEMTU          = 64

	// minBLEMTU leaves room for a frame header and one value byte.
	minBLEMTU = tlv.HeaderSize + 1
)

// BLEConfig configures a Bluetooth LE thing.
type BLEConfig struct {
	// Address is the peripheral's MAC address.
	Address string

	// ServiceUUID and CharacteristicUUID locate the frame characteristic.
	ServiceUUID        string
	CharacteristicUUID string

	// PollInterval between characteristic reads. Default: 5 seconds.
	PollInterval time.Duration

	// MTU is the largest frame that may be written. Default: 64 bytes.
	MTU int
}

// gattConn is the part of a GATT connection the BLE transport uses: one
// characteristic that is read for uplink frames and written for downlink
// frames.
type gattConn interface {
	Read(buf []byte) (int, error)
	Write(p []byte) (int, error)
	Disconnect() error
}

// gattDialer opens a GATT connection and discovers the frame
// characteristic.
type gattDialer func(ctx context.Context, cfg BLEConfig) (gattConn, error)

// BLE is a device link to a Bluetooth LE peripheral. Uplink frames are read
// by polling the characteristic; values shorter than a frame header are
// ignored. Downlink frames are written to the same characteristic.
//
// Thread Safety: All methods are safe for concurrent use.
type BLE struct {
	link

	cfg  BLEConfig
	dial gattDialer

	// lifecycle serialises Connect and Disconnect.
	lifecycle sync.Mutex

	connMu sync.RWMutex
	conn   gattConn

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewBLE creates a disconnected BLE link using the platform's adapter.
func NewBLE(cfg BLEConfig) (*BLE, error) {
	return newBLE(cfg, dialGATT)
}

func newBLE(cfg BLEConfig, dial gattDialer) (*BLE, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("ble address is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultBLEPollInterval
	}
	if cfg.MTU == 0 {
		cfg.MTU = DefaultBLEMTU
	}
	if cfg.MTU < minBLEMTU {
		return nil, fmt.Errorf("ble mtu %d below minimum %d", cfg.MTU, minBLEMTU)
	}
	return &BLE{cfg: cfg, dial: dial}, nil
}

// Connect connects to the peripheral, discovers the frame characteristic
// and starts polling. Calling Connect on an open link is a no-op.
func (b *BLE) Connect(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.stop != nil {
		return nil
	}

	b.setState(linkstate.Connecting)

	conn, err := b.dial(ctx, b.cfg)
	if err != nil {
		b.setState(linkstate.Disconnected)
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, b.cfg.Address, err)
	}

	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()

	b.stop = make(chan struct{})
	b.wg.Add(1)
	go b.pollLoop(b.stop, conn)

	b.setState(linkstate.Connected)
	b.logInfo("ble thing connected", "address", b.cfg.Address)
	return nil
}

// Disconnect stops polling and disconnects from the peripheral.
func (b *BLE) Disconnect() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	var err error
	if b.stop != nil {
		close(b.stop)
		b.wg.Wait()
		b.stop = nil
		err = b.closeConn()
	}

	b.setState(linkstate.Disconnected)
	return err
}

// Send writes one frame to the characteristic. Frames longer than the MTU
// are rejected.
func (b *BLE) Send(ctx context.Context, frame []byte) error {
	if b.State() != linkstate.Connected {
		return ErrNotConnected
	}
	if len(frame) > b.cfg.MTU {
		return fmt.Errorf("%w: %d bytes, mtu %d", ErrFrameTooLarge, len(frame), b.cfg.MTU)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	b.connMu.RLock()
	conn := b.conn
	b.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("%w: gatt write: %w", ErrSendFailed, err)
	}
	return nil
}

// pollLoop reads the characteristic every PollInterval and delivers the
// value as a frame. A failed read ends the link.
func (b *BLE) pollLoop(stop <-chan struct{}, conn gattConn) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	buf := make([]byte, tlv.MaxFrameSize)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		n, err := conn.Read(buf)
		if err != nil {
			b.logError("gatt read failed, dropping link", err, "address", b.cfg.Address)
			go b.dropLink(conn)
			return
		}
		if n < tlv.HeaderSize {
			continue
		}
		b.deliver(append([]byte(nil), buf[:n]...))
	}
}

// dropLink tears the link down after a read failure on failed. It runs on
// its own goroutine because Disconnect waits for the poll loop.
func (b *BLE) dropLink(failed gattConn) {
	b.connMu.RLock()
	current := b.conn
	b.connMu.RUnlock()
	if current != failed {
		return
	}
	if err := b.Disconnect(); err != nil {
		b.logError("ble disconnect failed", err, "address", b.cfg.Address)
	}
}

func (b *BLE) closeConn() error {
	b.connMu.Lock()
	conn := b.conn
	b.conn = nil
	b.connMu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Disconnect()
}
