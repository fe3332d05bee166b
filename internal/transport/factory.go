package transport

import (
	"fmt"
	"time"

	"github.com/nerrad567/thingbridge/internal/bridge"
	"github.com/nerrad567/thingbridge/internal/infrastructure/config"
)

// Compile-time interface checks.
var (
	_ bridge.DeviceTransport = (*Simulated)(nil)
	_ bridge.DeviceTransport = (*Socket)(nil)
	_ bridge.DeviceTransport = (*BLE)(nil)
	_ bridge.ReadinessSetter = (*Simulated)(nil)
)

// New builds the device transport for a configured thing. logger may be nil.
func New(cfg config.ThingConfig, logger Logger) (bridge.DeviceTransport, error) {
	switch cfg.Transport {
	case config.TransportSimulated:
		t, err := NewSimulated(SimulatedConfig{
			Interval: time.Duration(cfg.Simulated.Interval) * time.Millisecond,
			Topic:    cfg.Simulated.Topic,
			Body:     cfg.Simulated.Body,
		})
		if err != nil {
			return nil, fmt.Errorf("thing %s: %w", cfg.ID, err)
		}
		t.SetLogger(logger)
		return t, nil

	case config.TransportSocket:
		t, err := NewSocket(SocketConfig{
			Address:              cfg.Address,
			ConnectTimeout:       time.Duration(cfg.Socket.ConnectTimeout) * time.Second,
			ReconnectInterval:    time.Duration(cfg.Socket.ReconnectInitial) * time.Second,
			MaxReconnectInterval: time.Duration(cfg.Socket.ReconnectMax) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("thing %s: %w", cfg.ID, err)
		}
		t.SetLogger(logger)
		return t, nil

	case config.TransportBLE:
		t, err := NewBLE(BLEConfig{
			Address:            cfg.Address,
			ServiceUUID:        cfg.BLE.ServiceUUID,
			CharacteristicUUID: cfg.BLE.CharacteristicUUID,
			PollInterval:       time.Duration(cfg.BLE.PollInterval) * time.Millisecond,
			MTU:                cfg.BLE.MTU,
		})
		if err != nil {
			return nil, fmt.Errorf("thing %s: %w", cfg.ID, err)
		}
		t.SetLogger(logger)
		return t, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}
