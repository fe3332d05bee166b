// Package transport implements the device links a thing can use.
//
//   - Simulated: the built-in "dummy" thing, emitting a fixed reading
//   - Socket: a TCP or unix-socket peer speaking TLV frames
//   - BLE: a Bluetooth LE peripheral exposing one frame characteristic
//
// Every transport satisfies bridge.DeviceTransport. Received frames are
// delivered one at a time in arrival order; state transitions are reported
// in the order they happen. Callbacks must not call back into the
// transport's Connect or Disconnect.
//
// # Usage
//
//	device, err := transport.New(thingCfg, logger)
//	if err != nil {
//	    return err
//	}
//	b, err := bridge.New(bridge.Options{ThingID: thingCfg.ID, Device: device, ...})
package transport
