//go:build linux

package transport

import (
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestNewGATTCharacteristic_BindsAllOperations(t *testing.T) {
	var char bluetooth.DeviceCharacteristic
	var device bluetooth.Device

	g := newGATTCharacteristic(char, device)
	if g.read == nil || g.write == nil || g.disconnect == nil {
		t.Fatalf("gattCharacteristic has unbound operations: %+v", g)
	}

	var _ gattConn = g
}
