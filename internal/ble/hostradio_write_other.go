//go:build !darwin && !windows

package ble

import (
	"log/slog"

	"tinygo.org/x/bluetooth"
)

// writeAcknowledged falls back to a write without response: BlueZ support in
// tinygo does not expose acknowledged writes.
func writeAcknowledged(ch *bluetooth.DeviceCharacteristic, data []byte) error {
	slog.Debug("[BLE] acknowledged write unavailable, writing without response")
	_, err := ch.WriteWithoutResponse(data)
	return err
}
