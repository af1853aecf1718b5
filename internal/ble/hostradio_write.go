//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// writeAcknowledged writes data and waits for the peer's response.
func writeAcknowledged(ch *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := ch.Write(data)
	return err
}
