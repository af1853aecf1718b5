package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceNotFound means the peripheral does not expose ServiceUUID.
	ErrServiceNotFound = errors.New("ble: failed to find expected service")
	// ErrCharacteristicNotFound means the service lacks CharacteristicUUID.
	ErrCharacteristicNotFound = errors.New("ble: failed to find expected characteristic")
	// ErrDisconnected means the link dropped before discovery completed.
	ErrDisconnected = errors.New("ble: disconnected")
	// ErrBusy means a connection or connection attempt already exists.
	ErrBusy = errors.New("ble: connection in progress")
	// ErrNoDevice means a scan finished without finding a peripheral.
	ErrNoDevice = errors.New("ble: no matching device found")
)

// DiscoveryStage identifies the discovery step that failed.
type DiscoveryStage string

const (
	StageService        DiscoveryStage = "service"
	StageCharacteristic DiscoveryStage = "characteristic"
)

// DiscoveryError aborts a connection attempt when the peripheral does not
// expose the expected GATT layout.
type DiscoveryError struct {
	Stage DiscoveryStage
	Conn  uint16
	Err   error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("ble: %s discovery on conn %d: %v", e.Stage, e.Conn, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }
