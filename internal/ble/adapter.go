// Package ble implements a single-service, single-characteristic BLE GATT
// link between a Peripheral and a Central. Both roles are state machines fed
// by an ordered event stream from a radio stack; the radio itself sits
// behind the PeripheralRadio and CentralRadio interfaces.
package ble

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/chaz8081/beeplink/internal/ble/adv"
)

// Beeplink GATT identity. Both ends must agree on these exactly.
var (
	ServiceUUID        = adv.UUID16(0x93AF)
	CharacteristicUUID = adv.UUID16(0x5404)
)

// CharFlags are GATT characteristic capabilities.
type CharFlags uint16

const (
	FlagBroadcast       CharFlags = 0x0001
	FlagRead            CharFlags = 0x0002
	FlagWriteNoResponse CharFlags = 0x0004
	FlagWrite           CharFlags = 0x0008
	FlagNotify          CharFlags = 0x0010
	FlagIndicate        CharFlags = 0x0020

	// CharacteristicFlags are the capabilities of the link characteristic.
	CharacteristicFlags = FlagWrite | FlagWriteNoResponse | FlagRead | FlagNotify | FlagIndicate
)

// MinCharacteristicBuffer is the smallest write buffer a Peripheral sets on
// the link characteristic once a central connects.
const MinCharacteristicBuffer = 64

// AddrType is the BLE address type of a remote device.
type AddrType uint8

const (
	AddrPublic AddrType = 0
	AddrRandom AddrType = 1
)

// Address is a remote device address as reported by the radio.
type Address struct {
	Type AddrType
	MAC  [6]byte
}

// ParseAddress parses "AA:BB:CC:DD:EE:FF" as a public address.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return Address{}, fmt.Errorf("ble: invalid address %q", s)
	}
	var a Address
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return Address{}, fmt.Errorf("ble: invalid address %q", s)
		}
		a.MAC[i] = b[0]
	}
	return a, nil
}

func (a Address) String() string {
	m := a.MAC
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// Device is a peripheral found by a scan.
type Device struct {
	Address Address
	Name    string
	RSSI    int
}

// CharacteristicDefinition describes one characteristic to register.
type CharacteristicDefinition struct {
	UUID  adv.UUID
	Flags CharFlags
}

// ServiceDefinition describes one GATT service to register.
type ServiceDefinition struct {
	UUID            adv.UUID
	Characteristics []CharacteristicDefinition
}

// LinkService is the service every Peripheral registers.
var LinkService = ServiceDefinition{
	UUID: ServiceUUID,
	Characteristics: []CharacteristicDefinition{
		{UUID: CharacteristicUUID, Flags: CharacteristicFlags},
	},
}

// ScanParams controls a timed scan.
type ScanParams struct {
	Duration time.Duration
	Interval time.Duration
	Window   time.Duration
}

// DefaultScanParams is a 30 second scan with a symmetric 30ms window and interval.
func DefaultScanParams() ScanParams {
	return ScanParams{
		Duration: 30 * time.Second,
		Interval: 30 * time.Millisecond,
		Window:   30 * time.Millisecond,
	}
}

// EventHandler receives radio events. A radio calls it from a single
// goroutine, in the order the events occurred.
type EventHandler func(Event)

// PeripheralRadio is the GATT server side of a radio stack.
//
// Commands must return without delivering events synchronously; results
// arrive later through the registered EventHandler.
type PeripheralRadio interface {
	// SetEventHandler registers the single event handler.
	SetEventHandler(h EventHandler)
	// Advertise starts (or restarts) connectable advertising.
	Advertise(interval time.Duration, payload []byte) error
	// RegisterService adds svc to the GATT table and returns one value
	// handle per characteristic, in definition order.
	RegisterService(svc ServiceDefinition) ([]uint16, error)
	// GattsRead returns the locally stored attribute value.
	GattsRead(attr uint16) ([]byte, error)
	// GattsWrite replaces the locally stored attribute value.
	GattsWrite(attr uint16, value []byte) error
	// GattsSetBuffer sets the maximum value size accepted for attr.
	GattsSetBuffer(attr uint16, size int) error
	// GattsNotify pushes the stored value of attr to conn without acknowledgement.
	GattsNotify(conn, attr uint16) error
	// GattsIndicate pushes the stored value of attr to conn and requests an
	// acknowledgement, reported by an IndicateDone event.
	GattsIndicate(conn, attr uint16) error
}

// CentralRadio is the GATT client side of a radio stack.
//
// Commands must return without delivering events synchronously. Every scan
// started with GapScan produces exactly one ScanDone event.
type CentralRadio interface {
	SetEventHandler(h EventHandler)
	GapScan(p ScanParams) error
	GapStopScan() error
	GapConnect(addr Address) error
	GapDisconnect(conn uint16) error
	GattcDiscoverServices(conn uint16) error
	GattcDiscoverCharacteristics(conn, start, end uint16) error
	GattcRead(conn, valueHandle uint16) error
	GattcWrite(conn, valueHandle uint16, data []byte, withResponse bool) error
}
