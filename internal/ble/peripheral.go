package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chaz8081/beeplink/internal/ble/adv"
)

// PeripheralState is the advertising/connection state of a Peripheral.
type PeripheralState int

const (
	PeripheralIdle PeripheralState = iota
	PeripheralAdvertising
	PeripheralConnected
)

func (s PeripheralState) String() string {
	switch s {
	case PeripheralIdle:
		return "idle"
	case PeripheralAdvertising:
		return "advertising"
	case PeripheralConnected:
		return "connected"
	}
	return "unknown"
}

// PeripheralOptions configures a Peripheral.
type PeripheralOptions struct {
	Name              string
	AdvertiseInterval time.Duration
	BufferSize        int // write buffer set on connect, at least MinCharacteristicBuffer
}

// DefaultPeripheralOptions returns the options used by the beep test devices.
func DefaultPeripheralOptions() PeripheralOptions {
	return PeripheralOptions{
		Name:              "beeplink",
		AdvertiseInterval: 500 * time.Millisecond,
		BufferSize:        MinCharacteristicBuffer,
	}
}

// Peripheral serves the link characteristic to any number of centrals and
// keeps advertising so a new central can always connect.
type Peripheral struct {
	radio   PeripheralRadio
	opts    PeripheralOptions
	handle  uint16
	payload []byte

	mu          sync.Mutex
	state       PeripheralState
	connections map[uint16]struct{}
	onRead      func() []byte
	onWrite     func([]byte)
}

// NewPeripheral registers the link service, builds the advertising payload
// and starts advertising.
func NewPeripheral(radio PeripheralRadio, opts PeripheralOptions) (*Peripheral, error) {
	def := DefaultPeripheralOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.AdvertiseInterval <= 0 {
		opts.AdvertiseInterval = def.AdvertiseInterval
	}
	if opts.BufferSize < MinCharacteristicBuffer {
		opts.BufferSize = MinCharacteristicBuffer
	}

	p := &Peripheral{
		radio:       radio,
		opts:        opts,
		connections: make(map[uint16]struct{}),
		payload: adv.Encode(adv.Options{
			Name:       opts.Name,
			Services:   []adv.UUID{ServiceUUID},
			Appearance: adv.AppearanceGamepad,
		}),
	}
	radio.SetEventHandler(p.HandleEvent)

	handles, err := radio.RegisterService(LinkService)
	if err != nil {
		return nil, fmt.Errorf("ble: register service: %w", err)
	}
	if len(handles) != 1 {
		return nil, fmt.Errorf("ble: register service: got %d handles, want 1", len(handles))
	}
	p.handle = handles[0]

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.advertise(); err != nil {
		return nil, err
	}
	return p, nil
}

// advertise restarts advertising (caller must hold mu).
func (p *Peripheral) advertise() error {
	if err := p.radio.Advertise(p.opts.AdvertiseInterval, p.payload); err != nil {
		return fmt.Errorf("ble: advertise: %w", err)
	}
	if p.state == PeripheralIdle {
		p.state = PeripheralAdvertising
	}
	return nil
}

// Handle returns the value handle of the link characteristic.
func (p *Peripheral) Handle() uint16 { return p.handle }

// SetReadCallback installs the function that supplies the value served to a
// central's read. It runs on the event path and must not block. nil clears it.
func (p *Peripheral) SetReadCallback(cb func() []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRead = cb
}

// SetWriteCallback installs the function receiving values written by a
// central. It runs on the event path and must not block. nil clears it.
func (p *Peripheral) SetWriteCallback(cb func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWrite = cb
}

// IsConnected reports whether at least one central is connected.
func (p *Peripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections) > 0
}

// State returns the current state.
func (p *Peripheral) State() PeripheralState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connections returns the active connection handles in ascending order.
func (p *Peripheral) Connections() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedConnections()
}

func (p *Peripheral) sortedConnections() []uint16 {
	out := make([]uint16, 0, len(p.connections))
	for h := range p.connections {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Notify stores value and pushes it to every connected central without
// acknowledgement.
func (p *Peripheral) Notify(value []byte) error {
	return p.push(value, p.radio.GattsNotify)
}

// Indicate stores value and pushes it to every connected central, asking
// each to acknowledge.
func (p *Peripheral) Indicate(value []byte) error {
	return p.push(value, p.radio.GattsIndicate)
}

func (p *Peripheral) push(value []byte, send func(conn, attr uint16) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.radio.GattsWrite(p.handle, value); err != nil {
		return fmt.Errorf("ble: store value: %w", err)
	}
	var errs []error
	for _, conn := range p.sortedConnections() {
		if err := send(conn, p.handle); err != nil {
			errs = append(errs, fmt.Errorf("ble: push to conn %d: %w", conn, err))
		}
	}
	return errors.Join(errs...)
}

// HandleEvent is the Peripheral's single event entry point.
func (p *Peripheral) HandleEvent(ev Event) {
	p.mu.Lock()
	var deliver func()

	switch e := ev.(type) {
	case CentralConnect:
		p.connections[e.Conn] = struct{}{}
		p.state = PeripheralConnected
		if err := p.radio.GattsSetBuffer(p.handle, p.opts.BufferSize); err != nil {
			slog.Error("[BLE] failed to enlarge characteristic buffer", "conn", e.Conn, "error", err)
		}
		slog.Info("[BLE] central connected", "conn", e.Conn, "addr", e.Addr)

	case CentralDisconnect:
		delete(p.connections, e.Conn)
		if len(p.connections) == 0 {
			p.state = PeripheralAdvertising
		}
		slog.Info("[BLE] central disconnected", "conn", e.Conn, "addr", e.Addr)
		if err := p.advertise(); err != nil {
			slog.Error("[BLE] failed to resume advertising", "error", err)
		}

	case GattsWrite:
		if e.Attr != p.handle || p.onWrite == nil {
			break
		}
		value, err := p.radio.GattsRead(e.Attr)
		if err != nil {
			slog.Error("[BLE] failed to read written value", "conn", e.Conn, "error", err)
			break
		}
		cb := p.onWrite
		deliver = func() { cb(value) }

	case GattsReadRequest:
		if e.Attr != p.handle || p.onRead == nil {
			break
		}
		// The radio answers the pending read from the attribute store, so the
		// value must be in place before HandleEvent returns.
		cb := p.onRead
		p.mu.Unlock()
		value := cb()
		p.mu.Lock()
		if err := p.radio.GattsWrite(e.Attr, value); err != nil {
			slog.Error("[BLE] failed to serve read", "conn", e.Conn, "error", err)
		}

	case GattsIndicateDone:
		slog.Debug("[BLE] indicate acknowledged", "conn", e.Conn, "status", e.Status)

	default:
		slog.Debug("[BLE] peripheral ignoring event", "kind", ev.Kind())
	}

	p.mu.Unlock()
	if deliver != nil {
		deliver()
	}
}
