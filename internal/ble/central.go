package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/beeplink/internal/ble/adv"
)

// CentralState is the connection pipeline state of a Central.
type CentralState int

const (
	StateIdle CentralState = iota
	StateScanning
	StateConnecting
	StateDiscoveringService
	StateDiscoveringCharacteristic
	StateReady
)

func (s CentralState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringService:
		return "discovering-service"
	case StateDiscoveringCharacteristic:
		return "discovering-characteristic"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// ScanCallback receives the outcome of a scan: the first matching
// peripheral, or nil when none was found.
type ScanCallback func(dev *Device)

// ConnectCallback receives the outcome of a connection attempt: nil once
// discovery has completed, a *DiscoveryError when the peripheral lacks the
// link service or characteristic, or ErrDisconnected when the link dropped
// first.
type ConnectCallback func(err error)

// CentralOptions configures a Central.
type CentralOptions struct {
	Scan ScanParams
}

// DefaultCentralOptions returns the default scan timing.
func DefaultCentralOptions() CentralOptions {
	return CentralOptions{Scan: DefaultScanParams()}
}

// Central finds one Peripheral advertising ServiceUUID, connects to it,
// discovers the link characteristic and then reads, writes and receives
// notifications on it.
type Central struct {
	radio CentralRadio
	opts  CentralOptions

	mu    sync.Mutex
	state CentralState

	scanning   bool
	staleScans int // ScanDone events still owed by cancelled scans
	found      *Device
	onScan     ScanCallback

	target      Address
	conn        uint16
	hasConn     bool
	start, end  uint16
	hasRange    bool
	defHandle   uint16
	valueHandle uint16
	hasValue    bool
	onConnect   ConnectCallback

	abandoned    Address // target of a connect cancelled before the link came up
	hasAbandoned bool

	onRead     func([]byte)
	onNotify   func([]byte)
	onIndicate func([]byte)
}

// NewCentral creates a Central and registers it as the radio's event handler.
func NewCentral(radio CentralRadio, opts CentralOptions) *Central {
	if opts.Scan == (ScanParams{}) {
		opts.Scan = DefaultScanParams()
	}
	c := &Central{radio: radio, opts: opts}
	radio.SetEventHandler(c.HandleEvent)
	return c
}

// SetReadCallback installs the receiver for values returned by Read.
func (c *Central) SetReadCallback(cb func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRead = cb
}

// SetNotifyCallback installs the receiver for notifications.
func (c *Central) SetNotifyCallback(cb func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotify = cb
}

// SetIndicateCallback installs the receiver for indications.
func (c *Central) SetIndicateCallback(cb func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIndicate = cb
}

// State returns the current pipeline state. An idle central with a scan
// running reports StateScanning.
func (c *Central) State() CentralState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle && c.scanning {
		return StateScanning
	}
	return c.state
}

// IsConnected reports whether a connection exists and discovery finished.
func (c *Central) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready()
}

func (c *Central) ready() bool {
	return c.state == StateReady && c.hasConn && c.hasValue
}

// Scan starts a timed scan. The first connectable advertisement carrying
// ServiceUUID stops the scan early. cb is called exactly once when the scan
// ends, with the device or with nil. A scan already running is cancelled and
// its callback receives nil. If Scan returns an error cb is never called.
func (c *Central) Scan(cb ScanCallback) error {
	c.mu.Lock()
	var cancelled ScanCallback
	if c.scanning {
		if err := c.radio.GapStopScan(); err != nil {
			slog.Warn("[BLE] failed to stop previous scan", "error", err)
		}
		c.staleScans++
		cancelled = c.onScan
	}
	c.found = nil
	c.onScan = nil
	c.scanning = false

	err := c.radio.GapScan(c.opts.Scan)
	if err == nil {
		c.onScan = cb
		c.scanning = true
		slog.Debug("[BLE] scanning", "duration", c.opts.Scan.Duration)
	}
	c.mu.Unlock()

	if cancelled != nil {
		cancelled(nil)
	}
	if err != nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

// StopScan ends a running scan early. The scan callback still fires when
// the radio reports the scan finished.
func (c *Central) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.scanning {
		return nil
	}
	if err := c.radio.GapStopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	return nil
}

// Connect connects to addr, or to the device found by the last scan when
// addr is nil. It returns false without touching the radio when neither is
// available, and ErrBusy while a scan, connect or link is in progress. cb is
// called once: after service and characteristic discovery succeed, or with
// the reason the attempt failed.
func (c *Central) Connect(addr *Address, cb ConnectCallback) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target Address
	switch {
	case addr != nil:
		target = *addr
	case c.found != nil:
		target = c.found.Address
	default:
		return false, nil
	}

	if c.state != StateIdle || c.scanning {
		return false, ErrBusy
	}

	if err := c.radio.GapConnect(target); err != nil {
		return false, fmt.Errorf("ble: connect to %s: %w", target, err)
	}
	c.target = target
	c.onConnect = cb
	c.state = StateConnecting
	slog.Info("[BLE] connecting", "addr", target)
	return true, nil
}

// Disconnect drops the connection and resets local state immediately,
// without waiting for the disconnect event. A connect still waiting for the
// link is cancelled; if the radio brings that link up later it is dropped.
func (c *Central) Disconnect() error {
	c.mu.Lock()
	if !c.hasConn {
		var deliver func()
		if c.state == StateConnecting {
			c.abandoned, c.hasAbandoned = c.target, true
			deliver = c.abort(ErrDisconnected)
		}
		c.mu.Unlock()
		if deliver != nil {
			deliver()
		}
		return nil
	}
	err := c.radio.GapDisconnect(c.conn)
	deliver := c.abort(ErrDisconnected)
	c.mu.Unlock()

	if deliver != nil {
		deliver()
	}
	if err != nil {
		return fmt.Errorf("ble: disconnect: %w", err)
	}
	return nil
}

// Read requests the characteristic value; it arrives via the read callback.
// It does nothing when not connected.
func (c *Central) Read() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready() {
		return nil
	}
	if err := c.radio.GattcRead(c.conn, c.valueHandle); err != nil {
		return fmt.Errorf("ble: read: %w", err)
	}
	return nil
}

// Write sends data to the characteristic, optionally asking the peripheral
// to acknowledge. It does nothing when not connected.
func (c *Central) Write(data []byte, response bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready() {
		return nil
	}
	if err := c.radio.GattcWrite(c.conn, c.valueHandle, data, response); err != nil {
		return fmt.Errorf("ble: write: %w", err)
	}
	return nil
}

// reset returns the connection pipeline to idle (caller must hold mu).
// A running scan keeps its result.
func (c *Central) reset() {
	c.state = StateIdle
	if !c.scanning {
		c.found = nil
	}
	c.target = Address{}
	c.conn, c.hasConn = 0, false
	c.start, c.end, c.hasRange = 0, 0, false
	c.defHandle, c.valueHandle, c.hasValue = 0, 0, false
	c.onConnect = nil
}

// abort resets state and returns the pending connect callback, bound to err,
// if discovery had not finished (caller must hold mu).
func (c *Central) abort(err error) func() {
	cb := c.onConnect
	pending := c.state != StateReady && c.state != StateIdle
	c.reset()
	if cb == nil || !pending {
		return nil
	}
	return func() { cb(err) }
}

// fail ends a connection attempt whose discovery went wrong (caller must
// hold mu).
func (c *Central) fail(stage DiscoveryStage, cause error) func() {
	err := &DiscoveryError{Stage: stage, Conn: c.conn, Err: cause}
	slog.Error("[BLE] discovery failed", "error", err)
	if c.hasConn {
		if derr := c.radio.GapDisconnect(c.conn); derr != nil {
			slog.Warn("[BLE] disconnect after failed discovery", "error", derr)
		}
	}
	return c.abort(err)
}

func (c *Central) onLink(conn uint16) bool {
	return c.hasConn && conn == c.conn
}

// HandleEvent is the Central's single event entry point.
func (c *Central) HandleEvent(ev Event) {
	c.mu.Lock()
	var deliver func()

	switch e := ev.(type) {
	case ScanResult:
		if !c.scanning || c.found != nil {
			break
		}
		if !e.AdvType.Connectable() || !adv.HasService(e.Data, ServiceUUID) {
			break
		}
		name := adv.DecodeName(e.Data)
		if name == "" {
			name = "?"
		}
		c.found = &Device{Address: e.Addr, Name: name, RSSI: e.RSSI}
		slog.Info("[BLE] found peripheral", "addr", e.Addr, "name", name, "rssi", e.RSSI)
		if err := c.radio.GapStopScan(); err != nil {
			slog.Warn("[BLE] failed to stop scan", "error", err)
		}

	case ScanDone:
		if c.staleScans > 0 {
			c.staleScans--
			break
		}
		if !c.scanning {
			break
		}
		c.scanning = false
		cb := c.onScan
		c.onScan = nil
		var dev *Device
		if c.found != nil {
			d := *c.found
			dev = &d
		}
		if cb != nil {
			deliver = func() { cb(dev) }
		}

	case PeripheralConnect:
		if c.hasAbandoned && e.Addr == c.abandoned && (c.state != StateConnecting || e.Addr != c.target) {
			c.hasAbandoned = false
			slog.Info("[BLE] dropping cancelled connection", "conn", e.Conn, "addr", e.Addr)
			if err := c.radio.GapDisconnect(e.Conn); err != nil {
				slog.Warn("[BLE] failed to drop cancelled connection", "error", err)
			}
			break
		}
		if c.state != StateConnecting || e.Addr != c.target {
			break
		}
		c.hasAbandoned = false
		c.conn, c.hasConn = e.Conn, true
		c.state = StateDiscoveringService
		if err := c.radio.GattcDiscoverServices(e.Conn); err != nil {
			deliver = c.fail(StageService, err)
		}

	case PeripheralDisconnect:
		if c.hasAbandoned && e.Addr == c.abandoned && !c.onLink(e.Conn) {
			c.hasAbandoned = false
		}
		// A failed connect reports the target address without a known handle;
		// anything else not on the current link is stale.
		if !c.onLink(e.Conn) && !(c.state == StateConnecting && e.Addr == c.target) {
			break
		}
		slog.Info("[BLE] peripheral disconnected", "conn", e.Conn, "addr", e.Addr)
		deliver = c.abort(ErrDisconnected)

	case ServiceResult:
		if c.state != StateDiscoveringService || !c.onLink(e.Conn) || e.UUID != ServiceUUID {
			break
		}
		c.start, c.end, c.hasRange = e.Start, e.End, true

	case ServiceDone:
		if c.state != StateDiscoveringService || !c.onLink(e.Conn) {
			break
		}
		if !c.hasRange {
			deliver = c.fail(StageService, ErrServiceNotFound)
			break
		}
		start, end := c.start, c.end
		c.start, c.end, c.hasRange = 0, 0, false
		c.state = StateDiscoveringCharacteristic
		if err := c.radio.GattcDiscoverCharacteristics(c.conn, start, end); err != nil {
			deliver = c.fail(StageCharacteristic, err)
		}

	case CharacteristicResult:
		if c.state != StateDiscoveringCharacteristic || !c.onLink(e.Conn) || e.UUID != CharacteristicUUID {
			break
		}
		c.defHandle, c.valueHandle, c.hasValue = e.DefHandle, e.ValueHandle, true

	case CharacteristicDone:
		if c.state != StateDiscoveringCharacteristic || !c.onLink(e.Conn) {
			break
		}
		if !c.hasValue {
			deliver = c.fail(StageCharacteristic, ErrCharacteristicNotFound)
			break
		}
		c.state = StateReady
		slog.Info("[BLE] connected", "conn", c.conn, "addr", c.target, "handle", c.valueHandle)
		if cb := c.onConnect; cb != nil {
			c.onConnect = nil
			deliver = func() { cb(nil) }
		}

	case ReadResult:
		if cb := c.onRead; cb != nil && c.matches(e.Conn, e.ValueHandle) {
			deliver = func() { cb(e.Data) }
		}

	case ReadDone:
		slog.Debug("[BLE] read done", "conn", e.Conn, "status", e.Status)

	case WriteDone:
		slog.Debug("[BLE] write done", "conn", e.Conn, "status", e.Status)

	case Notify:
		if cb := c.onNotify; cb != nil && c.matches(e.Conn, e.ValueHandle) {
			deliver = func() { cb(e.Data) }
		}

	case Indicate:
		if cb := c.onIndicate; cb != nil && c.matches(e.Conn, e.ValueHandle) {
			deliver = func() { cb(e.Data) }
		}

	default:
		slog.Debug("[BLE] central ignoring event", "kind", ev.Kind())
	}

	c.mu.Unlock()
	if deliver != nil {
		deliver()
	}
}

func (c *Central) matches(conn, valueHandle uint16) bool {
	return c.ready() && conn == c.conn && valueHandle == c.valueHandle
}
