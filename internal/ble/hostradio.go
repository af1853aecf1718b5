package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/beeplink/internal/ble/adv"
)

// InvalidConn is the connection handle reported when a connect attempt fails
// before a link exists.
const InvalidConn uint16 = 0xFFFF

const (
	maxAttrLen  = 512    // ATT maximum attribute value length
	serviceSpan = 0x20   // synthetic handles reserved per discovered service
	firstHandle = 0x0010 // first synthetic handle of a local service
	jobQueueLen = 64
)

var errQueueFull = errors.New("ble: radio command queue full")

// HostRadio adapts tinygo-org/bluetooth to the PeripheralRadio and
// CentralRadio interfaces so both roles can run on a desktop host.
//
// tinygo exposes blocking calls and platform callbacks rather than a raw
// event stream, so HostRadio runs blocking operations on one worker
// goroutine and queues their results as events. Attribute handles are
// synthetic: they are stable for the lifetime of a link but do not match the
// peer's real ATT handles. On macOS peers are identified by CoreBluetooth
// UUIDs, which are folded into random-type addresses.
//
// Limitations:
//   - read requests and indication acknowledgements are not reported
//   - a stored value reaches subscribers as soon as it is written
//   - the appearance field of an advertising payload is not advertised
//   - scan interval and window are chosen by the host stack
//   - every scan result is reported as AdvInd, since no PDU type is exposed
//   - acknowledged writes fall back to write-without-response on Linux
//   - write events carry the handle of the connected central only while a
//     single central is connected; otherwise they carry InvalidConn
type HostRadio struct {
	adapter *bluetooth.Adapter
	events  *eventQueue
	jobs    chan func()

	mu       sync.Mutex
	handler  EventHandler
	peers    map[Address]string // platform address strings
	nextConn uint16

	// central role
	links    map[uint16]*hostLink
	scanExit chan struct{}

	// peripheral role
	serving     bool
	clients     map[string]uint16
	attrs       map[uint16]*hostAttr
	nextHandle  uint16
	advertising bool

	scanNoted bool
}

type hostLink struct {
	addr       Address
	key        string
	device     *bluetooth.Device
	services   map[uint16]*bluetooth.DeviceService
	chars      map[uint16]*bluetooth.DeviceCharacteristic
	nextHandle uint16
}

type hostAttr struct {
	char   bluetooth.Characteristic
	write  func([]byte) (int, error) // pushes a value into the host stack
	value  []byte
	size   int
	gen    uint64
	pushed uint64
}

// NewHostRadio wraps adapter, usually bluetooth.DefaultAdapter.
func NewHostRadio(adapter *bluetooth.Adapter) *HostRadio {
	return &HostRadio{
		adapter:    adapter,
		events:     newEventQueue(),
		jobs:       make(chan func(), jobQueueLen),
		peers:      make(map[Address]string),
		links:      make(map[uint16]*hostLink),
		clients:    make(map[string]uint16),
		attrs:      make(map[uint16]*hostAttr),
		nextHandle: firstHandle,
	}
}

// Enable powers up the adapter and installs the connection handler.
func (h *HostRadio) Enable() error {
	if err := h.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	h.adapter.SetConnectHandler(h.onConnectChange)
	return nil
}

// Run executes radio commands and delivers queued events to the handler
// until ctx is done.
func (h *HostRadio) Run(ctx context.Context) error {
	go h.work(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.events.ready:
		}
		for _, ev := range h.events.drain() {
			h.mu.Lock()
			handler := h.handler
			h.mu.Unlock()
			if handler != nil {
				handler(ev)
			}
		}
	}
}

func (h *HostRadio) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-h.jobs:
			job()
		}
	}
}

func (h *HostRadio) submit(job func()) error {
	select {
	case h.jobs <- job:
		return nil
	default:
		return errQueueFull
	}
}

func (h *HostRadio) SetEventHandler(handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// allocConn returns a fresh connection handle (caller must hold mu).
func (h *HostRadio) allocConn() uint16 {
	h.nextConn++
	if h.nextConn == InvalidConn || h.nextConn == 0 {
		h.nextConn = 1
	}
	return h.nextConn
}

// remember maps a platform address to an Address and records the original
// string so the peer can be dialled later.
func (h *HostRadio) remember(a bluetooth.Address) (Address, error) {
	s := a.String()
	addr, err := peerAddress(s)
	if err != nil {
		return Address{}, err
	}
	h.mu.Lock()
	h.peers[addr] = s
	h.mu.Unlock()
	return addr, nil
}

// peerAddress parses a platform address string: a MAC on Linux and Windows,
// a CoreBluetooth UUID on macOS.
func peerAddress(s string) (Address, error) {
	if a, err := ParseAddress(s); err == nil {
		return a, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return Address{}, fmt.Errorf("ble: unrecognised peer address %q", s)
	}
	a := Address{Type: AddrRandom}
	copy(a.MAC[:], id[:6])
	return a, nil
}

func (h *HostRadio) onConnectChange(device bluetooth.Device, connected bool) {
	addr, err := h.remember(device.Address)
	if err != nil {
		slog.Debug("[BLE] connection change from unknown peer", "error", err)
		return
	}
	key := device.Address.String()

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, link := range h.links {
		if link.key != key {
			continue
		}
		if !connected {
			delete(h.links, conn)
			h.events.push(PeripheralDisconnect{Conn: conn, Addr: addr})
		}
		return
	}

	if !h.serving {
		return
	}
	if connected {
		if _, ok := h.clients[key]; ok {
			return
		}
		conn := h.allocConn()
		h.clients[key] = conn
		h.events.push(CentralConnect{Conn: conn, Addr: addr})
		return
	}
	conn, ok := h.clients[key]
	if !ok {
		conn = InvalidConn
	}
	delete(h.clients, key)
	h.events.push(CentralDisconnect{Conn: conn, Addr: addr})
}

// toBluetoothUUID converts u to tinygo's 128-bit representation.
func toBluetoothUUID(u adv.UUID) (bluetooth.UUID, error) {
	id, err := bluetooth.ParseUUID(u.Canonical().String())
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("ble: convert UUID %s: %w", u, err)
	}
	return id, nil
}

// fromBluetoothUUID converts a tinygo UUID, shortening UUIDs built on the
// Bluetooth base UUID.
func fromBluetoothUUID(u bluetooth.UUID) adv.UUID {
	id, err := uuid.Parse(u.String())
	if err != nil {
		return adv.UUID{}
	}
	return adv.UUID128(id).Compact()
}

// --- Central role ---

func (h *HostRadio) GapScan(p ScanParams) error {
	h.mu.Lock()
	prev := h.scanExit
	h.mu.Unlock()
	if prev != nil {
		// A stopped scan winds down quickly; tinygo allows one at a time.
		_ = h.adapter.StopScan()
		<-prev
	}

	linkUUID, err := toBluetoothUUID(ServiceUUID)
	if err != nil {
		return err
	}
	exit := make(chan struct{})
	h.mu.Lock()
	h.scanExit = exit
	h.mu.Unlock()

	h.noteScanLimits(p)

	go func() {
		defer close(exit)
		timer := time.AfterFunc(p.Duration, func() { _ = h.adapter.StopScan() })
		err := h.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			h.onScanResult(r, linkUUID)
		})
		timer.Stop()
		if err != nil {
			slog.Warn("[BLE] scan ended with error", "error", err)
		}
		h.mu.Lock()
		if h.scanExit == exit {
			h.scanExit = nil
		}
		h.mu.Unlock()
		h.events.push(ScanDone{})
	}()
	return nil
}

// noteScanLimits logs, once per radio, the scan parameters the host stack
// does not take.
func (h *HostRadio) noteScanLimits(p ScanParams) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scanNoted {
		return
	}
	h.scanNoted = true
	slog.Debug("[BLE] host stack picks scan timing; results are reported as connectable",
		"interval", p.Interval, "window", p.Window)
}

func (h *HostRadio) onScanResult(r bluetooth.ScanResult, linkUUID bluetooth.UUID) {
	addr, err := h.remember(r.Address)
	if err != nil {
		return
	}
	data := r.Bytes()
	if len(data) == 0 {
		// Most hosts only expose parsed fields; rebuild the parts we use.
		o := adv.Options{Name: r.LocalName()}
		if r.HasServiceUUID(linkUUID) {
			o.Services = []adv.UUID{ServiceUUID}
		}
		data = adv.Encode(o)
	} else {
		data = append([]byte(nil), data...)
	}
	h.events.push(ScanResult{Addr: addr, AdvType: AdvInd, RSSI: int(r.RSSI), Data: data})
}

func (h *HostRadio) GapStopScan() error {
	h.mu.Lock()
	running := h.scanExit != nil
	h.mu.Unlock()
	if !running {
		return nil
	}
	return h.adapter.StopScan()
}

func (h *HostRadio) GapConnect(addr Address) error {
	h.mu.Lock()
	key, ok := h.peers[addr]
	h.mu.Unlock()
	if !ok {
		key = addr.String()
	}
	var target bluetooth.Address
	target.Set(key)

	return h.submit(func() {
		device, err := h.adapter.Connect(target, bluetooth.ConnectionParams{})
		if err != nil {
			slog.Warn("[BLE] connect failed", "addr", addr, "error", err)
			h.events.push(PeripheralDisconnect{Conn: InvalidConn, Addr: addr})
			return
		}
		h.mu.Lock()
		conn := h.allocConn()
		h.links[conn] = &hostLink{
			addr:       addr,
			key:        key,
			device:     &device,
			services:   make(map[uint16]*bluetooth.DeviceService),
			chars:      make(map[uint16]*bluetooth.DeviceCharacteristic),
			nextHandle: 1,
		}
		h.mu.Unlock()
		h.events.push(PeripheralConnect{Conn: conn, Addr: addr})
	})
}

func (h *HostRadio) link(conn uint16) (*hostLink, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.links[conn]
	if !ok {
		return nil, fmt.Errorf("ble: unknown connection %d", conn)
	}
	return l, nil
}

func (h *HostRadio) GapDisconnect(conn uint16) error {
	l, err := h.link(conn)
	if err != nil {
		return err
	}
	return h.submit(func() {
		if err := l.device.Disconnect(); err != nil {
			slog.Warn("[BLE] disconnect failed", "conn", conn, "error", err)
		}
		h.mu.Lock()
		_, still := h.links[conn]
		delete(h.links, conn)
		h.mu.Unlock()
		if still {
			h.events.push(PeripheralDisconnect{Conn: conn, Addr: l.addr})
		}
	})
}

func status(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

func (h *HostRadio) GattcDiscoverServices(conn uint16) error {
	l, err := h.link(conn)
	if err != nil {
		return err
	}
	return h.submit(func() {
		svcs, err := l.device.DiscoverServices(nil)
		if err != nil {
			slog.Warn("[BLE] service discovery failed", "conn", conn, "error", err)
		}
		for i := range svcs {
			svc := &svcs[i]
			h.mu.Lock()
			start := l.nextHandle
			l.nextHandle += serviceSpan
			l.services[start] = svc
			h.mu.Unlock()
			h.events.push(ServiceResult{
				Conn:  conn,
				Start: start,
				End:   start + serviceSpan - 1,
				UUID:  fromBluetoothUUID(svc.UUID()),
			})
		}
		h.events.push(ServiceDone{Conn: conn, Status: status(err)})
	})
}

func (h *HostRadio) GattcDiscoverCharacteristics(conn, start, end uint16) error {
	l, err := h.link(conn)
	if err != nil {
		return err
	}
	h.mu.Lock()
	svc, ok := l.services[start]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: no service at handle 0x%04x", start)
	}

	return h.submit(func() {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			slog.Warn("[BLE] characteristic discovery failed", "conn", conn, "error", err)
		}
		for i := range chars {
			def := start + 1 + uint16(2*i)
			vh := def + 1
			if vh > end {
				break
			}
			ch := &chars[i]
			h.mu.Lock()
			l.chars[vh] = ch
			h.mu.Unlock()

			// Flags are not exposed by every host, so 0 means unknown.
			h.events.push(CharacteristicResult{
				Conn:        conn,
				DefHandle:   def,
				ValueHandle: vh,
				UUID:        fromBluetoothUUID(ch.UUID()),
			})
			if err := ch.EnableNotifications(func(buf []byte) {
				h.events.push(Notify{Conn: conn, ValueHandle: vh, Data: append([]byte(nil), buf...)})
			}); err != nil {
				slog.Debug("[BLE] notifications unavailable", "conn", conn, "handle", vh, "error", err)
			}
		}
		h.events.push(CharacteristicDone{Conn: conn, Status: status(err)})
	})
}

func (h *HostRadio) characteristic(conn, valueHandle uint16) (*bluetooth.DeviceCharacteristic, error) {
	l, err := h.link(conn)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := l.chars[valueHandle]
	if !ok {
		return nil, fmt.Errorf("ble: unknown handle 0x%04x on conn %d", valueHandle, conn)
	}
	return ch, nil
}

func (h *HostRadio) GattcRead(conn, valueHandle uint16) error {
	ch, err := h.characteristic(conn, valueHandle)
	if err != nil {
		return err
	}
	return h.submit(func() {
		buf := make([]byte, maxAttrLen)
		n, err := ch.Read(buf)
		if err == nil {
			h.events.push(ReadResult{Conn: conn, ValueHandle: valueHandle, Data: buf[:n]})
		}
		h.events.push(ReadDone{Conn: conn, ValueHandle: valueHandle, Status: status(err)})
	})
}

func (h *HostRadio) GattcWrite(conn, valueHandle uint16, data []byte, withResponse bool) error {
	ch, err := h.characteristic(conn, valueHandle)
	if err != nil {
		return err
	}
	data = append([]byte(nil), data...)
	return h.submit(func() {
		if !withResponse {
			if _, err := ch.WriteWithoutResponse(data); err != nil {
				slog.Warn("[BLE] write failed", "conn", conn, "error", err)
			}
			return
		}
		err := writeAcknowledged(ch, data)
		h.events.push(WriteDone{Conn: conn, ValueHandle: valueHandle, Status: status(err)})
	})
}

// --- Peripheral role ---

// advertisementOptions rebuilds tinygo advertisement options from an
// encoded advertising payload.
func advertisementOptions(interval time.Duration, payload []byte) (bluetooth.AdvertisementOptions, error) {
	if appearance, ok := adv.DecodeAppearance(payload); ok {
		slog.Debug("[BLE] appearance is not advertised by the host stack", "appearance", appearance)
	}
	opts := bluetooth.AdvertisementOptions{
		LocalName: adv.DecodeName(payload),
		Interval:  bluetooth.NewDuration(interval),
	}
	for _, u := range adv.DecodeServices(payload) {
		id, err := toBluetoothUUID(u)
		if err != nil {
			return bluetooth.AdvertisementOptions{}, err
		}
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, id)
	}
	return opts, nil
}

func (h *HostRadio) Advertise(interval time.Duration, payload []byte) error {
	opts, err := advertisementOptions(interval, payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.adapter.DefaultAdvertisement()
	if h.advertising {
		_ = a.Stop()
	}
	if err := a.Configure(opts); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := a.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	h.advertising = true
	return nil
}

// permissions maps characteristic flags to tinygo permissions.
func permissions(f CharFlags) bluetooth.CharacteristicPermissions {
	var p bluetooth.CharacteristicPermissions
	if f&FlagBroadcast != 0 {
		p |= bluetooth.CharacteristicBroadcastPermission
	}
	if f&FlagRead != 0 {
		p |= bluetooth.CharacteristicReadPermission
	}
	if f&FlagWriteNoResponse != 0 {
		p |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if f&FlagWrite != 0 {
		p |= bluetooth.CharacteristicWritePermission
	}
	if f&FlagNotify != 0 {
		p |= bluetooth.CharacteristicNotifyPermission
	}
	if f&FlagIndicate != 0 {
		p |= bluetooth.CharacteristicIndicatePermission
	}
	return p
}

func (h *HostRadio) RegisterService(svc ServiceDefinition) ([]uint16, error) {
	svcUUID, err := toBluetoothUUID(svc.UUID)
	if err != nil {
		return nil, err
	}
	service := &bluetooth.Service{UUID: svcUUID}
	handles := make([]uint16, 0, len(svc.Characteristics))

	h.mu.Lock()
	for _, cd := range svc.Characteristics {
		charUUID, err := toBluetoothUUID(cd.UUID)
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}
		vh := h.nextHandle + 1
		h.nextHandle += 2
		a := &hostAttr{size: maxAttrLen}
		a.write = a.char.Write
		h.attrs[vh] = a
		handles = append(handles, vh)
		service.Characteristics = append(service.Characteristics, bluetooth.CharacteristicConfig{
			Handle:     &a.char,
			UUID:       charUUID,
			Flags:      permissions(cd.Flags),
			WriteEvent: h.writeEvent(vh),
		})
	}
	h.serving = true
	h.mu.Unlock()

	if err := h.adapter.AddService(service); err != nil {
		return nil, fmt.Errorf("ble: add service %s: %w", svc.UUID, err)
	}
	return handles, nil
}

func (h *HostRadio) writeEvent(vh uint16) func(bluetooth.Connection, int, []byte) {
	return func(client bluetooth.Connection, offset int, value []byte) {
		h.mu.Lock()
		a := h.attrs[vh]
		if offset > len(a.value) {
			offset = len(a.value)
		}
		buf := append(a.value[:offset:offset], value...)
		if len(buf) > a.size {
			buf = buf[:a.size]
		}
		a.value = buf
		a.gen++
		a.pushed = a.gen // the writer already holds this value
		conn := h.clientConn()
		h.mu.Unlock()
		slog.Debug("[BLE] attribute written", "host_conn", client, "conn", conn, "handle", vh)
		h.events.push(GattsWrite{Conn: conn, Attr: vh})
	}
}

// clientConn returns the handle of the only connected central. tinygo
// cannot tie a write to a connection change, so with zero or several
// centrals connected it returns InvalidConn (caller must hold mu).
func (h *HostRadio) clientConn() uint16 {
	if len(h.clients) != 1 {
		return InvalidConn
	}
	for _, conn := range h.clients {
		return conn
	}
	return InvalidConn
}

func (h *HostRadio) attr(handle uint16) (*hostAttr, error) {
	a, ok := h.attrs[handle]
	if !ok {
		return nil, fmt.Errorf("ble: unknown attribute 0x%04x", handle)
	}
	return a, nil
}

func (h *HostRadio) GattsRead(handle uint16) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, err := h.attr(handle)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), a.value...), nil
}

// GattsWrite stores value and hands it to the host stack, which serves it
// to readers and pushes it to subscribed centrals.
func (h *HostRadio) GattsWrite(handle uint16, value []byte) error {
	h.mu.Lock()
	a, err := h.attr(handle)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	a.value = append([]byte(nil), value...)
	a.gen++
	gen, v := a.gen, a.value
	h.mu.Unlock()

	if _, err := a.write(v); err != nil {
		return fmt.Errorf("ble: store attribute 0x%04x: %w", handle, err)
	}
	h.markPushed(a, gen)
	return nil
}

// markPushed records that the host stack holds generation gen of a.
func (h *HostRadio) markPushed(a *hostAttr, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen > a.pushed {
		a.pushed = gen
	}
}

func (h *HostRadio) GattsSetBuffer(handle uint16, size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, err := h.attr(handle)
	if err != nil {
		return err
	}
	a.size = min(size, maxAttrLen)
	return nil
}

// GattsNotify pushes the stored value unless the host already has it, for
// example after a failed GattsWrite. The host stack fans a value out to every
// subscriber, so per-connection calls after the first are no-ops.
func (h *HostRadio) GattsNotify(conn, handle uint16) error {
	h.mu.Lock()
	a, err := h.attr(handle)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if a.pushed == a.gen {
		h.mu.Unlock()
		return nil
	}
	gen, v := a.gen, append([]byte(nil), a.value...)
	h.mu.Unlock()

	if _, err := a.write(v); err != nil {
		return fmt.Errorf("ble: notify conn %d: %w", conn, err)
	}
	h.markPushed(a, gen)
	return nil
}

// GattsIndicate behaves like GattsNotify; the host stack decides between
// notification and indication from the subscriber's configuration.
func (h *HostRadio) GattsIndicate(conn, handle uint16) error {
	return h.GattsNotify(conn, handle)
}

// eventQueue is an unbounded FIFO of events. Producers never block, so
// platform callbacks cannot stall behind a slow handler.
type eventQueue struct {
	mu    sync.Mutex
	items []Event
	ready chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

var (
	_ PeripheralRadio = (*HostRadio)(nil)
	_ CentralRadio    = (*HostRadio)(nil)
)
