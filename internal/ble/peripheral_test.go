package ble

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/beeplink/internal/ble/adv"
)

func newTestPeripheral(t *testing.T) (*fakeRadio, *Peripheral) {
	t.Helper()
	r := newFakeRadio()
	p, err := NewPeripheral(r, PeripheralOptions{Name: "zip96"})
	if err != nil {
		t.Fatalf("NewPeripheral() error = %v", err)
	}
	r.clearCalls()
	return r, p
}

func TestNewPeripheralRegistersAndAdvertises(t *testing.T) {
	r := newFakeRadio()
	p, err := NewPeripheral(r, PeripheralOptions{Name: "zip96"})
	if err != nil {
		t.Fatalf("NewPeripheral() error = %v", err)
	}

	if n := len(r.callsOf("register-service")); n != 1 {
		t.Errorf("register-service calls = %d, want 1", n)
	}
	ads := r.callsOf("advertise")
	if len(ads) != 1 {
		t.Fatalf("advertise calls = %d, want 1", len(ads))
	}
	if ads[0].interval != 500*time.Millisecond {
		t.Errorf("advertise interval = %v, want 500ms", ads[0].interval)
	}
	payload := ads[0].data
	if got := adv.DecodeName(payload); got != "zip96" {
		t.Errorf("advertised name = %q, want %q", got, "zip96")
	}
	if !adv.HasService(payload, ServiceUUID) {
		t.Error("advertisement does not carry the link service")
	}
	if got, ok := adv.DecodeAppearance(payload); !ok || got != adv.AppearanceGamepad {
		t.Errorf("advertised appearance = 0x%04x, %v, want gamepad", got, ok)
	}
	if p.State() != PeripheralAdvertising {
		t.Errorf("State() = %s, want %s", p.State(), PeripheralAdvertising)
	}
	if p.IsConnected() {
		t.Error("IsConnected() = true before any central connected")
	}
}

func TestNewPeripheralDefaults(t *testing.T) {
	r := newFakeRadio()
	if _, err := NewPeripheral(r, PeripheralOptions{}); err != nil {
		t.Fatalf("NewPeripheral() error = %v", err)
	}
	if got := adv.DecodeName(r.callsOf("advertise")[0].data); got != "beeplink" {
		t.Errorf("default name = %q, want %q", got, "beeplink")
	}
}

func TestNewPeripheralRadioError(t *testing.T) {
	r := newFakeRadio()
	r.err = errRadio
	if _, err := NewPeripheral(r, DefaultPeripheralOptions()); !errors.Is(err, errRadio) {
		t.Errorf("NewPeripheral() error = %v, want %v", err, errRadio)
	}
}

func TestPeripheralConnectEnlargesBuffer(t *testing.T) {
	r, p := newTestPeripheral(t)
	var got [][]byte
	p.SetWriteCallback(func(v []byte) { got = append(got, v) })

	r.emit(CentralConnect{Conn: 1, Addr: peerAddr})

	bufs := r.callsOf("gatts-set-buffer")
	if len(bufs) != 1 || bufs[0].attr != p.Handle() || bufs[0].size < MinCharacteristicBuffer {
		t.Fatalf("gatts-set-buffer calls = %+v, want one >= %d on handle %d", bufs, MinCharacteristicBuffer, p.Handle())
	}
	if !p.IsConnected() || p.State() != PeripheralConnected {
		t.Errorf("IsConnected() = %v, State() = %s, want true, connected", p.IsConnected(), p.State())
	}

	move := []byte{4, 7, 21}
	r.clientWrite(1, p.Handle(), move)
	long := bytes.Repeat([]byte{0x5A}, MinCharacteristicBuffer)
	r.clientWrite(1, p.Handle(), long)

	if len(got) != 2 {
		t.Fatalf("write callback calls = %d, want 2", len(got))
	}
	if !bytes.Equal(got[0], move) {
		t.Errorf("write callback got %v, want %v", got[0], move)
	}
	if !bytes.Equal(got[1], long) {
		t.Errorf("write callback got %d bytes, want %d", len(got[1]), len(long))
	}
}

func TestPeripheralBufferSizeOption(t *testing.T) {
	r := newFakeRadio()
	if _, err := NewPeripheral(r, PeripheralOptions{BufferSize: 128}); err != nil {
		t.Fatalf("NewPeripheral() error = %v", err)
	}
	r.emit(CentralConnect{Conn: 1})
	if got := r.callsOf("gatts-set-buffer")[0].size; got != 128 {
		t.Errorf("buffer size = %d, want 128", got)
	}

	r2 := newFakeRadio()
	_, _ = NewPeripheral(r2, PeripheralOptions{BufferSize: 8})
	r2.emit(CentralConnect{Conn: 1})
	if got := r2.callsOf("gatts-set-buffer")[0].size; got != MinCharacteristicBuffer {
		t.Errorf("buffer size = %d, want %d", got, MinCharacteristicBuffer)
	}
}

func TestPeripheralWriteWithoutCallback(t *testing.T) {
	r, p := newTestPeripheral(t)
	r.emit(CentralConnect{Conn: 1})
	r.clientWrite(1, p.Handle(), []byte{1, 2, 3})

	// Writes to other attributes are not for us.
	var calls int
	p.SetWriteCallback(func([]byte) { calls++ })
	r.clientWrite(1, p.Handle()+1, []byte{1})
	if calls != 0 {
		t.Errorf("write callback calls = %d, want 0", calls)
	}
}

func TestPeripheralNotifyFanOut(t *testing.T) {
	r, p := newTestPeripheral(t)
	r.emit(CentralConnect{Conn: 2}, CentralConnect{Conn: 1})
	r.clearCalls()

	if err := p.Notify([]byte{9}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	writes := r.callsOf("gatts-write")
	if len(writes) != 1 || !bytes.Equal(writes[0].data, []byte{9}) {
		t.Errorf("gatts-write calls = %+v, want one storing [9]", writes)
	}
	notifies := r.callsOf("gatts-notify")
	if len(notifies) != 2 {
		t.Fatalf("gatts-notify calls = %d, want 2", len(notifies))
	}
	if notifies[0].conn != 1 || notifies[1].conn != 2 {
		t.Errorf("notified conns = %d, %d, want 1, 2", notifies[0].conn, notifies[1].conn)
	}
	for _, n := range notifies {
		if n.attr != p.Handle() {
			t.Errorf("notify attr = %d, want %d", n.attr, p.Handle())
		}
	}
	if len(r.callsOf("gatts-indicate")) != 0 {
		t.Error("Notify() issued indications")
	}
}

func TestPeripheralNotifyWithoutConnections(t *testing.T) {
	r, p := newTestPeripheral(t)

	if err := p.Notify([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if n := len(r.callsOf("gatts-notify")); n != 0 {
		t.Errorf("gatts-notify calls = %d, want 0", n)
	}
	if !bytes.Equal(r.attr(p.Handle()), []byte{1, 2, 3}) {
		t.Errorf("stored value = %v, want [1 2 3]", r.attr(p.Handle()))
	}
}

func TestPeripheralIndicateFanOut(t *testing.T) {
	r, p := newTestPeripheral(t)
	r.emit(CentralConnect{Conn: 1}, CentralConnect{Conn: 2})

	if err := p.Indicate([]byte("hi")); err != nil {
		t.Fatalf("Indicate() error = %v", err)
	}
	if n := len(r.callsOf("gatts-indicate")); n != 2 {
		t.Errorf("gatts-indicate calls = %d, want 2", n)
	}
	if n := len(r.callsOf("gatts-notify")); n != 0 {
		t.Errorf("gatts-notify calls = %d, want 0", n)
	}
	r.emit(GattsIndicateDone{Conn: 1, Attr: p.Handle()})
}

func TestPeripheralPushRadioError(t *testing.T) {
	r, p := newTestPeripheral(t)
	r.emit(CentralConnect{Conn: 1}, CentralConnect{Conn: 2})
	r.err = errRadio

	if err := p.Notify([]byte{1}); !errors.Is(err, errRadio) {
		t.Errorf("Notify() error = %v, want %v", err, errRadio)
	}
}

func TestPeripheralReadvertisesOnEveryDisconnect(t *testing.T) {
	r, p := newTestPeripheral(t)
	r.emit(CentralConnect{Conn: 1}, CentralConnect{Conn: 2})

	r.emit(CentralDisconnect{Conn: 1})
	if n := len(r.callsOf("advertise")); n != 1 {
		t.Errorf("advertise calls after first disconnect = %d, want 1", n)
	}
	if !p.IsConnected() || p.State() != PeripheralConnected {
		t.Errorf("IsConnected() = %v, State() = %s with one central left", p.IsConnected(), p.State())
	}

	r.emit(CentralDisconnect{Conn: 2})
	if n := len(r.callsOf("advertise")); n != 2 {
		t.Errorf("advertise calls after second disconnect = %d, want 2", n)
	}
	if p.IsConnected() || p.State() != PeripheralAdvertising {
		t.Errorf("IsConnected() = %v, State() = %s, want false, advertising", p.IsConnected(), p.State())
	}

	// Unknown handles still trigger advertising.
	r.emit(CentralDisconnect{Conn: 99})
	if n := len(r.callsOf("advertise")); n != 3 {
		t.Errorf("advertise calls after unknown disconnect = %d, want 3", n)
	}

	ads := r.callsOf("advertise")
	if !adv.HasService(ads[len(ads)-1].data, ServiceUUID) {
		t.Error("re-advertised payload lost the link service")
	}
}

func TestPeripheralServesReads(t *testing.T) {
	r, p := newTestPeripheral(t)
	r.emit(CentralConnect{Conn: 1})

	// Without a callback the stored value is served untouched.
	_ = r.GattsWrite(p.Handle(), []byte("old"))
	r.emit(GattsReadRequest{Conn: 1, Attr: p.Handle()})
	if got := string(r.attr(p.Handle())); got != "old" {
		t.Errorf("attribute = %q, want %q", got, "old")
	}

	// The start handshake: the callback clears itself after one read.
	p.SetReadCallback(func() []byte {
		p.SetReadCallback(nil)
		return []byte("START")
	})
	r.emit(GattsReadRequest{Conn: 1, Attr: p.Handle()})
	if got := string(r.attr(p.Handle())); got != "START" {
		t.Errorf("attribute = %q, want %q", got, "START")
	}

	_ = r.GattsWrite(p.Handle(), []byte("later"))
	r.emit(GattsReadRequest{Conn: 1, Attr: p.Handle()})
	if got := string(r.attr(p.Handle())); got != "later" {
		t.Errorf("attribute = %q, want %q after callback cleared", got, "later")
	}
}

func TestPeripheralIgnoresCentralEvents(t *testing.T) {
	r, p := newTestPeripheral(t)
	r.emit(ScanDone{}, Notify{Conn: 1, ValueHandle: p.Handle()})
	if r.callCount() != 0 {
		t.Errorf("radio commands = %d, want 0", r.callCount())
	}
}
