package adv

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// UUID identifies a GATT service or characteristic. It keeps the width it
// was created with (16, 32 or 128 bits) so that it is advertised and
// compared exactly as it appears on the wire. UUID values are comparable.
type UUID struct {
	n    uint8
	wire [16]byte // little-endian, first n bytes used
}

// UUID16 returns a 16-bit UUID.
func UUID16(v uint16) UUID {
	u := UUID{n: 2}
	binary.LittleEndian.PutUint16(u.wire[:], v)
	return u
}

// UUID32 returns a 32-bit UUID.
func UUID32(v uint32) UUID {
	u := UUID{n: 4}
	binary.LittleEndian.PutUint32(u.wire[:], v)
	return u
}

// UUID128 returns a 128-bit UUID. BLE transmits 128-bit UUIDs in reverse
// byte order relative to their canonical string form.
func UUID128(id uuid.UUID) UUID {
	u := UUID{n: 16}
	for i := 0; i < 16; i++ {
		u.wire[i] = id[15-i]
	}
	return u
}

// UUIDFromBytes rebuilds a UUID from its little-endian wire encoding.
func UUIDFromBytes(b []byte) (UUID, error) {
	switch len(b) {
	case 2, 4, 16:
		u := UUID{n: uint8(len(b))}
		copy(u.wire[:], b)
		return u, nil
	default:
		return UUID{}, fmt.Errorf("adv: invalid UUID length %d", len(b))
	}
}

// ParseUUID parses "0x93AF" / "93af" as 16-bit, 8 hex digits as 32-bit and
// anything else as a canonical 128-bit UUID string.
func ParseUUID(s string) (UUID, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	switch len(h) {
	case 4, 8:
		b, err := hex.DecodeString(h)
		if err != nil {
			return UUID{}, fmt.Errorf("adv: parse UUID %q: %w", s, err)
		}
		if len(b) == 2 {
			return UUID16(binary.BigEndian.Uint16(b)), nil
		}
		return UUID32(binary.BigEndian.Uint32(b)), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("adv: parse UUID %q: %w", s, err)
	}
	return UUID128(id), nil
}

// Len returns the wire width in bytes: 2, 4 or 16. The zero UUID has length 0.
func (u UUID) Len() int { return int(u.n) }

// IsZero reports whether u is the zero value.
func (u UUID) IsZero() bool { return u.n == 0 }

// Bytes returns the little-endian wire encoding.
func (u UUID) Bytes() []byte {
	b := make([]byte, u.n)
	copy(b, u.wire[:u.n])
	return b
}

// Uint32 returns the numeric value of a 16- or 32-bit UUID, and false for
// 128-bit UUIDs.
func (u UUID) Uint32() (uint32, bool) {
	switch u.n {
	case 2:
		return uint32(binary.LittleEndian.Uint16(u.wire[:])), true
	case 4:
		return binary.LittleEndian.Uint32(u.wire[:]), true
	}
	return 0, false
}

// Canonical returns the big-endian 128-bit form. Short UUIDs are expanded
// over the Bluetooth base UUID.
func (u UUID) Canonical() uuid.UUID {
	if v, ok := u.Uint32(); ok {
		id := baseUUID
		binary.BigEndian.PutUint32(id[:4], v)
		return id
	}
	var id uuid.UUID
	for i := 0; i < 16; i++ {
		id[i] = u.wire[15-i]
	}
	return id
}

var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Compact returns the shortest form of u. A 128-bit UUID built on the
// Bluetooth base UUID becomes the 16- or 32-bit UUID it stands for.
func (u UUID) Compact() UUID {
	if u.n != 16 {
		return u
	}
	id := u.Canonical()
	if !bytes.Equal(id[4:], baseUUID[4:]) {
		return u
	}
	v := binary.BigEndian.Uint32(id[:4])
	if v <= 0xFFFF {
		return UUID16(uint16(v))
	}
	return UUID32(v)
}

func (u UUID) String() string {
	switch u.n {
	case 0:
		return "<nil>"
	case 2:
		return fmt.Sprintf("0x%04X", binary.LittleEndian.Uint16(u.wire[:]))
	case 4:
		return fmt.Sprintf("0x%08X", binary.LittleEndian.Uint32(u.wire[:]))
	}
	return u.Canonical().String()
}
