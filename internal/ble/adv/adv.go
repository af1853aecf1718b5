// Package adv encodes and decodes BLE advertising payloads.
//
// A payload is a sequence of records:
//
//	1 byte  length (N + 1)
//	1 byte  AD type
//	N bytes type-specific data
//
// Payloads received while scanning come from arbitrary devices, so the
// decoders never fail: malformed records are skipped.
package adv

import (
	"encoding/binary"
	"strings"
	"unicode/utf8"
)

// AD types used by this package.
const (
	TypeFlags             byte = 0x01
	TypeUUID16Incomplete  byte = 0x02
	TypeUUID16Complete    byte = 0x03
	TypeUUID32Incomplete  byte = 0x04
	TypeUUID32Complete    byte = 0x05
	TypeUUID128Incomplete byte = 0x06
	TypeUUID128Complete   byte = 0x07
	TypeShortName         byte = 0x08
	TypeCompleteName      byte = 0x09
	TypeAppearance        byte = 0x19
)

// Flag bits carried in the TypeFlags record.
const (
	FlagLimitedDiscoverable byte = 0x01
	FlagGeneralDiscoverable byte = 0x02
	FlagBREDRNotSupported   byte = 0x04
	FlagBREDRController     byte = 0x08
	FlagBREDRHost           byte = 0x10
)

// AppearanceGamepad is the GAP appearance value for a gamepad HID device.
const AppearanceGamepad uint16 = 0x03C4

// maxValueLen is the largest value a single record can hold.
const maxValueLen = 254

// Options describes an advertising payload.
type Options struct {
	LimitedDiscoverable bool
	BREDR               bool // classic Bluetooth supported
	Name                string
	Services            []UUID
	Appearance          uint16
}

// Encode builds an advertising payload. The flags record always comes first;
// name, service and appearance records follow only when set.
func Encode(o Options) []byte {
	var buf []byte

	flags := FlagGeneralDiscoverable
	if o.LimitedDiscoverable {
		flags = FlagLimitedDiscoverable
	}
	if o.BREDR {
		flags |= FlagBREDRController | FlagBREDRHost
	} else {
		flags |= FlagBREDRNotSupported
	}
	buf = appendRecord(buf, TypeFlags, []byte{flags})

	if o.Name != "" {
		buf = appendRecord(buf, TypeCompleteName, []byte(o.Name))
	}

	for _, u := range o.Services {
		switch u.Len() {
		case 2:
			buf = appendRecord(buf, TypeUUID16Complete, u.Bytes())
		case 4:
			buf = appendRecord(buf, TypeUUID32Complete, u.Bytes())
		case 16:
			buf = appendRecord(buf, TypeUUID128Complete, u.Bytes())
		}
	}

	if o.Appearance != 0 {
		var v [2]byte
		binary.LittleEndian.PutUint16(v[:], o.Appearance)
		buf = appendRecord(buf, TypeAppearance, v[:])
	}

	return buf
}

func appendRecord(buf []byte, typ byte, value []byte) []byte {
	if len(value) > maxValueLen {
		value = value[:maxValueLen]
	}
	buf = append(buf, byte(len(value)+1), typ)
	return append(buf, value...)
}

// Record is one advertising record.
type Record struct {
	Type  byte
	Value []byte
}

// Records splits payload into records, in payload order. A record whose
// length runs past the end of the payload ends decoding; a zero length byte
// marks the start of padding.
func Records(payload []byte) []Record {
	var out []Record
	for i := 0; i+1 < len(payload); {
		n := int(payload[i])
		if n == 0 {
			break
		}
		end := i + 1 + n
		if end > len(payload) {
			break
		}
		out = append(out, Record{Type: payload[i+1], Value: payload[i+2 : end]})
		i = end
	}
	return out
}

// DecodeField returns the values of every record of the given type, in
// payload order.
func DecodeField(payload []byte, typ byte) [][]byte {
	var out [][]byte
	for _, r := range Records(payload) {
		if r.Type == typ {
			out = append(out, r.Value)
		}
	}
	return out
}

// DecodeName returns the complete local name, falling back to the shortened
// name. Invalid UTF-8 is replaced; an absent name yields "".
func DecodeName(payload []byte) string {
	n := DecodeField(payload, TypeCompleteName)
	if len(n) == 0 {
		n = DecodeField(payload, TypeShortName)
	}
	if len(n) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(n[0]), string(utf8.RuneError))
}

// DecodeServices returns every complete 16-, 32- and 128-bit service UUID.
// A record may list several UUIDs of its width; trailing partial bytes are
// ignored.
func DecodeServices(payload []byte) []UUID {
	var out []UUID
	for _, f := range []struct {
		typ   byte
		width int
	}{
		{TypeUUID16Complete, 2},
		{TypeUUID32Complete, 4},
		{TypeUUID128Complete, 16},
	} {
		for _, v := range DecodeField(payload, f.typ) {
			for len(v) >= f.width {
				u, _ := UUIDFromBytes(v[:f.width])
				out = append(out, u)
				v = v[f.width:]
			}
		}
	}
	return out
}

// DecodeAppearance returns the appearance value, if present.
func DecodeAppearance(payload []byte) (uint16, bool) {
	for _, v := range DecodeField(payload, TypeAppearance) {
		if len(v) >= 2 {
			return binary.LittleEndian.Uint16(v), true
		}
	}
	return 0, false
}

// DecodeFlags returns the flags byte, if present.
func DecodeFlags(payload []byte) (byte, bool) {
	for _, v := range DecodeField(payload, TypeFlags) {
		if len(v) >= 1 {
			return v[0], true
		}
	}
	return 0, false
}

// HasService reports whether payload advertises u.
func HasService(payload []byte, u UUID) bool {
	for _, s := range DecodeServices(payload) {
		if s == u {
			return true
		}
	}
	return false
}
