// Command advdump decodes a BLE advertising payload given in hex, or
// encodes the beeplink advertisement and decodes it back.
//
// Usage:
//
//	go run ./cmd/advdump 0201060a09...
//	go run ./cmd/advdump --name zip96
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chaz8081/beeplink/internal/ble"
	"github.com/chaz8081/beeplink/internal/ble/adv"
)

var typeNames = map[byte]string{
	adv.TypeFlags:             "flags",
	adv.TypeUUID16Incomplete:  "uuid16 (incomplete)",
	adv.TypeUUID16Complete:    "uuid16",
	adv.TypeUUID32Incomplete:  "uuid32 (incomplete)",
	adv.TypeUUID32Complete:    "uuid32",
	adv.TypeUUID128Incomplete: "uuid128 (incomplete)",
	adv.TypeUUID128Complete:   "uuid128",
	adv.TypeShortName:         "short name",
	adv.TypeCompleteName:      "name",
	adv.TypeAppearance:        "appearance",
}

func main() {
	name := flag.String("name", "", "encode the beeplink advertisement for this device name instead of decoding")
	flag.Parse()

	var payload []byte
	switch {
	case *name != "":
		payload = adv.Encode(adv.Options{
			Name:       *name,
			Services:   []adv.UUID{ble.ServiceUUID},
			Appearance: adv.AppearanceGamepad,
		})
		fmt.Printf("Encoded: %x\n", payload)
	case flag.NArg() == 1:
		s := strings.NewReplacer(" ", "", ":", "").Replace(flag.Arg(0))
		s = strings.TrimPrefix(strings.ToLower(s), "0x")
		b, err := hex.DecodeString(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid hex payload: %v\n", err)
			os.Exit(1)
		}
		payload = b
	default:
		fmt.Fprintln(os.Stderr, "usage: advdump <hex payload> | advdump --name <device name>")
		os.Exit(2)
	}

	dump(payload)
}

func dump(payload []byte) {
	fmt.Printf("Length:  %d bytes\n", len(payload))
	if len(payload) > 31 {
		fmt.Println("  (longer than a legacy advertisement)")
	}

	for _, r := range adv.Records(payload) {
		label, ok := typeNames[r.Type]
		if !ok {
			label = "unknown"
		}
		fmt.Printf("  0x%02x %-20s % x\n", r.Type, label, r.Value)
	}

	if name := adv.DecodeName(payload); name != "" {
		fmt.Printf("Name:       %s\n", name)
	}
	if f, ok := adv.DecodeFlags(payload); ok {
		fmt.Printf("Flags:      0x%02x%s\n", f, describeFlags(f))
	}
	if a, ok := adv.DecodeAppearance(payload); ok {
		fmt.Printf("Appearance: 0x%04x\n", a)
	}
	for _, u := range adv.DecodeServices(payload) {
		mark := ""
		if u == ble.ServiceUUID {
			mark = " (beeplink)"
		}
		fmt.Printf("Service:    %s%s\n", u, mark)
	}
}

func describeFlags(f byte) string {
	var parts []string
	if f&adv.FlagLimitedDiscoverable != 0 {
		parts = append(parts, "limited")
	}
	if f&adv.FlagGeneralDiscoverable != 0 {
		parts = append(parts, "general")
	}
	if f&adv.FlagBREDRNotSupported != 0 {
		parts = append(parts, "le-only")
	}
	if f&(adv.FlagBREDRController|adv.FlagBREDRHost) != 0 {
		parts = append(parts, "br/edr")
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
