package ble

import "github.com/chaz8081/beeplink/internal/ble/adv"

// EventKind enumerates every radio event the roles understand.
type EventKind uint8

const (
	// Peripheral events.
	KindCentralConnect EventKind = iota + 1
	KindCentralDisconnect
	KindGattsWrite
	KindGattsReadRequest
	KindGattsIndicateDone

	// Central events.
	KindScanResult
	KindScanDone
	KindPeripheralConnect
	KindPeripheralDisconnect
	KindServiceResult
	KindServiceDone
	KindCharacteristicResult
	KindCharacteristicDone
	KindReadResult
	KindReadDone
	KindWriteDone
	KindNotify
	KindIndicate
)

var kindNames = [...]string{
	KindCentralConnect:       "central-connect",
	KindCentralDisconnect:    "central-disconnect",
	KindGattsWrite:           "gatts-write",
	KindGattsReadRequest:     "gatts-read-request",
	KindGattsIndicateDone:    "gatts-indicate-done",
	KindScanResult:           "scan-result",
	KindScanDone:             "scan-done",
	KindPeripheralConnect:    "peripheral-connect",
	KindPeripheralDisconnect: "peripheral-disconnect",
	KindServiceResult:        "service-result",
	KindServiceDone:          "service-done",
	KindCharacteristicResult: "characteristic-result",
	KindCharacteristicDone:   "characteristic-done",
	KindReadResult:           "read-result",
	KindReadDone:             "read-done",
	KindWriteDone:            "write-done",
	KindNotify:               "notify",
	KindIndicate:             "indicate",
}

func (k EventKind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Event is a radio event. The set of implementations is closed: only the
// types in this file satisfy it.
type Event interface {
	Kind() EventKind
	event()
}

// AdvType is the PDU type of a received advertisement.
type AdvType uint8

const (
	AdvInd        AdvType = 0x00
	AdvDirectInd  AdvType = 0x01
	AdvScanInd    AdvType = 0x02
	AdvNonconnInd AdvType = 0x03
	AdvScanRsp    AdvType = 0x04
)

// Connectable reports whether a central may connect in response to t.
func (t AdvType) Connectable() bool {
	return t == AdvInd || t == AdvDirectInd
}

type (
	CentralConnect struct {
		Conn uint16
		Addr Address
	}
	CentralDisconnect struct {
		Conn uint16
		Addr Address
	}
	GattsWrite struct {
		Conn uint16
		Attr uint16
	}
	GattsReadRequest struct {
		Conn uint16
		Attr uint16
	}
	GattsIndicateDone struct {
		Conn   uint16
		Attr   uint16
		Status int
	}

	ScanResult struct {
		Addr    Address
		AdvType AdvType
		RSSI    int
		Data    []byte
	}
	ScanDone          struct{}
	PeripheralConnect struct {
		Conn uint16
		Addr Address
	}
	PeripheralDisconnect struct {
		Conn uint16
		Addr Address
	}
	ServiceResult struct {
		Conn  uint16
		Start uint16
		End   uint16
		UUID  adv.UUID
	}
	ServiceDone struct {
		Conn   uint16
		Status int
	}
	CharacteristicResult struct {
		Conn        uint16
		DefHandle   uint16
		ValueHandle uint16
		Flags       CharFlags
		UUID        adv.UUID
	}
	CharacteristicDone struct {
		Conn   uint16
		Status int
	}
	ReadResult struct {
		Conn        uint16
		ValueHandle uint16
		Data        []byte
	}
	ReadDone struct {
		Conn        uint16
		ValueHandle uint16
		Status      int
	}
	WriteDone struct {
		Conn        uint16
		ValueHandle uint16
		Status      int
	}
	Notify struct {
		Conn        uint16
		ValueHandle uint16
		Data        []byte
	}
	Indicate struct {
		Conn        uint16
		ValueHandle uint16
		Data        []byte
	}
)

func (CentralConnect) Kind() EventKind       { return KindCentralConnect }
func (CentralDisconnect) Kind() EventKind    { return KindCentralDisconnect }
func (GattsWrite) Kind() EventKind           { return KindGattsWrite }
func (GattsReadRequest) Kind() EventKind     { return KindGattsReadRequest }
func (GattsIndicateDone) Kind() EventKind    { return KindGattsIndicateDone }
func (ScanResult) Kind() EventKind           { return KindScanResult }
func (ScanDone) Kind() EventKind             { return KindScanDone }
func (PeripheralConnect) Kind() EventKind    { return KindPeripheralConnect }
func (PeripheralDisconnect) Kind() EventKind { return KindPeripheralDisconnect }
func (ServiceResult) Kind() EventKind        { return KindServiceResult }
func (ServiceDone) Kind() EventKind          { return KindServiceDone }
func (CharacteristicResult) Kind() EventKind { return KindCharacteristicResult }
func (CharacteristicDone) Kind() EventKind   { return KindCharacteristicDone }
func (ReadResult) Kind() EventKind           { return KindReadResult }
func (ReadDone) Kind() EventKind             { return KindReadDone }
func (WriteDone) Kind() EventKind            { return KindWriteDone }
func (Notify) Kind() EventKind               { return KindNotify }
func (Indicate) Kind() EventKind             { return KindIndicate }

func (CentralConnect) event()       {}
func (CentralDisconnect) event()    {}
func (GattsWrite) event()           {}
func (GattsReadRequest) event()     {}
func (GattsIndicateDone) event()    {}
func (ScanResult) event()           {}
func (ScanDone) event()             {}
func (PeripheralConnect) event()    {}
func (PeripheralDisconnect) event() {}
func (ServiceResult) event()        {}
func (ServiceDone) event()          {}
func (CharacteristicResult) event() {}
func (CharacteristicDone) event()   {}
func (ReadResult) event()           {}
func (ReadDone) event()             {}
func (WriteDone) event()            {}
func (Notify) event()               {}
func (Indicate) event()             {}
