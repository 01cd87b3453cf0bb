// Package model holds the shared data types for the chip/device registry:
// Device, Chip, CaptureInfo and the lifecycle events published between them.
package model

import "fmt"

// ChipKind enumerates the radio kinds a Chip can front.
type ChipKind int

const (
	ChipKindUnspecified ChipKind = iota
	ChipKindBluetooth
	ChipKindWifi
	ChipKindUwb
	ChipKindBluetoothBeacon
)

func (k ChipKind) String() string {
	switch k {
	case ChipKindBluetooth:
		return "BLUETOOTH"
	case ChipKindWifi:
		return "WIFI"
	case ChipKindUwb:
		return "UWB"
	case ChipKindBluetoothBeacon:
		return "BLUETOOTH_BEACON"
	default:
		return "UNSPECIFIED"
	}
}

// PacketType is the H4-convention type byte prepended to Bluetooth frames
// as they cross the dispatcher; UNSPECIFIED means "no type byte, deliver
// frame bytes unmodified" (used by Wi-Fi, UWB and generic payloads).
type PacketType uint8

const (
	PacketTypeUnspecified PacketType = 0
	PacketTypeCommand     PacketType = 1
	PacketTypeACLData     PacketType = 2
	PacketTypeSCOData     PacketType = 3
	PacketTypeEvent       PacketType = 4
	PacketTypeISO         PacketType = 5
)

// DeviceId, ChipId, FacadeId are opaque monotonic identifiers, each minted
// from its own id.Factory.
type (
	DeviceId uint32
	ChipId   uint32
	FacadeId uint32
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventDeviceAdded EventKind = iota
	EventDeviceRemoved
	EventDevicePatched
	EventChipAdded
	EventChipRemoved
	EventShutDown
)

// RadioStats is one radio-stats record as produced by WirelessChip.GetStats.
type RadioStats struct {
	Kind        ChipKind
	DurationSec float64
	TxCount     uint32
	RxCount     uint32
	// InvalidPackets is only populated for Bluetooth.
	InvalidPackets []InvalidPacket
}

// InvalidPacket is one entry in a Bluetooth backend's bounded invalid-packet
// ring (5 per RootcanalId).
type InvalidPacket struct {
	Reason      string
	Description string
	Packet      []byte
}

// Event is the tagged message published on the EventBus. Exactly one of the
// kind-specific fields is meaningful for a given Kind, selected by Kind.
type Event struct {
	Kind EventKind

	// DeviceAdded / DeviceRemoved / DevicePatched
	DeviceID   DeviceId
	DeviceName string
	Remaining  int // DeviceRemoved: remaining devices in registry

	// ChipAdded
	ChipID   ChipId
	ChipKind ChipKind
	FacadeID FacadeId

	// ChipRemoved
	RadioStats []RadioStats

	// ShutDown
	Reason string
}

func (e Event) String() string {
	switch e.Kind {
	case EventDeviceAdded:
		return fmt.Sprintf("DeviceAdded{id=%d name=%q}", e.DeviceID, e.DeviceName)
	case EventDeviceRemoved:
		return fmt.Sprintf("DeviceRemoved{id=%d name=%q remaining=%d}", e.DeviceID, e.DeviceName, e.Remaining)
	case EventDevicePatched:
		return fmt.Sprintf("DevicePatched{id=%d name=%q}", e.DeviceID, e.DeviceName)
	case EventChipAdded:
		return fmt.Sprintf("ChipAdded{chip=%d kind=%s facade=%d device=%q}", e.ChipID, e.ChipKind, e.FacadeID, e.DeviceName)
	case EventChipRemoved:
		return fmt.Sprintf("ChipRemoved{chip=%d device=%d remaining=%d}", e.ChipID, e.DeviceID, e.Remaining)
	case EventShutDown:
		return fmt.Sprintf("ShutDown{reason=%q}", e.Reason)
	default:
		return "Event{?}"
	}
}
