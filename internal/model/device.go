package model

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Position is a 3D coordinate in meters.
type Position struct {
	X, Y, Z float32
}

// Orientation is device attitude in degrees.
type Orientation struct {
	Yaw, Pitch, Roll float32
}

// WirelessChip is the capability set every radio backend exposes.
// Concrete backends live in package chip; model only depends on the
// interface so the registry doesn't need to import backend implementations.
type WirelessChip interface {
	HandleRequest(frame []byte) error
	Reset() error
	Get() (ChipProto, error)
	Patch(patch ChipProto) error
	GetStats(durationSec float64) ([]RadioStats, error)
	Kind() ChipKind
	// Close tears down the backend instance. Called exactly once, when the
	// owning Chip is removed from the registry.
	Close() error
}

// ChipProto mirrors the patchable/observable state of a chip, independent
// of backend kind; fields not relevant to a kind are left at zero values.
type ChipProto struct {
	Kind ChipKind

	// Bluetooth
	LowEnergyEnabled *bool
	ClassicEnabled   *bool

	// Common
	Enabled *bool

	Address         string
	Manufacturer    string
	ProductName     string
	TxCount, RxCount uint32
}

// Chip is one simulated radio on a Device.
type Chip struct {
	ID           ChipId
	DeviceID     DeviceId
	Kind         ChipKind
	Name         string
	Manufacturer string
	ProductName  string
	Address      string
	Properties   map[string]string

	Wireless WirelessChip
}

// Get returns the chip's current observable state, delegating to the
// wireless backend.
func (c *Chip) Get() (ChipProto, error) {
	return c.Wireless.Get()
}

// Device represents one emulator instance.
type Device struct {
	ID         DeviceId
	Guid       string // transport-supplied stable key, typically "host:port"
	Name       string
	Visible    bool
	Position   Position
	Orient     Orientation

	// chips preserves chip insertion order so ListDevices serialization is
	// deterministic across snapshots.
	chips *orderedmap.OrderedMap[ChipId, *Chip]
}

// NewDevice creates an empty, visible Device at the origin.
func NewDevice(id DeviceId, guid, name string) *Device {
	return &Device{
		ID:      id,
		Guid:    guid,
		Name:    name,
		Visible: true,
		chips:   orderedmap.New[ChipId, *Chip](),
	}
}

// AddChip inserts a chip, keyed by its ID. Callers must have already
// checked the (Kind, Name) uniqueness constraint.
func (d *Device) AddChip(c *Chip) {
	d.chips.Set(c.ID, c)
}

// RemoveChip removes a chip by ID, returning it if present.
func (d *Device) RemoveChip(id ChipId) (*Chip, bool) {
	c, ok := d.chips.Get(id)
	if !ok {
		return nil, false
	}
	d.chips.Delete(id)
	return c, true
}

// Chip looks up a chip by ID.
func (d *Device) Chip(id ChipId) (*Chip, bool) {
	return d.chips.Get(id)
}

// FindByKindName returns the chip with the given (Kind, Name), enforcing
// the per-device uniqueness constraint.
func (d *Device) FindByKindName(kind ChipKind, name string) (*Chip, bool) {
	for pair := d.chips.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Kind == kind && pair.Value.Name == name {
			return pair.Value, true
		}
	}
	return nil, false
}

// Chips returns a snapshot slice of chips in insertion order.
func (d *Device) Chips() []*Chip {
	out := make([]*Chip, 0, d.chips.Len())
	for pair := d.chips.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// ChipCount reports how many chips the device currently owns.
func (d *Device) ChipCount() int {
	return d.chips.Len()
}
