// Package registry implements the Device/Chip registry: owns every
// Device, each owning Chips, each owning one WirelessChip; enforces the
// (ChipKind, name) uniqueness invariant and drives the registry-lifecycle
// events other components subscribe to.
package registry

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/chip"
	"github.com/google/netsim-packet-core/internal/eventbus"
	"github.com/google/netsim-packet-core/internal/id"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/neterr"
)

// AddChipParams is the full input to AddChip: the device it belongs to
// (located or created by Guid) plus the new chip's identity and backend
// construction parameters.
type AddChipParams struct {
	DeviceGuid string
	DeviceName string

	Kind         model.ChipKind
	ChipName     string // defaults to Address if empty
	Manufacturer string
	ProductName  string
	Address      string
	Properties   map[string]string
	Beacon       chip.BeaconParams // only meaningful when Kind == ChipKindBluetoothBeacon
}

// AddChipResult is returned on successful chip creation.
type AddChipResult struct {
	DeviceID model.DeviceId
	ChipID   model.ChipId
	FacadeID model.FacadeId
}

// ChipPatch targets one chip within a PatchDevice call, located by
// (Kind, Name) within the device.
type ChipPatch struct {
	Kind  model.ChipKind
	Name  string
	Proto model.ChipProto
}

// DevicePatch is the partial update applied by PatchDevice; nil fields are
// left untouched.
type DevicePatch struct {
	Visible *bool
	Position *model.Position
	Orient   *model.Orientation
	Chips    []ChipPatch
}

// ChipSnapshot is one chip's observable state as returned by ListDevices.
type ChipSnapshot struct {
	ID    model.ChipId
	Proto model.ChipProto
}

// DeviceSnapshot is one device's observable state as returned by
// ListDevices.
type DeviceSnapshot struct {
	ID       model.DeviceId
	Name     string
	Visible  bool
	Position model.Position
	Orient   model.Orientation
	Chips    []ChipSnapshot
}

// Registry is the process-wide Device/Chip registry singleton.
type Registry struct {
	mu        sync.RWMutex
	devices   map[model.DeviceId]*model.Device
	guidIndex map[string]model.DeviceId

	deviceIDs *id.Factory[model.DeviceId]
	chipIDs   *id.Factory[model.ChipId]
	facadeIDs *id.Factory[model.FacadeId]

	bus      *eventbus.Bus
	backends Backends
	logger   *logrus.Logger

	// idleSinceNano is 0 while at least one device exists; otherwise it
	// holds the UnixNano instant the device set became empty, for the
	// inactivity supervisor to compare against.
	idleSinceNano atomic.Int64
}

// New creates an empty Registry. backends constructs the WirelessChip for
// each AddChip call; bus receives lifecycle events.
func New(bus *eventbus.Bus, backends Backends, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		devices:   make(map[model.DeviceId]*model.Device),
		guidIndex: make(map[string]model.DeviceId),
		deviceIDs: id.New[model.DeviceId](1, 1),
		chipIDs:   id.New[model.ChipId](1, 1),
		facadeIDs: id.New[model.FacadeId](1, 1),
		bus:       bus,
		backends:  backends,
		logger:    logger,
	}
	// No devices at startup: idle from the first instant.
	r.idleSinceNano.Store(time.Now().UnixNano())
	return r
}

// resetIdle clears the idle timer, called on every AddChip.
func (r *Registry) resetIdle() {
	r.idleSinceNano.Store(0)
}

// IdleSince reports the instant the device set became empty, if it is
// currently empty.
func (r *Registry) IdleSince() (time.Time, bool) {
	nano := r.idleSinceNano.Load()
	if nano == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nano), true
}

// AddChip locates or creates the device with the given Guid, enforces the
// per-device (Kind, name) uniqueness constraint, builds the backend, and
// inserts the new chip.
func (r *Registry) AddChip(publisher ResponsePublisher, p AddChipParams) (AddChipResult, error) {
	r.resetIdle()

	r.mu.Lock()
	defer r.mu.Unlock()

	dev, existed := r.findDeviceLocked(p.DeviceGuid)
	if !existed {
		devID := r.deviceIDs.Next()
		dev = model.NewDevice(devID, p.DeviceGuid, p.DeviceName)
		r.devices[devID] = dev
		r.guidIndex[p.DeviceGuid] = devID
		r.publish(model.Event{Kind: model.EventDeviceAdded, DeviceID: devID, DeviceName: p.DeviceName})
	}

	name := p.ChipName
	if name == "" {
		name = p.Address
	}
	if _, dup := dev.FindByKindName(p.Kind, name); dup {
		return AddChipResult{}, fmt.Errorf("%w: device %d already has a %s chip named %q", neterr.DuplicateChip, dev.ID, p.Kind, name)
	}

	chipID := r.chipIDs.Next()
	facadeID := r.facadeIDs.Next()

	params := ChipParams{
		Kind:         p.Kind,
		Address:      p.Address,
		Manufacturer: p.Manufacturer,
		ProductName:  p.ProductName,
		Properties:   p.Properties,
		Beacon:       p.Beacon,
	}
	wireless, err := r.backends.New(chipID, dev.ID, params, publisher)
	if err != nil {
		return AddChipResult{}, fmt.Errorf("%w: %v", neterr.BackendFailure, err)
	}

	c := &model.Chip{
		ID:           chipID,
		DeviceID:     dev.ID,
		Kind:         p.Kind,
		Name:         name,
		Manufacturer: p.Manufacturer,
		ProductName:  p.ProductName,
		Address:      p.Address,
		Properties:   p.Properties,
		Wireless:     wireless,
	}
	dev.AddChip(c)

	r.publish(model.Event{
		Kind:       model.EventChipAdded,
		ChipID:     chipID,
		ChipKind:   p.Kind,
		FacadeID:   facadeID,
		DeviceName: dev.Name,
	})

	return AddChipResult{DeviceID: dev.ID, ChipID: chipID, FacadeID: facadeID}, nil
}

// RemoveChip collects final radio stats, tears down the chip's backend, and
// drops the device once its last chip is gone. An unknown device or chip is
// a logged warning, not an error.
func (r *Registry) RemoveChip(deviceID model.DeviceId, chipID model.ChipId) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[deviceID]
	if !ok {
		r.logger.WithField("device_id", deviceID).Warn("registry: remove_chip for unknown device")
		return nil
	}

	c, ok := dev.Chip(chipID)
	if !ok {
		r.logger.WithFields(logrus.Fields{"device_id": deviceID, "chip_id": chipID}).Warn("registry: remove_chip for unknown chip")
		return nil
	}

	stats, err := c.Wireless.GetStats(0)
	if err != nil {
		r.logger.WithError(err).WithField("chip_id", chipID).Warn("registry: get_stats failed during remove_chip")
	}

	dev.RemoveChip(chipID)
	if err := c.Wireless.Close(); err != nil {
		r.logger.WithError(err).WithField("chip_id", chipID).Warn("registry: backend teardown failed")
	}

	remainingDevices := len(r.devices)
	if dev.ChipCount() == 0 {
		delete(r.devices, deviceID)
		delete(r.guidIndex, dev.Guid)
		remainingDevices = len(r.devices)
		r.publish(model.Event{Kind: model.EventDeviceRemoved, DeviceID: deviceID, DeviceName: dev.Name, Remaining: remainingDevices})
	}

	r.publish(model.Event{
		Kind:       model.EventChipRemoved,
		ChipID:     chipID,
		DeviceID:   deviceID,
		RadioStats: stats,
		Remaining:  remainingDevices,
	})

	if remainingDevices == 0 {
		r.idleSinceNano.Store(time.Now().UnixNano())
	}
	return nil
}

// PatchDevice merges visibility, position, orientation and per-chip state
// into one device; only the fields present in patch are touched.
func (r *Registry) PatchDevice(deviceID model.DeviceId, patch DevicePatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[deviceID]
	if !ok {
		return neterr.NotFound
	}

	if patch.Visible != nil {
		dev.Visible = *patch.Visible
	}
	if patch.Position != nil {
		dev.Position = *patch.Position
	}
	if patch.Orient != nil {
		dev.Orient = *patch.Orient
	}
	for _, cp := range patch.Chips {
		c, ok := dev.FindByKindName(cp.Kind, cp.Name)
		if !ok {
			r.logger.WithFields(logrus.Fields{"device_id": deviceID, "kind": cp.Kind, "name": cp.Name}).Warn("registry: patch_device targets unknown chip")
			continue
		}
		if err := c.Wireless.Patch(cp.Proto); err != nil {
			return fmt.Errorf("%w: %v", neterr.BackendFailure, err)
		}
	}

	r.publish(model.Event{Kind: model.EventDevicePatched, DeviceID: deviceID, DeviceName: dev.Name})
	return nil
}

// ResetAll resets every chip's backend and restores every device's default
// position, orientation and visibility.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dev := range r.devices {
		for _, c := range dev.Chips() {
			if err := c.Wireless.Reset(); err != nil {
				r.logger.WithError(err).WithField("chip_id", c.ID).Warn("registry: reset failed")
			}
		}
		dev.Position = model.Position{}
		dev.Orient = model.Orientation{}
		dev.Visible = true
	}
}

// ListDevices snapshots every device and its chips' current observable
// state under the read lock.
func (r *Registry) ListDevices() ([]DeviceSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceSnapshot, 0, len(r.devices))
	for _, dev := range r.devices {
		snap := DeviceSnapshot{
			ID:       dev.ID,
			Name:     dev.Name,
			Visible:  dev.Visible,
			Position: dev.Position,
			Orient:   dev.Orient,
		}
		for _, c := range dev.Chips() {
			proto, err := c.Wireless.Get()
			if err != nil {
				return nil, fmt.Errorf("registry: get chip %d: %w", c.ID, err)
			}
			snap.Chips = append(snap.Chips, ChipSnapshot{ID: c.ID, Proto: proto})
		}
		out = append(out, snap)
	}
	return out, nil
}

// GetDistance returns the Euclidean distance in meters between two
// devices' positions.
func (r *Registry) GetDistance(a, b model.DeviceId) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	da, ok := r.devices[a]
	if !ok {
		return 0, neterr.NotFound
	}
	db, ok := r.devices[b]
	if !ok {
		return 0, neterr.NotFound
	}

	dx := float64(da.Position.X - db.Position.X)
	dy := float64(da.Position.Y - db.Position.Y)
	dz := float64(da.Position.Z - db.Position.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz), nil
}

// Position implements chip.PositionLookup for the UWB ranging estimator.
func (r *Registry) Position(deviceID model.DeviceId) (model.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[deviceID]
	if !ok {
		return model.Position{}, false
	}
	return dev.Position, true
}

// Orientation implements chip.PositionLookup for the UWB ranging estimator.
func (r *Registry) Orientation(deviceID model.DeviceId) (model.Orientation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[deviceID]
	if !ok {
		return model.Orientation{}, false
	}
	return dev.Orient, true
}

// ChipByID looks up a chip across every device, for the dispatcher's
// handle_request path.
func (r *Registry) ChipByID(chipID model.ChipId) (*model.Chip, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dev := range r.devices {
		if c, ok := dev.Chip(chipID); ok {
			return c, true
		}
	}
	return nil, false
}

func (r *Registry) findDeviceLocked(guid string) (*model.Device, bool) {
	devID, ok := r.guidIndex[guid]
	if !ok {
		return nil, false
	}
	return r.devices[devID], true
}

func (r *Registry) publish(ev model.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}
