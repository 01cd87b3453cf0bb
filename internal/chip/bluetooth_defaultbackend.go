package chip

import (
	"fmt"
	"sync"

	"github.com/google/netsim-packet-core/internal/framing/h4"
	"github.com/google/netsim-packet-core/internal/model"
)

// hciResetOpcodeLo, hciResetOpcodeHi identify OGF=0x03 (Host Control),
// OCF=0x0003 (Reset) in little-endian order, as they appear in an H4
// Command preamble.
const (
	hciResetOpcodeLo = 0x03
	hciResetOpcodeHi = 0x0c
)

// DefaultRootcanalBackend is a minimal in-process stand-in for the real
// Rootcanal controller simulator, sufficient to drive the daemon without
// the native core attached: it replies to HCI_Reset with a matching
// Command Complete event and otherwise accepts commands silently. Tests
// and local development wire this in; a production deployment replaces it
// with a real RootcanalBackend implementation that talks to the external
// process.
type DefaultRootcanalBackend struct {
	mu       sync.Mutex
	nextID   RootcanalId
	devices  map[RootcanalId]*rootcanalDevice
}

type rootcanalDevice struct {
	address    string
	properties map[string]string
	respond    func(frame []byte)
	lePhy      bool
	classicPhy bool
}

// NewDefaultRootcanalBackend creates an empty backend.
func NewDefaultRootcanalBackend() *DefaultRootcanalBackend {
	return &DefaultRootcanalBackend{devices: make(map[RootcanalId]*rootcanalDevice), nextID: 1}
}

func (d *DefaultRootcanalBackend) Add(address string, properties map[string]string, respond func(frame []byte)) (RootcanalId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.devices[id] = &rootcanalDevice{address: address, properties: properties, respond: respond}
	return id, nil
}

func (d *DefaultRootcanalBackend) Remove(id RootcanalId) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.devices[id]; !ok {
		return fmt.Errorf("rootcanal: unknown device %d", id)
	}
	delete(d.devices, id)
	return nil
}

func (d *DefaultRootcanalBackend) AddDeviceToPhy(id RootcanalId, lowEnergy bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return fmt.Errorf("rootcanal: unknown device %d", id)
	}
	if lowEnergy {
		dev.lePhy = true
	} else {
		dev.classicPhy = true
	}
	return nil
}

func (d *DefaultRootcanalBackend) RemoveDeviceFromPhy(id RootcanalId, lowEnergy bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return fmt.Errorf("rootcanal: unknown device %d", id)
	}
	if lowEnergy {
		dev.lePhy = false
	} else {
		dev.classicPhy = false
	}
	return nil
}

// HandleRequest accepts one H4 command. HCI_Reset gets a synthetic Command
// Complete event; everything else is accepted silently,
// which is sufficient for exercising the routing and capture paths without
// a real controller attached.
func (d *DefaultRootcanalBackend) HandleRequest(id RootcanalId, frame []byte) error {
	d.mu.Lock()
	dev, ok := d.devices[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("rootcanal: unknown device %d", id)
	}

	f, _, err := h4.Parse(frame)
	if err != nil {
		return fmt.Errorf("rootcanal: %w", err)
	}
	if f.Type != model.PacketTypeCommand {
		return nil
	}
	if len(f.Preamble) >= 2 && f.Preamble[0] == hciResetOpcodeLo && f.Preamble[1] == hciResetOpcodeHi {
		evt := h4.Frame{
			Type:     model.PacketTypeEvent,
			Preamble: []byte{0x0e, 0x04}, // Command Complete, 4-byte payload
			Payload:  []byte{0x01, hciResetOpcodeLo, hciResetOpcodeHi, 0x00},
		}
		if dev.respond != nil {
			dev.respond(evt.Bytes())
		}
	}
	return nil
}
