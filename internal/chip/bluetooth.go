// Package chip implements the WirelessChip backends: Bluetooth,
// Wi-Fi, UWB, BleBeacon and Mock. Each backend fronts an external radio
// emulation core; this package specifies only the contract the core must
// satisfy (RootcanalBackend, WifiMedium, PicaBackend) and a small default
// implementation suitable for tests and for running without the real
// native core attached.
package chip

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/model"
)

// RootcanalId identifies a device registered with the Bluetooth backend.
type RootcanalId uint32

// invalidPacketRingSize is the bounded ring capacity per RootcanalId:
// 5 reports.
const invalidPacketRingSize = 5

// RootcanalBackend is the contract the external Bluetooth controller
// simulator must satisfy. Add/Remove/AddToPhy/RemoveFromPhy calls are
// always made holding bluetoothBackendMu, so implementations do not need
// their own locking for those four calls, but HandleRequest may be called
// concurrently with anything and must be reentrant.
type RootcanalBackend interface {
	// Add registers a device and returns its RootcanalId. respond is
	// invoked (possibly from another goroutine) whenever the backend has a
	// packet to deliver back to the host.
	Add(address string, properties map[string]string, respond func(frame []byte)) (RootcanalId, error)
	Remove(id RootcanalId) error
	AddDeviceToPhy(id RootcanalId, lowEnergy bool) error
	RemoveDeviceFromPhy(id RootcanalId, lowEnergy bool) error
	HandleRequest(id RootcanalId, frame []byte) error
}

// bluetoothBackendMu is the single process-wide mutex protecting the
// backend's id table across all Bluetooth chips.
var bluetoothBackendMu sync.Mutex

// Bluetooth wraps one registration with the external Bluetooth backend.
type Bluetooth struct {
	backend RootcanalBackend
	id      RootcanalId
	address string

	manufacturer string
	productName  string

	lowEnergyEnabled atomic.Bool
	classicEnabled   atomic.Bool

	txCount atomic.Uint32
	rxCount atomic.Uint32

	invalid mpmc.RichOverlappedRingBuffer[model.InvalidPacket]

	responder func(frame []byte)

	logger *logrus.Logger
}

// NewBluetooth registers address with backend and enables both LE and
// Classic phys, mirroring the add_chip + reset default state.
func NewBluetooth(backend RootcanalBackend, address, manufacturer, productName string, properties map[string]string, logger *logrus.Logger) (*Bluetooth, error) {
	if logger == nil {
		logger = logrus.New()
	}

	b := &Bluetooth{
		backend:      backend,
		address:      address,
		manufacturer: manufacturer,
		productName:  productName,
		invalid:      mpmc.NewOverlappedRingBuffer[model.InvalidPacket](invalidPacketRingSize),
		logger:       logger,
	}

	bluetoothBackendMu.Lock()
	rcID, err := backend.Add(address, properties, b.onBackendResponse)
	bluetoothBackendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("bluetooth: backend add failed: %w", err)
	}
	b.id = rcID

	if err := b.setPhy(true, true); err != nil {
		bluetoothBackendMu.Lock()
		_ = backend.Remove(rcID)
		bluetoothBackendMu.Unlock()
		return nil, err
	}
	if err := b.setPhy(false, true); err != nil {
		bluetoothBackendMu.Lock()
		_ = backend.Remove(rcID)
		bluetoothBackendMu.Unlock()
		return nil, err
	}
	return b, nil
}

func (b *Bluetooth) onBackendResponse(frame []byte) {
	b.rxCount.Add(1)
	// The dispatcher owns actual delivery; a chip-level response callback
	// is wired in by the registry at construction time via SetResponder.
	if b.responder != nil {
		b.responder(frame)
	}
}

// SetResponder installs the callback used to deliver backend-originated
// frames to the dispatcher. Must be called once, right after construction.
func (b *Bluetooth) SetResponder(f func(frame []byte)) {
	b.responder = f
}

// setPhy toggles one phy (LE if lowEnergy, Classic otherwise) on or off,
// updating the corresponding flag and calling the backend under the
// process-wide mutex. Simultaneous LE+Classic patches are applied
// as two independent calls; this is intentional and must not be coalesced.
func (b *Bluetooth) setPhy(lowEnergy, enabled bool) error {
	bluetoothBackendMu.Lock()
	defer bluetoothBackendMu.Unlock()

	var err error
	if enabled {
		err = b.backend.AddDeviceToPhy(b.id, lowEnergy)
	} else {
		err = b.backend.RemoveDeviceFromPhy(b.id, lowEnergy)
	}
	if err != nil {
		return fmt.Errorf("bluetooth: phy toggle failed: %w", err)
	}

	if lowEnergy {
		b.lowEnergyEnabled.Store(enabled)
	} else {
		b.classicEnabled.Store(enabled)
	}
	return nil
}

// HandleRequest forwards a controller-bound H4 frame to the backend.
func (b *Bluetooth) HandleRequest(frame []byte) error {
	b.txCount.Add(1)
	if err := b.backend.HandleRequest(b.id, frame); err != nil {
		b.recordInvalid("backend-rejected", err.Error(), frame)
		return err
	}
	return nil
}

func (b *Bluetooth) recordInvalid(reason, description string, packet []byte) {
	cp := append([]byte(nil), packet...)
	if _, err := b.invalid.EnqueueM(model.InvalidPacket{Reason: reason, Description: description, Packet: cp}); err != nil {
		b.logger.WithError(err).Warn("bluetooth: failed to record invalid packet")
	}
}

// Reset restores default enabled state, zeroes counters, and re-adds both
// phys.
func (b *Bluetooth) Reset() error {
	b.txCount.Store(0)
	b.rxCount.Store(0)
	if err := b.setPhy(true, true); err != nil {
		return err
	}
	return b.setPhy(false, true)
}

// Get returns a snapshot of current Bluetooth chip state.
func (b *Bluetooth) Get() (model.ChipProto, error) {
	le := b.lowEnergyEnabled.Load()
	cl := b.classicEnabled.Load()
	return model.ChipProto{
		Kind:             model.ChipKindBluetooth,
		LowEnergyEnabled: &le,
		ClassicEnabled:   &cl,
		Address:          b.address,
		Manufacturer:     b.manufacturer,
		ProductName:      b.productName,
		TxCount:          b.txCount.Load(),
		RxCount:          b.rxCount.Load(),
	}, nil
}

// Patch applies only the fields present in patch; LE and Classic toggles
// are handled independently.
func (b *Bluetooth) Patch(patch model.ChipProto) error {
	if patch.Kind != model.ChipKindBluetooth && patch.Kind != model.ChipKindUnspecified {
		return nil // no-op: patch targets a different kind
	}
	if patch.LowEnergyEnabled != nil && *patch.LowEnergyEnabled != b.lowEnergyEnabled.Load() {
		if err := b.setPhy(true, *patch.LowEnergyEnabled); err != nil {
			return err
		}
	}
	if patch.ClassicEnabled != nil && *patch.ClassicEnabled != b.classicEnabled.Load() {
		if err := b.setPhy(false, *patch.ClassicEnabled); err != nil {
			return err
		}
	}
	return nil
}

// GetStats returns two records, BLE and Classic. Only the first record
// carries the shared invalid-packet ring contents; the second has none.
func (b *Bluetooth) GetStats(durationSec float64) ([]model.RadioStats, error) {
	invalid := b.drainInvalid()
	return []model.RadioStats{
		{Kind: model.ChipKindBluetooth, DurationSec: durationSec, TxCount: b.txCount.Load(), RxCount: b.rxCount.Load(), InvalidPackets: invalid},
		{Kind: model.ChipKindBluetooth, DurationSec: durationSec, TxCount: b.txCount.Load(), RxCount: b.rxCount.Load(), InvalidPackets: nil},
	}, nil
}

func (b *Bluetooth) drainInvalid() []model.InvalidPacket {
	var out []model.InvalidPacket
	for !b.invalid.IsEmpty() {
		v, err := b.invalid.Dequeue()
		if err != nil {
			break
		}
		out = append(out, v)
	}
	// Put them back so get_stats is idempotent between calls (the ring is
	// a reporting window, not a consume-once queue).
	for _, v := range out {
		_, _ = b.invalid.EnqueueM(v)
	}
	return out
}

// Kind identifies this backend as Bluetooth.
func (b *Bluetooth) Kind() model.ChipKind { return model.ChipKindBluetooth }

// Close tears down the backend registration under the process-wide mutex.
func (b *Bluetooth) Close() error {
	bluetoothBackendMu.Lock()
	defer bluetoothBackendMu.Unlock()
	return b.backend.Remove(b.id)
}
