package chip

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/groutine"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/ranging"
)

// PicaHandle identifies one chip's registration with the ranging engine.
type PicaHandle uint32

// PositionLookup resolves the live position/orientation of the two devices
// the ranging estimator needs; the registry implements it without UWB
// needing to import the registry package directly.
type PositionLookup interface {
	Position(device model.DeviceId) (model.Position, bool)
	Orientation(device model.DeviceId) (model.Orientation, bool)
}

// RangingEstimate is the result Pica computes for one UWB session.
type RangingEstimate struct {
	RangeM        float32
	AzimuthDeg    float32
	ElevationDeg  float32
	RSSI          int8
}

// PicaBackend is the contract the external UWB ranging engine must satisfy.
type PicaBackend interface {
	Register(id PicaHandle, device model.DeviceId, drain func(frame []byte)) error
	Unregister(id PicaHandle) error
	// HandleRequest forwards a UCI packet into Pica's per-chip stream.
	HandleRequest(id PicaHandle, frame []byte) error
	// Estimate asks the engine to compute a RangingEstimate between two
	// registered handles, given positions resolved by lookup.
	Estimate(a, b PicaHandle, lookup PositionLookup) (RangingEstimate, error)
}

// UwbManager owns the single process-wide Pica instance and the chip
// registrations drawn from it.
type UwbManager struct {
	backend PicaBackend
	lookup  PositionLookup
	logger  *logrus.Logger

	mu     sync.Mutex
	nextID PicaHandle
}

var (
	uwbManagerOnce sync.Once
	uwbManager     *UwbManager
)

// InitUwbManager installs the process-wide UwbManager. Subsequent calls
// are no-ops, matching the single-runtime-instance contract.
func InitUwbManager(backend PicaBackend, lookup PositionLookup, logger *logrus.Logger) *UwbManager {
	uwbManagerOnce.Do(func() {
		if logger == nil {
			logger = logrus.New()
		}
		uwbManager = &UwbManager{backend: backend, lookup: lookup, logger: logger, nextID: 1}
	})
	return uwbManager
}

// CurrentUwbManager returns the installed singleton, or nil if
// InitUwbManager has not been called.
func CurrentUwbManager() *UwbManager { return uwbManager }

func (m *UwbManager) allocate() PicaHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	return id
}

// Uwb is one chip's binding to the shared Pica instance. Backend-originated
// bytes reach the dispatcher through the drain callback registered with
// the backend; the chip's named goroutine only closes done once its
// context is cancelled.
type Uwb struct {
	manager *UwbManager
	handle  PicaHandle
	device  model.DeviceId
	address string

	enabled atomic.Bool
	tx, rx  atomic.Uint32

	cancel context.CancelFunc
	done   chan struct{}
}

// NewUwb registers with the shared Pica instance, passing a drain callback
// that counts and delivers Pica-emitted bytes via responder, and starts a
// per-chip goroutine that waits for cancellation and then closes done.
func NewUwb(manager *UwbManager, chipID model.ChipId, deviceID model.DeviceId, address string, responder func(frame []byte)) (*Uwb, error) {
	if manager == nil {
		return nil, fmt.Errorf("uwb: no UwbManager installed")
	}
	u := &Uwb{manager: manager, device: deviceID, address: address, done: make(chan struct{})}
	u.enabled.Store(true)
	u.handle = manager.allocate()

	drain := func(frame []byte) {
		u.rx.Add(1)
		if responder != nil {
			responder(frame)
		}
	}
	if err := manager.backend.Register(u.handle, deviceID, drain); err != nil {
		return nil, fmt.Errorf("uwb: pica register failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	groutine.Go(ctx, fmt.Sprintf("uwb_drain_%d", chipID), func(ctx context.Context) {
		defer close(u.done)
		<-ctx.Done()
	})
	return u, nil
}

func (u *Uwb) HandleRequest(frame []byte) error {
	u.tx.Add(1)
	return u.manager.backend.HandleRequest(u.handle, frame)
}

func (u *Uwb) Reset() error {
	u.tx.Store(0)
	u.rx.Store(0)
	u.enabled.Store(true)
	return nil
}

func (u *Uwb) Get() (model.ChipProto, error) {
	enabled := u.enabled.Load()
	return model.ChipProto{Kind: model.ChipKindUwb, Enabled: &enabled, Address: u.address, TxCount: u.tx.Load(), RxCount: u.rx.Load()}, nil
}

func (u *Uwb) Patch(patch model.ChipProto) error {
	if patch.Kind != model.ChipKindUwb && patch.Kind != model.ChipKindUnspecified {
		return nil
	}
	if patch.Enabled != nil {
		u.enabled.Store(*patch.Enabled)
	}
	return nil
}

func (u *Uwb) GetStats(durationSec float64) ([]model.RadioStats, error) {
	return []model.RadioStats{{Kind: model.ChipKindUwb, DurationSec: durationSec, TxCount: u.tx.Load(), RxCount: u.rx.Load()}}, nil
}

func (u *Uwb) Kind() model.ChipKind { return model.ChipKindUwb }

func (u *Uwb) Close() error {
	u.cancel()
	<-u.done
	return u.manager.backend.Unregister(u.handle)
}

// EstimateRanging wraps ranging.DistanceToRSSI for consumers that only have
// a Euclidean distance and a tx power, outside of a full Pica Estimate call.
func EstimateRanging(txPowerDbm int8, distanceM float32) int8 {
	return ranging.DistanceToRSSI(txPowerDbm, distanceM)
}
