package chip

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/netsim-packet-core/internal/model"
)

// DefaultPicaBackend is a minimal in-process stand-in for the real Pica
// ranging engine: it accepts registrations and UCI bytes, and computes
// RangingEstimate using only the ranging helper against positions supplied
// by the caller's PositionLookup, with azimuth/elevation left at zero since
// a full angle-of-arrival model is outside what this stand-in attempts.
type DefaultPicaBackend struct {
	mu       sync.Mutex
	sessions map[PicaHandle]*picaSession
}

type picaSession struct {
	device model.DeviceId
	drain  func(frame []byte)
}

// NewDefaultPicaBackend creates an empty backend.
func NewDefaultPicaBackend() *DefaultPicaBackend {
	return &DefaultPicaBackend{sessions: make(map[PicaHandle]*picaSession)}
}

func (d *DefaultPicaBackend) Register(id PicaHandle, device model.DeviceId, drain func(frame []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[id] = &picaSession{device: device, drain: drain}
	return nil
}

func (d *DefaultPicaBackend) Unregister(id PicaHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[id]; !ok {
		return fmt.Errorf("pica: unknown handle %d", id)
	}
	delete(d.sessions, id)
	return nil
}

// HandleRequest has no protocol to interpret in this stand-in; it accepts
// the bytes and otherwise does nothing, since a real engine would parse the
// UCI ranging-control messages and schedule sessions.
func (d *DefaultPicaBackend) HandleRequest(id PicaHandle, frame []byte) error {
	d.mu.Lock()
	_, ok := d.sessions[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("pica: unknown handle %d", id)
	}
	return nil
}

func (d *DefaultPicaBackend) Estimate(a, b PicaHandle, lookup PositionLookup) (RangingEstimate, error) {
	d.mu.Lock()
	sa, ok1 := d.sessions[a]
	sb, ok2 := d.sessions[b]
	d.mu.Unlock()
	if !ok1 || !ok2 {
		return RangingEstimate{}, fmt.Errorf("pica: unknown handle pair (%d, %d)", a, b)
	}

	pa, ok := lookup.Position(sa.device)
	if !ok {
		return RangingEstimate{}, fmt.Errorf("pica: no position for device %d", sa.device)
	}
	pb, ok := lookup.Position(sb.device)
	if !ok {
		return RangingEstimate{}, fmt.Errorf("pica: no position for device %d", sb.device)
	}

	dx, dy, dz := pa.X-pb.X, pa.Y-pb.Y, pa.Z-pb.Z
	distSq := dx*dx + dy*dy + dz*dz
	dist := float32(math.Sqrt(float64(distSq)))

	const defaultTxPowerDbm = -15
	return RangingEstimate{
		RangeM: dist,
		RSSI:   EstimateRanging(defaultTxPowerDbm, dist),
	}, nil
}
