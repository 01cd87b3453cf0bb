package chip_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/chip"
	"github.com/google/netsim-packet-core/internal/model"
)

type fakePositionLookup struct {
	positions map[model.DeviceId]model.Position
}

func (f fakePositionLookup) Position(id model.DeviceId) (model.Position, bool) {
	p, ok := f.positions[id]
	return p, ok
}

func (f fakePositionLookup) Orientation(id model.DeviceId) (model.Orientation, bool) {
	return model.Orientation{}, true
}

func newTestUwbManager() *chip.UwbManager {
	backend := chip.NewDefaultPicaBackend()
	lookup := fakePositionLookup{positions: map[model.DeviceId]model.Position{
		1: {X: 0, Y: 0, Z: 0},
		2: {X: 3, Y: 4, Z: 0},
	}}
	return chip.InitUwbManager(backend, lookup, nil)
}

func TestUwbHandleRequestIncrementsTx(t *testing.T) {
	manager := newTestUwbManager()
	u, err := chip.NewUwb(manager, 10, 1, "uwb-addr-1", nil)
	require.NoError(t, err)
	defer u.Close()

	require.NoError(t, u.HandleRequest([]byte{0x20, 0x01, 0x00, 0x00}))
	stats, err := u.GetStats(1.0)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, uint32(1), stats[0].TxCount)
}

// Two chips on devices at (0,0,0) and (3,4,0) range at 5.0 meters.
func TestDefaultPicaEstimateComputesRange(t *testing.T) {
	backend := chip.NewDefaultPicaBackend()
	lookup := fakePositionLookup{positions: map[model.DeviceId]model.Position{
		1: {X: 0, Y: 0, Z: 0},
		2: {X: 3, Y: 4, Z: 0},
	}}
	require.NoError(t, backend.Register(1, 1, nil))
	require.NoError(t, backend.Register(2, 2, nil))

	est, err := backend.Estimate(1, 2, lookup)
	require.NoError(t, err)
	require.InDelta(t, 5.0, est.RangeM, 1e-3)
}

func TestDefaultPicaEstimateUnknownHandleFails(t *testing.T) {
	backend := chip.NewDefaultPicaBackend()
	lookup := fakePositionLookup{}
	_, err := backend.Estimate(1, 2, lookup)
	require.Error(t, err)
}

func TestUwbResetZeroesCounters(t *testing.T) {
	manager := newTestUwbManager()
	u, err := chip.NewUwb(manager, 11, 2, "uwb-addr-2", nil)
	require.NoError(t, err)
	defer u.Close()

	require.NoError(t, u.HandleRequest([]byte{0x20, 0x01, 0x00, 0x00}))
	require.NoError(t, u.Reset())
	stats, err := u.GetStats(1.0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), stats[0].TxCount)
}
