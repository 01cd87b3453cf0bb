package registry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/chip"
	"github.com/google/netsim-packet-core/internal/eventbus"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/neterr"
	"github.com/google/netsim-packet-core/internal/registry"
)

type stubPublisher struct{}

func (stubPublisher) HandleResponse(model.ChipId, []byte, model.PacketType) error { return nil }

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	bus := eventbus.New(logger)
	backends := &registry.DefaultBackends{Logger: logger}
	return registry.New(bus, backends, logger)
}

func addMockChip(t *testing.T, r *registry.Registry, guid, name string) registry.AddChipResult {
	t.Helper()
	res, err := r.AddChip(stubPublisher{}, registry.AddChipParams{
		DeviceGuid: guid,
		DeviceName: guid,
		Kind:       model.ChipKindUnspecified,
		ChipName:   name,
		Address:    name,
	})
	require.NoError(t, err)
	return res
}

func TestAddChipCreatesDeviceAndChip(t *testing.T) {
	r := newTestRegistry(t)
	res := addMockChip(t, r, "dev-1", "chip-a")
	require.NotZero(t, res.DeviceID)
	require.NotZero(t, res.ChipID)

	devices, err := r.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Len(t, devices[0].Chips, 1)
}

// A (kind, name) pair already present on a device is rejected.
func TestAddChipRejectsDuplicateKindName(t *testing.T) {
	r := newTestRegistry(t)
	addMockChip(t, r, "dev-1", "chip-a")

	_, err := r.AddChip(stubPublisher{}, registry.AddChipParams{
		DeviceGuid: "dev-1",
		DeviceName: "dev-1",
		Kind:       model.ChipKindUnspecified,
		ChipName:   "chip-a",
		Address:    "chip-a",
	})
	require.ErrorIs(t, err, neterr.DuplicateChip)
}

func TestAddChipReusesExistingDeviceByGuid(t *testing.T) {
	r := newTestRegistry(t)
	first := addMockChip(t, r, "dev-1", "chip-a")
	second := addMockChip(t, r, "dev-1", "chip-b")
	require.Equal(t, first.DeviceID, second.DeviceID)
}

func TestRemoveChipDeletesEmptyDevice(t *testing.T) {
	r := newTestRegistry(t)
	res := addMockChip(t, r, "dev-1", "chip-a")

	require.NoError(t, r.RemoveChip(res.DeviceID, res.ChipID))

	devices, err := r.ListDevices()
	require.NoError(t, err)
	require.Empty(t, devices)
}

// Unknown device/chip ids are a logged warning, not an error.
func TestRemoveChipUnknownIsNotAnError(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.RemoveChip(model.DeviceId(999), model.ChipId(999)))

	res := addMockChip(t, r, "dev-1", "chip-a")
	require.NoError(t, r.RemoveChip(res.DeviceID, model.ChipId(999)))
}

func TestPatchDeviceUnknownDeviceReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	err := r.PatchDevice(model.DeviceId(999), registry.DevicePatch{})
	require.True(t, errors.Is(err, neterr.NotFound))
}

func TestPatchDeviceAppliesVisibleAndPosition(t *testing.T) {
	r := newTestRegistry(t)
	res := addMockChip(t, r, "dev-1", "chip-a")

	visible := false
	pos := model.Position{X: 1, Y: 2, Z: 3}
	err := r.PatchDevice(res.DeviceID, registry.DevicePatch{Visible: &visible, Position: &pos})
	require.NoError(t, err)

	devices, err := r.ListDevices()
	require.NoError(t, err)
	require.False(t, devices[0].Visible)
	require.Equal(t, pos, devices[0].Position)
}

func TestPatchDeviceUnknownChipIsLoggedNotFatal(t *testing.T) {
	r := newTestRegistry(t)
	res := addMockChip(t, r, "dev-1", "chip-a")

	err := r.PatchDevice(res.DeviceID, registry.DevicePatch{
		Chips: []registry.ChipPatch{{Kind: model.ChipKindUnspecified, Name: "does-not-exist"}},
	})
	require.NoError(t, err)
}

func TestResetAllRestoresDefaultPositionAndVisibility(t *testing.T) {
	r := newTestRegistry(t)
	res := addMockChip(t, r, "dev-1", "chip-a")

	visible := false
	pos := model.Position{X: 9, Y: 9, Z: 9}
	require.NoError(t, r.PatchDevice(res.DeviceID, registry.DevicePatch{Visible: &visible, Position: &pos}))

	r.ResetAll()

	devices, err := r.ListDevices()
	require.NoError(t, err)
	require.True(t, devices[0].Visible)
	require.Equal(t, model.Position{}, devices[0].Position)
}

func TestGetDistanceComputesEuclideanDistance(t *testing.T) {
	r := newTestRegistry(t)
	a := addMockChip(t, r, "dev-a", "chip-a")
	b := addMockChip(t, r, "dev-b", "chip-b")

	posA := model.Position{X: 0, Y: 0, Z: 0}
	posB := model.Position{X: 3, Y: 4, Z: 0}
	require.NoError(t, r.PatchDevice(a.DeviceID, registry.DevicePatch{Position: &posA}))
	require.NoError(t, r.PatchDevice(b.DeviceID, registry.DevicePatch{Position: &posB}))

	dist, err := r.GetDistance(a.DeviceID, b.DeviceID)
	require.NoError(t, err)
	require.InDelta(t, 5.0, dist, 1e-9)
}

func TestGetDistanceUnknownDeviceReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	a := addMockChip(t, r, "dev-a", "chip-a")
	_, err := r.GetDistance(a.DeviceID, model.DeviceId(999))
	require.ErrorIs(t, err, neterr.NotFound)
}

// The device set becoming empty starts the idle clock; adding a chip
// resets it.
func TestIdleSinceTracksEmptyDeviceSet(t *testing.T) {
	r := newTestRegistry(t)
	_, idle := r.IdleSince()
	require.True(t, idle, "registry starts idle with no devices")

	res := addMockChip(t, r, "dev-1", "chip-a")
	_, idle = r.IdleSince()
	require.False(t, idle, "adding a chip clears the idle timer")

	require.NoError(t, r.RemoveChip(res.DeviceID, res.ChipID))
	since, idle := r.IdleSince()
	require.True(t, idle)
	require.WithinDuration(t, time.Now(), since, time.Second)
}

func TestDefaultBackendsRejectsBluetoothWithoutBackendInstalled(t *testing.T) {
	backends := &registry.DefaultBackends{}
	_, err := backends.New(model.ChipId(1), model.DeviceId(1), registry.ChipParams{Kind: model.ChipKindBluetooth}, stubPublisher{})
	require.Error(t, err)
}

func TestDefaultBackendsFallsBackToMockForUnknownKind(t *testing.T) {
	backends := &registry.DefaultBackends{}
	wireless, err := backends.New(model.ChipId(1), model.DeviceId(1), registry.ChipParams{Kind: model.ChipKindUnspecified}, stubPublisher{})
	require.NoError(t, err)
	require.Equal(t, model.ChipKindUnspecified, wireless.Kind())
	_ = chip.NewMock // sanity that the mock backend package is reachable from this test
}
