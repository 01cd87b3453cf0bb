package chip_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/chip"
	"github.com/google/netsim-packet-core/internal/model"
)

// fakeRootcanal is a minimal in-test double for chip.RootcanalBackend that
// records phy add/remove calls so tests can assert on them directly.
type fakeRootcanal struct {
	mu       sync.Mutex
	nextID   chip.RootcanalId
	removed  map[chip.RootcanalId]bool
	phyCalls []string
	respond  map[chip.RootcanalId]func(frame []byte)

	failHandleRequest bool
}

func newFakeRootcanal() *fakeRootcanal {
	return &fakeRootcanal{nextID: 1, removed: make(map[chip.RootcanalId]bool), respond: make(map[chip.RootcanalId]func([]byte))}
}

func (f *fakeRootcanal) Add(address string, properties map[string]string, respond func(frame []byte)) (chip.RootcanalId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.respond[id] = respond
	return id, nil
}

func (f *fakeRootcanal) Remove(id chip.RootcanalId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[id] = true
	return nil
}

func (f *fakeRootcanal) AddDeviceToPhy(id chip.RootcanalId, lowEnergy bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phyCalls = append(f.phyCalls, fmt.Sprintf("add(%d,le=%v)", id, lowEnergy))
	return nil
}

func (f *fakeRootcanal) RemoveDeviceFromPhy(id chip.RootcanalId, lowEnergy bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phyCalls = append(f.phyCalls, fmt.Sprintf("remove(%d,le=%v)", id, lowEnergy))
	return nil
}

func (f *fakeRootcanal) HandleRequest(id chip.RootcanalId, frame []byte) error {
	if f.failHandleRequest {
		return fmt.Errorf("rejected")
	}
	f.mu.Lock()
	respond := f.respond[id]
	f.mu.Unlock()
	if respond != nil {
		// An HCI Reset command produces a Command Complete event back to the
		// originating chip only, H4-framed like the real backend emits it.
		respond([]byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00})
	}
	return nil
}

func (f *fakeRootcanal) callCount(s string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.phyCalls {
		if c == s {
			n++
		}
	}
	return n
}

func newTestBluetooth(t *testing.T, backend chip.RootcanalBackend) (*chip.Bluetooth, chan []byte) {
	t.Helper()
	b, err := chip.NewBluetooth(backend, "11:22:33:44:55:66", "Acme", "Widget", nil, nil)
	require.NoError(t, err)
	received := make(chan []byte, 8)
	b.SetResponder(func(frame []byte) { received <- frame })
	return b, received
}

func TestBluetoothDefaultStateEnablesBothPhys(t *testing.T) {
	backend := newFakeRootcanal()
	b, _ := newTestBluetooth(t, backend)

	proto, err := b.Get()
	require.NoError(t, err)
	require.True(t, *proto.LowEnergyEnabled)
	require.True(t, *proto.ClassicEnabled)
	require.Equal(t, 1, backend.callCount("add(1,le=true)"))
	require.Equal(t, 1, backend.callCount("add(1,le=false)"))
}

// Sending the HCI Reset command produces a Command Complete event back
// through this chip's responder.
func TestBluetoothHandleRequestRoutesBackendResponse(t *testing.T) {
	backend := newFakeRootcanal()
	b, received := newTestBluetooth(t, backend)

	require.NoError(t, b.HandleRequest([]byte{0x01, 0x03, 0x0c, 0x00}))

	select {
	case frame := <-received:
		require.Equal(t, byte(model.PacketTypeEvent), frame[0])
	default:
		t.Fatal("expected a routed response")
	}

	proto, err := b.Get()
	require.NoError(t, err)
	require.EqualValues(t, 1, proto.TxCount)
	require.EqualValues(t, 1, proto.RxCount)
}

// Patching low_energy off calls remove_device_from_phy exactly once and
// leaves classic untouched.
func TestBluetoothPatchTogglesOnlyRequestedPhy(t *testing.T) {
	backend := newFakeRootcanal()
	b, _ := newTestBluetooth(t, backend)

	leOff := false
	require.NoError(t, b.Patch(model.ChipProto{Kind: model.ChipKindBluetooth, LowEnergyEnabled: &leOff}))

	proto, err := b.Get()
	require.NoError(t, err)
	require.False(t, *proto.LowEnergyEnabled)
	require.True(t, *proto.ClassicEnabled)
	require.Equal(t, 1, backend.callCount("remove(1,le=true)"))
	require.Equal(t, 0, backend.callCount("remove(1,le=false)"))
}

// Patching a chip to its current state is idempotent.
func TestBluetoothPatchToCurrentStateIsIdempotent(t *testing.T) {
	backend := newFakeRootcanal()
	b, _ := newTestBluetooth(t, backend)

	before, err := b.Get()
	require.NoError(t, err)

	on := true
	require.NoError(t, b.Patch(model.ChipProto{Kind: model.ChipKindBluetooth, LowEnergyEnabled: &on, ClassicEnabled: &on}))

	after, err := b.Get()
	require.NoError(t, err)
	require.Equal(t, before, after)
	// No redundant backend calls beyond the initial construction add().
	require.Equal(t, 1, backend.callCount("add(1,le=true)"))
	require.Equal(t, 1, backend.callCount("add(1,le=false)"))
}

// Reset twice is the same as reset once: counters zero, both phys on.
func TestBluetoothResetIsIdempotent(t *testing.T) {
	backend := newFakeRootcanal()
	b, _ := newTestBluetooth(t, backend)

	require.NoError(t, b.HandleRequest([]byte{0x01, 0x03, 0x0c, 0x00}))
	require.NoError(t, b.Reset())
	require.NoError(t, b.Reset())

	proto, err := b.Get()
	require.NoError(t, err)
	require.EqualValues(t, 0, proto.TxCount)
	require.EqualValues(t, 0, proto.RxCount)
	require.True(t, *proto.LowEnergyEnabled)
	require.True(t, *proto.ClassicEnabled)
}

func TestBluetoothInvalidPacketRecordedInStats(t *testing.T) {
	backend := newFakeRootcanal()
	backend.failHandleRequest = true
	b, _ := newTestBluetooth(t, backend)

	err := b.HandleRequest([]byte{0xff, 0xff})
	require.Error(t, err)

	stats, err := b.GetStats(1.0)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.NotEmpty(t, stats[0].InvalidPackets)
	require.Equal(t, []byte{0xff, 0xff}, stats[0].InvalidPackets[0].Packet)
}

func TestBluetoothCloseRemovesFromBackend(t *testing.T) {
	backend := newFakeRootcanal()
	b, _ := newTestBluetooth(t, backend)
	require.NoError(t, b.Close())
	require.True(t, backend.removed[1])
}

func TestBluetoothPatchWrongKindIsNoOp(t *testing.T) {
	backend := newFakeRootcanal()
	b, _ := newTestBluetooth(t, backend)

	before, err := b.Get()
	require.NoError(t, err)

	off := false
	require.NoError(t, b.Patch(model.ChipProto{Kind: model.ChipKindWifi, LowEnergyEnabled: &off}))

	after, err := b.Get()
	require.NoError(t, err)
	require.Equal(t, before, after)
}
