package chip_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/chip"
	"github.com/google/netsim-packet-core/internal/model"
)

func newTestWifiManager(t *testing.T) *chip.WifiManager {
	t.Helper()
	medium := chip.NewDefaultWifiMedium(chip.WifiNetworkConfig{})
	return chip.InitWifiManager(medium, nil)
}

func TestDefaultWifiMediumKeepsNetworkConfig(t *testing.T) {
	cfg := chip.WifiNetworkConfig{HostDns: "8.8.8.8", HttpProxy: "http://proxy:3128", Tap: "tap0"}
	medium := chip.NewDefaultWifiMedium(cfg)
	require.Equal(t, cfg, medium.NetworkConfig())
}

func TestWifiRequestRoutesToHostapdResponse(t *testing.T) {
	manager := newTestWifiManager(t)

	var mu sync.Mutex
	var received [][]byte
	done := make(chan struct{}, 1)

	w, err := chip.NewWifi(manager, 1, "aa:bb:cc:dd:ee:ff", func(frame []byte) {
		mu.Lock()
		received = append(received, frame)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.HandleRequest([]byte{0x01, 0x02, 0x03}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hostapd round trip")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
}

func TestWifiPatchDisable(t *testing.T) {
	manager := newTestWifiManager(t)
	w, err := chip.NewWifi(manager, 2, "11:22:33:44:55:66", nil)
	require.NoError(t, err)
	defer w.Close()

	disabled := false
	require.NoError(t, w.Patch(model.ChipProto{Kind: model.ChipKindWifi, Enabled: &disabled}))
	proto, err := w.Get()
	require.NoError(t, err)
	require.Equal(t, &disabled, proto.Enabled)
}
