package chip_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/chip"
)

func TestParseBeaconConfig(t *testing.T) {
	doc, err := chip.ParseBeaconConfig(strings.NewReader(`
beacons:
  - name: lobby
    address: "00:11:22:33:44:55"
    interval_ms: 250
    adv_data: "02011a"
  - name: lab
    address: "00:11:22:33:44:56"
`))
	require.NoError(t, err)
	require.Len(t, doc.Beacons, 2)
	require.Equal(t, "lobby", doc.Beacons[0].Name)
	require.Equal(t, 250, doc.Beacons[0].IntervalMs)

	params, err := doc.Beacons[0].Params()
	require.NoError(t, err)
	require.Equal(t, []byte{0x02, 0x01, 0x1a}, params.AdvData)
	require.Equal(t, 250, params.AdvertiseIntervalMs)
}

func TestBeaconConfigEntryRejectsBadHex(t *testing.T) {
	e := chip.BeaconConfigEntry{Name: "bad", AdvData: "zz"}
	_, err := e.Params()
	require.Error(t, err)
}

func TestParseBeaconConfigRejectsMalformedYAML(t *testing.T) {
	_, err := chip.ParseBeaconConfig(strings.NewReader("beacons: ["))
	require.Error(t, err)
}

func TestDefaultTestBeaconsNonEmpty(t *testing.T) {
	doc := chip.DefaultTestBeacons()
	require.NotEmpty(t, doc.Beacons)
	params, err := doc.Beacons[0].Params()
	require.NoError(t, err)
	require.Equal(t, 1000, params.AdvertiseIntervalMs)
}
