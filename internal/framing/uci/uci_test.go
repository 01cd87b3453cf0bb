package uci_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/framing/uci"
)

func TestParse(t *testing.T) {
	raw := []byte{0x20, 0x01, 0x00, 0x02, 0xaa, 0xbb}
	pkt, err := uci.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, raw, pkt)
}

func TestParseShortHeader(t *testing.T) {
	_, err := uci.Parse([]byte{0x20, 0x01})
	require.Error(t, err)
}

func TestParseShortPayload(t *testing.T) {
	_, err := uci.Parse([]byte{0x20, 0x01, 0x00, 0x02, 0xaa})
	require.Error(t, err)
}

func TestLen(t *testing.T) {
	n, err := uci.Len([]byte{0x20, 0x01, 0x00, 0x05})
	require.NoError(t, err)
	require.Equal(t, 9, n)
}
