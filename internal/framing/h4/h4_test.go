package h4_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/framing/h4"
	"github.com/google/netsim-packet-core/internal/model"
)

func TestParseCommand(t *testing.T) {
	raw := []byte{0x01, 0x03, 0x0c, 0x00}
	f, n, err := h4.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Equal(t, model.PacketTypeCommand, f.Type)
	require.Empty(t, f.Payload)
}

func TestParseEventWithPayload(t *testing.T) {
	raw := []byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}
	f, n, err := h4.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Equal(t, model.PacketTypeEvent, f.Type)
	require.Len(t, f.Payload, 4)
}

// H4 parse then re-serialize equals the original bytes.
func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x01, 0x03, 0x0c, 0x00},
		{0x02, 0x40, 0x00, 0x03, 0x00, 0xaa, 0xbb, 0xcc},
		{0x03, 0x01, 0x00, 0x02, 0x11, 0x22},
		{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00},
		{0x05, 0x01, 0x00, 0x02, 0x10, 0xaa, 0xbb},
	}
	for _, raw := range cases {
		f, n, err := h4.Parse(raw)
		require.NoError(t, err)
		require.Equal(t, len(raw), n)
		require.Equal(t, raw, f.Bytes())
	}
}

func TestParseNeedsMoreData(t *testing.T) {
	_, _, err := h4.Parse([]byte{0x04, 0x0e, 0x04, 0x01})
	require.Error(t, err)
}

func TestParseUnknownType(t *testing.T) {
	_, _, err := h4.Parse([]byte{0xff, 0x00})
	require.Error(t, err)
}

func TestRecoverFindsReset(t *testing.T) {
	buf := []byte{0xff, 0xff, 0x01, 0x03, 0x0c, 0x00, 0xaa}
	require.Equal(t, 2, h4.Recover(buf))
}

func TestRecoverNotFound(t *testing.T) {
	require.Equal(t, -1, h4.Recover([]byte{0xff, 0xff, 0xff}))
}

func TestReadFrameRecoveringSkipsGarbageToReset(t *testing.T) {
	stream := bytes.NewReader([]byte{0xff, 0xff, 0x01, 0x03, 0x0c, 0x00})
	f, err := h4.ReadFrameRecovering(stream)
	require.NoError(t, err)
	require.Equal(t, model.PacketTypeCommand, f.Type)
	require.Empty(t, f.Payload)
}

func TestReadFrameRecoveringPassesThroughValidFrame(t *testing.T) {
	stream := bytes.NewReader([]byte{0x01, 0x03, 0x0c, 0x00})
	f, err := h4.ReadFrameRecovering(stream)
	require.NoError(t, err)
	require.Equal(t, model.PacketTypeCommand, f.Type)
}

func TestReadFrameRecoveringEOFWhenResetNeverArrives(t *testing.T) {
	stream := bytes.NewReader([]byte{0xff, 0xff, 0xff})
	_, err := h4.ReadFrameRecovering(stream)
	require.Error(t, err)
}
