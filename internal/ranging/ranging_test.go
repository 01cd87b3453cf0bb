package ranging_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/ranging"
)

func TestZeroDistance(t *testing.T) {
	// tx_power=0 is compensated to -49, then +40.20 close-in term.
	require.Equal(t, int8(-9), ranging.DistanceToRSSI(0, 0))
	require.Equal(t, int8(10), ranging.DistanceToRSSI(-30, 0))
}

func TestMonotonicNonIncreasing(t *testing.T) {
	// RSSI must not increase as distance grows, for distance > 0.
	prev := ranging.DistanceToRSSI(-20, 1)
	for _, d := range []float32{2, 5, 10, 50, 100, 500} {
		got := ranging.DistanceToRSSI(-20, d)
		require.LessOrEqual(t, got, prev)
		prev = got
	}
}

func TestClampBounds(t *testing.T) {
	require.Equal(t, int8(-120), ranging.DistanceToRSSI(-20, 100000))
	require.Equal(t, int8(20), ranging.DistanceToRSSI(20, 0.0001))
}

func TestTxPowerCompensation(t *testing.T) {
	a := ranging.DistanceToRSSI(0, 5)
	b := ranging.DistanceToRSSI(1, 5)
	c := ranging.DistanceToRSSI(-49, 5)
	require.Equal(t, a, b)
	require.Equal(t, b, c)
}
