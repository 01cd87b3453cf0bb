// Package ranging implements the pure distance→RSSI helper used by
// the UWB backend's ranging estimator.
package ranging

import "math"

const (
	minRSSI = -120
	maxRSSI = 20

	// compensatedTxPower is substituted whenever the caller's tx power is
	// one of the two sentinel values Rootcanal is observed to report,
	// which do not reflect a real antenna power.
	compensatedTxPower = -49
)

// DistanceToRSSI maps a transmit power and a distance to an estimated RSSI,
// clamped to [-120, 20] dBm. At distance == 0 it returns txPowerDbm + 40.20,
// the free-space close-in reference; otherwise it applies the standard
// log-distance path loss.
func DistanceToRSSI(txPowerDbm int8, distanceM float32) int8 {
	tx := float64(txPowerDbm)
	if txPowerDbm == 0 || txPowerDbm == 1 {
		tx = compensatedTxPower
	}

	var rssi float64
	if distanceM == 0 {
		rssi = tx + 40.20
	} else {
		rssi = tx - 20*math.Log10(float64(distanceM))
	}

	return clamp(rssi)
}

func clamp(v float64) int8 {
	if v > maxRSSI {
		return maxRSSI
	}
	if v < minRSSI {
		return minRSSI
	}
	return int8(math.Round(v))
}
