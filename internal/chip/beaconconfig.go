package chip

import (
	"encoding/hex"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// BeaconConfigDoc is the YAML document dev mode reads to stand up test
// beacons, one BleBeacon per entry.
type BeaconConfigDoc struct {
	Beacons []BeaconConfigEntry `yaml:"beacons"`
}

// BeaconConfigEntry describes one test beacon.
type BeaconConfigEntry struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	IntervalMs int    `yaml:"interval_ms"`
	AdvData    string `yaml:"adv_data"` // hex-encoded advertising payload
}

// ParseBeaconConfig decodes a beacon YAML document from r.
func ParseBeaconConfig(r io.Reader) (BeaconConfigDoc, error) {
	var doc BeaconConfigDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return BeaconConfigDoc{}, fmt.Errorf("chip: parse beacon config: %w", err)
	}
	return doc, nil
}

// Params converts the entry into the BeaconParams NewBleBeacon takes,
// decoding the hex advertising payload.
func (e BeaconConfigEntry) Params() (BeaconParams, error) {
	var adv []byte
	if e.AdvData != "" {
		decoded, err := hex.DecodeString(e.AdvData)
		if err != nil {
			return BeaconParams{}, fmt.Errorf("chip: beacon %q adv_data: %w", e.Name, err)
		}
		adv = decoded
	}
	return BeaconParams{AdvertiseIntervalMs: e.IntervalMs, AdvData: adv}, nil
}

// DefaultTestBeacons is what dev mode registers when no beacon document is
// supplied: one beacon advertising at the default interval.
func DefaultTestBeacons() BeaconConfigDoc {
	return BeaconConfigDoc{Beacons: []BeaconConfigEntry{
		{Name: "test-beacon", Address: "00:be:ac:01:02:03", IntervalMs: 1000},
	}}
}
