// Package control implements the daemon's control surface: version,
// device/capture listing and patching, reset and capture download,
// exposed identically whether the caller is the gRPC-shaped binary path
// or the HTTP+JSON mux below.
package control

import (
	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/capture"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/registry"
)

// Surface is the process-wide control surface singleton, backed by the
// registry and capture subsystem.
type Surface struct {
	Version  string
	Registry *registry.Registry
	Captures *capture.Captures
	Logger   *logrus.Logger
}

// GetVersion returns the daemon's reported version string.
func (s *Surface) GetVersion() string {
	if s.Version == "" {
		return "unknown"
	}
	return s.Version
}

// ListDevices returns a snapshot of every device and its chips' current
// observable state.
func (s *Surface) ListDevices() ([]registry.DeviceSnapshot, error) {
	return s.Registry.ListDevices()
}

// PatchDevice applies a partial update to one device.
func (s *Surface) PatchDevice(deviceID model.DeviceId, patch registry.DevicePatch) error {
	return s.Registry.PatchDevice(deviceID, patch)
}

// Reset resets every device and chip to its initial state.
func (s *Surface) Reset() {
	s.Registry.ResetAll()
}

// ListCaptures returns a snapshot of every tracked capture.
func (s *Surface) ListCaptures() []*model.CaptureInfo {
	return s.Captures.List()
}

// PatchCapture starts or stops capture for one chip.
func (s *Surface) PatchCapture(chipID model.ChipId, on bool) error {
	return s.Captures.PatchCapture(chipID, on)
}

// GetCapture streams a capture's on-disk bytes to w, one chunk at a time.
func (s *Surface) GetCapture(chipID model.ChipId, w func(chunk []byte) error) error {
	return s.Captures.GetCapture(chipID, w)
}
