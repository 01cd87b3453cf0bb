package control_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/capture"
	"github.com/google/netsim-packet-core/internal/control"
	"github.com/google/netsim-packet-core/internal/eventbus"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/registry"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type stubPublisher struct{}

func (stubPublisher) HandleResponse(model.ChipId, []byte, model.PacketType) error { return nil }

func newTestSurface(t *testing.T) (*control.Surface, *registry.Registry) {
	t.Helper()
	logger := testLogger()
	bus := eventbus.New(logger)
	reg := registry.New(bus, &registry.DefaultBackends{Logger: logger}, logger)
	caps := capture.New(t.TempDir(), false, logger)
	caps.Subscribe(bus)
	return &control.Surface{Version: "1.2.3", Registry: reg, Captures: caps, Logger: logger}, reg
}

func TestGetVersionReturnsConfiguredVersion(t *testing.T) {
	s, _ := newTestSurface(t)
	require.Equal(t, "1.2.3", s.GetVersion())
}

func TestGetVersionDefaultsWhenUnset(t *testing.T) {
	s := &control.Surface{Registry: &registry.Registry{}}
	require.Equal(t, "unknown", s.GetVersion())
}

func TestHTTPListDevicesEmpty(t *testing.T) {
	s, _ := newTestSurface(t)
	h := &control.HTTPHandler{Surface: s}

	req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var devices []registry.DeviceSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Empty(t, devices)
}

func TestHTTPPatchDeviceUnknownReturnsNotFound(t *testing.T) {
	s, _ := newTestSurface(t)
	h := &control.HTTPHandler{Surface: s}

	body := bytes.NewBufferString(`{"visible": false}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/devices/999", body)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPPatchDeviceMalformedBodyReturnsBadRequest(t *testing.T) {
	s, reg := newTestSurface(t)
	res, err := reg.AddChip(stubPublisher{}, registry.AddChipParams{DeviceGuid: "dev-1", DeviceName: "dev-1", Kind: model.ChipKindUnspecified, ChipName: "c1", Address: "c1"})
	require.NoError(t, err)

	h := &control.HTTPHandler{Surface: s}
	body := bytes.NewBufferString(`not json`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/devices/"+strconv.FormatUint(uint64(res.DeviceID), 10), body)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPResetReturnsNoContent(t *testing.T) {
	s, _ := newTestSurface(t)
	h := &control.HTTPHandler{Surface: s}

	req := httptest.NewRequest(http.MethodPost, "/v1/reset", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHTTPListCapturesIncludesAddedChip(t *testing.T) {
	s, reg := newTestSurface(t)
	_, err := reg.AddChip(stubPublisher{}, registry.AddChipParams{DeviceGuid: "dev-1", DeviceName: "dev-1", Kind: model.ChipKindUnspecified, ChipName: "c1", Address: "c1"})
	require.NoError(t, err)

	// The capture subscriber consumes the ChipAdded event asynchronously.
	require.Eventually(t, func() bool {
		return len(s.ListCaptures()) == 1
	}, time.Second, 5*time.Millisecond)

	h := &control.HTTPHandler{Surface: s}
	req := httptest.NewRequest(http.MethodGet, "/v1/captures", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var captures []*model.CaptureInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &captures))
	require.Len(t, captures, 1)
}

func TestHTTPPatchCaptureUnknownChipReturnsNotFound(t *testing.T) {
	s, _ := newTestSurface(t)
	h := &control.HTTPHandler{Surface: s}

	body := bytes.NewBufferString(`{"state":"on"}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/captures/999", body)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

// A chip kind with no defined pcap linktype (only Bluetooth and Wi-Fi have
// one) fails to start capture rather than silently succeeding.
func TestPatchCaptureRejectsKindWithNoLinkType(t *testing.T) {
	s, reg := newTestSurface(t)
	res, err := reg.AddChip(stubPublisher{}, registry.AddChipParams{DeviceGuid: "dev-1", DeviceName: "dev-1", Kind: model.ChipKindBluetoothBeacon, ChipName: "c1", Address: "c1"})
	require.NoError(t, err)

	require.Error(t, s.PatchCapture(res.ChipID, true))
}

func TestHTTPGetCaptureUnknownChipReturnsNotFound(t *testing.T) {
	s, _ := newTestSurface(t)
	h := &control.HTTPHandler{Surface: s}

	req := httptest.NewRequest(http.MethodGet, "/v1/captures/999/download", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
