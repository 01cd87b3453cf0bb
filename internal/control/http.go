package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/neterr"
	"github.com/google/netsim-packet-core/internal/registry"
)

// HTTPHandler is the HTTP+JSON control mux, calling the exact same Surface
// methods the gRPC-shaped path calls.
type HTTPHandler struct {
	Surface *Surface
}

// Mux builds the *http.ServeMux routing every control-surface operation.
func (h *HTTPHandler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/version", h.getVersion)
	mux.HandleFunc("GET /v1/devices", h.listDevices)
	mux.HandleFunc("PATCH /v1/devices/{id}", h.patchDevice)
	mux.HandleFunc("POST /v1/reset", h.reset)
	mux.HandleFunc("GET /v1/captures", h.listCaptures)
	mux.HandleFunc("PATCH /v1/captures/{id}", h.patchCapture)
	mux.HandleFunc("GET /v1/captures/{id}/download", h.getCapture)
	return mux
}

func (h *HTTPHandler) getVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.Surface.GetVersion()})
}

func (h *HTTPHandler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Surface.ListDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// devicePatchRequest is the wire shape of a PatchDevice body; fields left
// null are untouched, mirroring registry.DevicePatch's pointer semantics.
type devicePatchRequest struct {
	Visible  *bool              `json:"visible"`
	Position *model.Position    `json:"position"`
	Orient   *model.Orientation `json:"orientation"`
	Chips    []chipPatchRequest `json:"chips"`
}

type chipPatchRequest struct {
	Kind  string          `json:"kind"`
	Name  string          `json:"name"`
	Proto model.ChipProto `json:"proto"`
}

func (h *HTTPHandler) patchDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathID[model.DeviceId](r)
	if !ok {
		writeStatus(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var body devicePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeStatus(w, http.StatusBadRequest, "malformed patch body")
		return
	}

	patch := registry.DevicePatch{Visible: body.Visible, Position: body.Position, Orient: body.Orient}
	for _, cp := range body.Chips {
		kind, ok := parseChipKind(cp.Kind)
		if !ok {
			writeStatus(w, http.StatusBadRequest, "unknown chip kind: "+cp.Kind)
			return
		}
		patch.Chips = append(patch.Chips, registry.ChipPatch{Kind: kind, Name: cp.Name, Proto: cp.Proto})
	}

	if err := h.Surface.PatchDevice(deviceID, patch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) reset(w http.ResponseWriter, r *http.Request) {
	h.Surface.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) listCaptures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Surface.ListCaptures())
}

func (h *HTTPHandler) patchCapture(w http.ResponseWriter, r *http.Request) {
	chipID, ok := pathID[model.ChipId](r)
	if !ok {
		writeStatus(w, http.StatusBadRequest, "invalid chip id")
		return
	}
	var body struct {
		State string `json:"state"` // "on" or "off"
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeStatus(w, http.StatusBadRequest, "malformed patch body")
		return
	}
	on := strings.EqualFold(body.State, "on")
	if err := h.Surface.PatchCapture(chipID, on); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) getCapture(w http.ResponseWriter, r *http.Request) {
	chipID, ok := pathID[model.ChipId](r)
	if !ok {
		writeStatus(w, http.StatusBadRequest, "invalid chip id")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	err := h.Surface.GetCapture(chipID, func(chunk []byte) error {
		_, werr := w.Write(chunk)
		return werr
	})
	if err != nil {
		writeError(w, err)
	}
}

func pathID[T ~uint32](r *http.Request) (T, bool) {
	raw := r.PathValue("id")
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return T(n), true
}

func parseChipKind(s string) (model.ChipKind, bool) {
	switch strings.ToUpper(s) {
	case "BLUETOOTH":
		return model.ChipKindBluetooth, true
	case "WIFI":
		return model.ChipKindWifi, true
	case "UWB":
		return model.ChipKindUwb, true
	case "BLUETOOTH_BEACON":
		return model.ChipKindBluetoothBeacon, true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the neterr taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, neterr.NotFound):
		writeStatus(w, http.StatusNotFound, err.Error())
	case errors.Is(err, neterr.InvalidArgument):
		writeStatus(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, neterr.FailedPrecondition):
		writeStatus(w, http.StatusConflict, err.Error())
	case errors.Is(err, neterr.DuplicateChip):
		writeStatus(w, http.StatusConflict, err.Error())
	default:
		writeStatus(w, http.StatusInternalServerError, err.Error())
	}
}
