package transport

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/dispatch"
	"github.com/google/netsim-packet-core/internal/framing/h4"
	"github.com/google/netsim-packet-core/internal/groutine"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/registry"
)

// websocketMagicGUID is the RFC 6455 handshake constant combined with the
// client's Sec-WebSocket-Key to derive Sec-WebSocket-Accept.
const websocketMagicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Frame opcodes this adapter understands. Binary and continuation frames
// carry Bluetooth H4 bytes, ping is answered with pong, close ends the
// connection; every other opcode (text, pong, reserved) is ignored.
const (
	wsOpContinuation = 0x0
	wsOpBinary       = 0x2
	wsOpClose        = 0x8
	wsOpPing         = 0x9
	wsOpPong         = 0xa
)

// WebSocket is a raw RFC 6455 handshake and frame codec serving H4-framed
// Bluetooth only.
type WebSocket struct {
	Registry   Registrar
	Dispatcher *dispatch.Dispatcher
	Logger     *logrus.Logger
}

// ServeHTTP upgrades a single connection and blocks, driving its H4 frames
// through the dispatcher, until the client closes the socket.
func (w *WebSocket) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	var logger logrus.FieldLogger = w.logger()

	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" || !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		http.Error(resp, "expected websocket upgrade", http.StatusBadRequest)
		return
	}

	hj, ok := resp.(http.Hijacker)
	if !ok {
		http.Error(resp, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		logger.WithError(err).Warn("websocket: hijack failed")
		return
	}
	defer conn.Close()

	accept := acceptKey(key)
	if _, err := fmt.Fprintf(rw, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n", accept); err != nil {
		return
	}
	if err := rw.Flush(); err != nil {
		return
	}

	result, err := w.Registry.AddChip(w.Dispatcher, registry.AddChipParams{
		DeviceGuid: "ws-" + conn.RemoteAddr().String(),
		DeviceName: "ws-" + conn.RemoteAddr().String(),
		Kind:       model.ChipKindBluetooth,
		ChipName:   conn.RemoteAddr().String(),
		Address:    conn.RemoteAddr().String(),
	})
	if err != nil {
		logger.WithError(err).Warn("websocket: add_chip failed")
		return
	}
	logger = logger.WithField("chip_id", result.ChipID)
	logger.Info("websocket: chip connected")

	w.Dispatcher.RegisterTransport(result.ChipID, wsResponder{rw: rw})
	defer func() {
		w.Dispatcher.UnregisterTransport(result.ChipID)
		if err := w.Registry.RemoveChip(result.DeviceID, result.ChipID); err != nil {
			logger.WithError(err).Warn("websocket: remove_chip failed")
		}
	}()

	for {
		payload, opcode, err := readFrame(rw.Reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.WithError(err).Debug("websocket: frame read ended")
			}
			return
		}
		switch opcode {
		case wsOpClose:
			return
		case wsOpPing:
			writeFrame(rw.Writer, wsOpPong, payload)
			rw.Flush()
		case wsOpBinary, wsOpContinuation:
			frame, _, ferr := h4.Parse(payload)
			if ferr != nil {
				logger.WithError(ferr).Warn("websocket: malformed H4 frame")
				continue
			}
			body := append(append([]byte(nil), frame.Preamble...), frame.Payload...)
			if err := w.Dispatcher.HandleRequest(result.ChipID, body, frame.Type); err != nil {
				logger.WithError(err).Warn("websocket: handle_request failed")
			}
		}
	}
}

func (w *WebSocket) logger() *logrus.Logger {
	if w.Logger == nil {
		return logrus.New()
	}
	return w.Logger
}

// Listen binds addr and serves until ctx is cancelled, returning the bound
// listener so callers can read back its ephemeral port (e.g. for the
// discovery file) when addr ends in ":0".
func (w *WebSocket) Listen(ctx context.Context, addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket listen: %w", err)
	}
	srv := &http.Server{Handler: w}
	groutine.Go(ctx, "websocket_shutdown_watch", func(ctx context.Context) {
		<-ctx.Done()
		srv.Close()
	})
	groutine.Go(ctx, "websocket_listener", func(ctx context.Context) {
		srv.Serve(ln)
	})
	return ln, nil
}

type wsResponder struct {
	rw *bufio.ReadWriter
}

func (r wsResponder) Response(packet []byte, packetType model.PacketType) error {
	frame := make([]byte, 0, 1+len(packet))
	frame = append(frame, byte(packetType))
	frame = append(frame, packet...)
	if err := writeFrame(r.rw.Writer, wsOpBinary, frame); err != nil {
		return err
	}
	return r.rw.Flush()
}

func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketMagicGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// readFrame reads one RFC 6455 frame. Only single-frame (fin=1) messages
// are supported, matching how Bluetooth H4 packets are framed one-per-frame
// by every client this adapter targets.
func readFrame(r *bufio.Reader) ([]byte, byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, 0, err
	}
	opcode := hdr[0] & 0x0f
	masked := hdr[1]&0x80 != 0
	length := uint64(hdr[1] & 0x7f)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, 0, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, 0, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(r, maskKey[:]); err != nil {
			return nil, 0, err
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}
	return payload, opcode, nil
}

// writeFrame writes one unmasked RFC 6455 server frame (servers never mask).
func writeFrame(w *bufio.Writer, opcode byte, payload []byte) error {
	if err := w.WriteByte(0x80 | opcode); err != nil {
		return err
	}
	n := len(payload)
	switch {
	case n < 126:
		if err := w.WriteByte(byte(n)); err != nil {
			return err
		}
	case n <= 0xffff:
		if err := w.WriteByte(126); err != nil {
			return err
		}
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		if _, err := w.Write(ext[:]); err != nil {
			return err
		}
	default:
		if err := w.WriteByte(127); err != nil {
			return err
		}
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		if _, err := w.Write(ext[:]); err != nil {
			return err
		}
	}
	_, err := w.Write(payload)
	return err
}
