// Package transport implements the four adapter kinds: a raw HCI
// TCP socket, a gRPC packet stream, an FD-pipe pair, and a WebSocket
// handshake, each registering one ChipId <-> Response binding per
// connection with the shared packet dispatcher.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/google/netsim-packet-core/internal/dispatch"
	"github.com/google/netsim-packet-core/internal/framing/h4"
	"github.com/google/netsim-packet-core/internal/groutine"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/registry"
)

// ringBufCap sizes the byte ring decoupling each socket's raw reads from H4
// frame parsing, so a slow parser never stalls the kernel-side read.
const ringBufCap = 64 * 1024

// Registrar is the subset of *registry.Registry a transport adapter needs:
// add/remove a Bluetooth chip for the lifetime of one connection.
type Registrar interface {
	AddChip(publisher registry.ResponsePublisher, p registry.AddChipParams) (registry.AddChipResult, error)
	RemoveChip(deviceID model.DeviceId, chipID model.ChipId) error
}

// HciSocket accepts raw HCI-over-TCP connections: one Bluetooth
// chip per connection, framed with H4.
type HciSocket struct {
	Registry   Registrar
	Dispatcher *dispatch.Dispatcher
	Logger     *logrus.Logger
}

// Serve binds 127.0.0.1:port, falling back to ::1 on failure, and accepts
// connections until ctx is cancelled or the listener errors.
func (h *HciSocket) Serve(ctx context.Context, port uint32) error {
	logger := h.logger()
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		addr = fmt.Sprintf("[::1]:%d", port)
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("transport: hci socket listen: %w", err)
		}
	}
	logger.WithField("addr", addr).Info("hci_transport: listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	groutine.Go(ctx, "hci_transport", func(ctx context.Context) {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithError(err).Warn("hci_transport: accept failed")
				return
			}
			groutine.Go(ctx, "hci_transport client", func(ctx context.Context) {
				h.handleConn(ctx, conn)
			})
		}
	})
	return nil
}

type connResponder struct {
	conn net.Conn
}

func (r connResponder) Response(packet []byte, packetType model.PacketType) error {
	frame := make([]byte, 0, 1+len(packet))
	frame = append(frame, byte(packetType))
	frame = append(frame, packet...)
	_, err := r.conn.Write(frame)
	return err
}

func (h *HciSocket) handleConn(ctx context.Context, conn net.Conn) {
	logger := h.logger().WithField("peer", conn.RemoteAddr().String())
	defer conn.Close()

	ring := ringbuffer.New(ringBufCap)
	ring.SetBlocking(true)
	go func() {
		io.Copy(ring, conn)
		ring.CloseWriter()
	}()

	guid := "socket-" + conn.RemoteAddr().String()
	result, err := h.Registry.AddChip(h.Dispatcher, registry.AddChipParams{
		DeviceGuid: guid,
		DeviceName: guid,
		Kind:       model.ChipKindBluetooth,
		ChipName:   guid,
		Address:    conn.RemoteAddr().String(),
	})
	if err != nil {
		logger.WithError(err).Warn("hci_transport: add_chip failed")
		return
	}
	logger.WithField("chip_id", result.ChipID).Info("hci_transport: chip connected")

	h.Dispatcher.RegisterTransport(result.ChipID, connResponder{conn: conn})
	defer func() {
		h.Dispatcher.UnregisterTransport(result.ChipID)
		if err := h.Registry.RemoveChip(result.DeviceID, result.ChipID); err != nil {
			logger.WithError(err).Warn("hci_transport: remove_chip failed")
		}
	}()

	for {
		frame, err := h4.ReadFrameRecovering(ring)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.WithError(err).Debug("hci_transport: frame read ended")
			}
			return
		}
		body := append(append([]byte(nil), frame.Preamble...), frame.Payload...)
		if err := h.Dispatcher.HandleRequest(result.ChipID, body, frame.Type); err != nil {
			logger.WithError(err).Warn("hci_transport: handle_request failed")
		}
	}
}

func (h *HciSocket) logger() *logrus.Logger {
	if h.Logger == nil {
		return logrus.New()
	}
	return h.Logger
}
