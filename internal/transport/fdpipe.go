package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/google/netsim-packet-core/internal/dispatch"
	"github.com/google/netsim-packet-core/internal/framing/h4"
	"github.com/google/netsim-packet-core/internal/framing/uci"
	"github.com/google/netsim-packet-core/internal/groutine"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/registry"
)

// FdPipeChip is one chip descriptor in the startup-supplied FD-pipe JSON:
// fdIn is the file this process writes controller->host
// responses to, fdOut is the file it reads host->controller packets from.
type FdPipeChip struct {
	Kind    string `json:"kind"` // "bluetooth" or "uwb"
	FdIn    int    `json:"fdIn"`
	FdOut   int    `json:"fdOut"`
	Address string `json:"address"`
}

// FdPipeDevice groups the chips belonging to one emulated device.
type FdPipeDevice struct {
	Name  string       `json:"name"`
	Chips []FdPipeChip `json:"chips"`
}

// FdPipeConfig is the full `{devices:[...]}` document read at startup.
type FdPipeConfig struct {
	Devices []FdPipeDevice `json:"devices"`
}

// ParseFdPipeConfig decodes the startup JSON document from r.
func ParseFdPipeConfig(r io.Reader) (FdPipeConfig, error) {
	var cfg FdPipeConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return FdPipeConfig{}, fmt.Errorf("transport: parse fd pipe config: %w", err)
	}
	return cfg, nil
}

// FdPipe wires one fdIn/fdOut pair per configured chip directly into the
// registry and dispatcher, for emulator harnesses that hand the daemon
// already-open file descriptors instead of a socket.
type FdPipe struct {
	Registry   Registrar
	Dispatcher *dispatch.Dispatcher
	Logger     *logrus.Logger
}

// Start adds every device/chip in cfg and spawns one reader goroutine per
// chip. It returns once every chip has been registered; the reader
// goroutines run until ctx is cancelled or their fdOut hits EOF.
func (p *FdPipe) Start(ctx context.Context, cfg FdPipeConfig) error {
	logger := p.logger()
	for _, dev := range cfg.Devices {
		for _, c := range dev.Chips {
			kind, ok := fdPipeKind(c.Kind)
			if !ok {
				logger.WithField("kind", c.Kind).Warn("fdpipe: unsupported chip kind, skipping")
				continue
			}

			fin := os.NewFile(uintptr(c.FdIn), fmt.Sprintf("fdin-%s", dev.Name))
			fout := os.NewFile(uintptr(c.FdOut), fmt.Sprintf("fdout-%s", dev.Name))

			result, err := p.Registry.AddChip(p.Dispatcher, registry.AddChipParams{
				DeviceGuid: "fdpipe-" + dev.Name,
				DeviceName: dev.Name,
				Kind:       kind,
				ChipName:   c.Address,
				Address:    c.Address,
			})
			if err != nil {
				logger.WithError(err).WithField("device", dev.Name).Warn("fdpipe: add_chip failed")
				continue
			}

			p.Dispatcher.RegisterTransport(result.ChipID, fdResponder{kind: kind, w: fin})

			chipID, deviceID := result.ChipID, result.DeviceID
			groutine.Go(ctx, fmt.Sprintf("fdpipe_%s_%s", dev.Name, c.Kind), func(ctx context.Context) {
				p.readLoop(ctx, chipID, kind, fout, deviceID)
			})
		}
	}
	return nil
}

func fdPipeKind(s string) (model.ChipKind, bool) {
	switch s {
	case "bluetooth":
		return model.ChipKindBluetooth, true
	case "uwb":
		return model.ChipKindUwb, true
	default:
		return 0, false
	}
}

type fdResponder struct {
	kind model.ChipKind
	w    *os.File
}

func (r fdResponder) Response(packet []byte, packetType model.PacketType) error {
	if r.kind == model.ChipKindBluetooth {
		frame := make([]byte, 0, 1+len(packet))
		frame = append(frame, byte(packetType))
		frame = append(frame, packet...)
		_, err := r.w.Write(frame)
		return err
	}
	_, err := r.w.Write(packet)
	return err
}

func (p *FdPipe) readLoop(ctx context.Context, chipID model.ChipId, kind model.ChipKind, fout *os.File, deviceID model.DeviceId) {
	logger := p.logger().WithField("chip_id", chipID)
	defer func() {
		p.Dispatcher.UnregisterTransport(chipID)
		if err := p.Registry.RemoveChip(deviceID, chipID); err != nil {
			logger.WithError(err).Warn("fdpipe: remove_chip failed")
		}
	}()

	ring := ringbuffer.New(ringBufCap)
	ring.SetBlocking(true)
	go func() {
		io.Copy(ring, fout)
		ring.CloseWriter()
	}()

	for {
		var err error
		switch kind {
		case model.ChipKindBluetooth:
			var frame h4.Frame
			frame, err = h4.ReadFrameRecovering(ring)
			if err == nil {
				body := append(append([]byte(nil), frame.Preamble...), frame.Payload...)
				err = p.Dispatcher.HandleRequest(chipID, body, frame.Type)
			}
		default: // UWB
			var packet []byte
			packet, err = uci.ReadPacket(ring)
			if err == nil {
				err = p.Dispatcher.HandleRequest(chipID, packet, model.PacketTypeUnspecified)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.WithError(err).Debug("fdpipe: read loop ended")
			}
			return
		}
	}
}

func (p *FdPipe) logger() *logrus.Logger {
	if p.Logger == nil {
		return logrus.New()
	}
	return p.Logger
}
