// Package dispatch implements the packet dispatcher: the per-chip
// response channel that routes backend-emitted packets to the bound
// transport, and the entry point that drives request bytes into a chip's
// WirelessChip.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/capture"
	"github.com/google/netsim-packet-core/internal/groutine"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/neterr"
)

// Responder is what a transport gives the dispatcher at registration time:
// the sink backend-originated packets are delivered to, one at a time, in
// arrival order.
type Responder interface {
	Response(packet []byte, packetType model.PacketType) error
}

// ChipLookup resolves a ChipId to the Chip (and its WirelessChip) that
// owns it. *registry.Registry satisfies this.
type ChipLookup interface {
	ChipByID(chipID model.ChipId) (*model.Chip, bool)
}

type respMsg struct {
	packet     []byte
	packetType model.PacketType
}

// entry is one chip's outbound queue: an unbounded slice-backed MPSC queue
// drained by a single writer goroutine that is the only caller of
// responder.Response for this chip. A stalled transport grows memory for
// its own chip only.
type entry struct {
	mu        sync.Mutex
	queue     []respMsg
	wake      chan struct{}
	closed    bool
	responder Responder
}

// Dispatcher is the process-wide PacketDispatcher singleton.
type Dispatcher struct {
	mu      sync.RWMutex
	entries map[model.ChipId]*entry

	lookup   ChipLookup
	captures *capture.Captures
	logger   *logrus.Logger
}

// New creates a Dispatcher. lookup resolves chip ids for handle_request;
// captures receives a tee of every routed packet; either may be nil in
// tests that only exercise response fan-out.
func New(lookup ChipLookup, captures *capture.Captures, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		entries:  make(map[model.ChipId]*entry),
		lookup:   lookup,
		captures: captures,
		logger:   logger,
	}
}

// RegisterTransport binds responder as the sink for chipID's
// backend-originated packets and starts its dedicated writer goroutine.
// Registering a second transport for an already-registered chip is a bug:
// it is logged and the old entry is overwritten.
func (d *Dispatcher) RegisterTransport(chipID model.ChipId, responder Responder) {
	e := &entry{responder: responder, wake: make(chan struct{}, 1)}

	d.mu.Lock()
	if _, exists := d.entries[chipID]; exists {
		d.logger.WithField("chip_id", chipID).Warn("dispatch: duplicate register_transport, overwriting")
	}
	d.entries[chipID] = e
	d.mu.Unlock()

	groutine.Go(context.Background(), fmt.Sprintf("transport_responder_%d", chipID), func(ctx context.Context) {
		d.writerLoop(chipID, e)
	})
}

// UnregisterTransport removes chipID's transport binding. The writer
// goroutine drains any already-queued packets, then exits.
func (d *Dispatcher) UnregisterTransport(chipID model.ChipId) {
	d.mu.Lock()
	e, ok := d.entries[chipID]
	delete(d.entries, chipID)
	d.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	wake(e)
}

func (d *Dispatcher) writerLoop(chipID model.ChipId, e *entry) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			if e.closed {
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			<-e.wake
			continue
		}
		msg := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if err := e.responder.Response(msg.packet, msg.packetType); err != nil {
			d.logger.WithError(err).WithField("chip_id", chipID).Warn("dispatch: responder failed, unregistering transport")
			d.UnregisterTransport(chipID)
			return
		}
	}
}

func wake(e *entry) {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// HandleRequest routes one host-to-controller packet: tee to capture, look
// up the chip, and invoke its WirelessChip's HandleRequest. If packetType is
// not Unspecified, the one-byte packet type is prepended to bytes before
// either tee or delivery, per the Bluetooth H4 convention.
func (d *Dispatcher) HandleRequest(chipID model.ChipId, bytes []byte, packetType model.PacketType) error {
	frame := bytes
	if packetType != model.PacketTypeUnspecified {
		frame = make([]byte, 0, 1+len(bytes))
		frame = append(frame, byte(packetType))
		frame = append(frame, bytes...)
	}

	c, ok := d.lookupChip(chipID)
	if d.captures != nil && ok {
		d.captures.Tee(chipID, frame, capture.HostToController)
	}
	if !ok {
		d.logger.WithField("chip_id", chipID).Warn("dispatch: handle_request for unknown chip")
		return neterr.NotFound
	}

	if err := c.Wireless.HandleRequest(frame); err != nil {
		return fmt.Errorf("dispatch: handle_request: %w", err)
	}
	return nil
}

func (d *Dispatcher) lookupChip(chipID model.ChipId) (*model.Chip, bool) {
	if d.lookup == nil {
		return nil, false
	}
	return d.lookup.ChipByID(chipID)
}

// HandleResponse routes one controller-to-host packet: tee to capture, then
// enqueue onto chipID's response channel for its writer goroutine. A
// response for a chip with no registered transport (already disconnected,
// or never connected) is a logged warning, not an error.
func (d *Dispatcher) HandleResponse(chipID model.ChipId, bytes []byte, packetType model.PacketType) error {
	frame := bytes
	if packetType != model.PacketTypeUnspecified {
		frame = make([]byte, 0, 1+len(bytes))
		frame = append(frame, byte(packetType))
		frame = append(frame, bytes...)
	}
	if d.captures != nil {
		d.captures.Tee(chipID, frame, capture.ControllerToHost)
	}

	d.mu.RLock()
	e, ok := d.entries[chipID]
	d.mu.RUnlock()
	if !ok {
		d.logger.WithField("chip_id", chipID).Warn("dispatch: handle_response for unregistered chip")
		return nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		d.logger.WithField("chip_id", chipID).Warn("dispatch: handle_response after transport unregistered")
		return nil
	}
	e.queue = append(e.queue, respMsg{packet: bytes, packetType: packetType})
	e.mu.Unlock()
	wake(e)
	return nil
}
