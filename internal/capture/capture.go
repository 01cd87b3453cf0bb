// Package capture implements the per-chip packet-capture subsystem:
// one CaptureInfo per chip, an optional open pcap file teeing every routed
// packet, and event-driven add/remove wired to the EventBus.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/eventbus"
	"github.com/google/netsim-packet-core/internal/groutine"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/neterr"
)

// writerState is the extra bookkeeping capture.go keeps per entry beyond
// what lives directly in model.CaptureInfo: the pcapgo.Writer bound to the
// currently-open file, since CaptureInfo only exposes the raw io.WriteCloser.
type writerState struct {
	pcap *pcapgo.Writer
}

// Captures is the process-wide registry mapping ChipId to its CaptureInfo.
// Keyed lookups are lock-free via cornelk/hashmap; each entry's own fields
// are protected by its CaptureInfo mutex.
type Captures struct {
	entries *hashmap.Map[model.ChipId, *model.CaptureInfo]
	writers sync.Map // model.ChipId -> *writerState, guarded by the CaptureInfo mutex of the same entry

	dir        string
	pcapOnAdd  bool
	logger     *logrus.Logger
}

// New creates an empty Captures registry. dir is the pcap output
// directory (see internal/netsimio.PcapDir); pcapOnAdd mirrors the
// daemon-wide --pcap flag: when true, capture starts immediately on
// ChipAdded instead of waiting for an explicit PatchCapture(on).
func New(dir string, pcapOnAdd bool, logger *logrus.Logger) *Captures {
	if logger == nil {
		logger = logrus.New()
	}
	return &Captures{
		entries:   hashmap.New[model.ChipId, *model.CaptureInfo](),
		dir:       dir,
		pcapOnAdd: pcapOnAdd,
		logger:    logger,
	}
}

// Subscribe drains bus's events on a dedicated goroutine, creating and
// retiring CaptureInfo entries as chips come and go. The returned
// unsubscribe func stops the goroutine.
func (c *Captures) Subscribe(bus *eventbus.Bus) func() {
	ch, unsub := bus.Subscribe()
	groutine.Go(context.Background(), "capture_event_subscriber", func(ctx context.Context) {
		for ev := range ch {
			switch ev.Kind {
			case model.EventChipAdded:
				c.onChipAdded(ev)
			case model.EventChipRemoved:
				c.onChipRemoved(ev)
			}
		}
	})
	return unsub
}

func (c *Captures) onChipAdded(ev model.Event) {
	info := model.NewCaptureInfo(ev.ChipID, ev.ChipKind, ev.DeviceName, time.Now())
	c.entries.Insert(ev.ChipID, info)
	if c.pcapOnAdd {
		if err := c.StartCapture(info); err != nil {
			c.logger.WithError(err).WithField("chip_id", ev.ChipID).Warn("capture: failed to start capture on chip add")
		}
	}
}

func (c *Captures) onChipRemoved(ev model.Event) {
	info, ok := c.entries.Get(ev.ChipID)
	if !ok {
		return
	}
	info.Lock()
	info.Valid = false
	c.unlockedStopCapture(info)
	info.Unlock()
}

// Get returns the CaptureInfo for chipID, if one exists.
func (c *Captures) Get(chipID model.ChipId) (*model.CaptureInfo, bool) {
	return c.entries.Get(chipID)
}

// List returns a snapshot of every CaptureInfo currently tracked, in no
// particular order.
func (c *Captures) List() []*model.CaptureInfo {
	var out []*model.CaptureInfo
	c.entries.Range(func(_ model.ChipId, v *model.CaptureInfo) bool {
		out = append(out, v)
		return true
	})
	return out
}

func (c *Captures) path(info *model.CaptureInfo) string {
	name := fmt.Sprintf("netsim-%d-%s-%s.pcap", info.ChipID, sanitize(info.DeviceName), info.Kind.String())
	return filepath.Join(c.dir, name)
}

func sanitize(s string) string {
	if s == "" {
		return "device"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// StartCapture opens (create/truncate) the backing pcap file for info and
// writes the global header, registering info under its chip ID if no entry
// exists for it yet. A no-op if info is already capturing.
func (c *Captures) StartCapture(info *model.CaptureInfo) error {
	info.Lock()
	defer info.Unlock()
	if info.IsOpen() {
		return nil
	}

	path := c.path(info)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("capture: open %s: %w", path, err)
	}

	w := pcapgo.NewWriter(f)
	n, err := writeGlobalHeader(w, info.Kind)
	if err != nil {
		f.Close()
		return err
	}

	c.writers.Store(info.ChipID, &writerState{pcap: w})
	c.entries.Insert(info.ChipID, info)
	info.File = f
	info.Path = path
	info.Size = uint64(n)
	info.Records = 0
	now := time.Now()
	info.CreatedSec = now.Unix()
	info.CreatedNsec = int64(now.Nanosecond())
	return nil
}

// StopCapture closes info's backing file, if open, retaining the recorded
// size/records for later download.
func (c *Captures) StopCapture(info *model.CaptureInfo) {
	info.Lock()
	defer info.Unlock()
	c.unlockedStopCapture(info)
}

func (c *Captures) unlockedStopCapture(info *model.CaptureInfo) {
	if !info.IsOpen() {
		return
	}
	if err := info.File.Close(); err != nil {
		c.logger.WithError(err).WithField("chip_id", info.ChipID).Warn("capture: error closing pcap file")
	}
	info.File = nil
	c.writers.Delete(info.ChipID)
}

// PatchCapture implements PatchCapture(id, on/off): state=on starts
// capture (no-op if already running), state=off stops it.
func (c *Captures) PatchCapture(chipID model.ChipId, on bool) error {
	info, ok := c.entries.Get(chipID)
	if !ok {
		return neterr.NotFound
	}
	if on {
		return c.StartCapture(info)
	}
	c.StopCapture(info)
	return nil
}

// Direction distinguishes the two packet flows a capture record can carry.
type Direction int

const (
	// HostToController is a request: emulator -> backend.
	HostToController Direction = iota
	// ControllerToHost is a response: backend -> emulator.
	ControllerToHost
)

// Tee appends one record for frame to chipID's capture file, if one is
// open. Append failures are logged and swallowed; they never propagate to
// the router.
func (c *Captures) Tee(chipID model.ChipId, frame []byte, dir Direction) {
	info, ok := c.entries.Get(chipID)
	if !ok {
		return
	}
	info.Lock()
	defer info.Unlock()
	if !info.IsOpen() {
		return
	}
	wsAny, ok := c.writers.Load(chipID)
	if !ok {
		return
	}
	ws := wsAny.(*writerState)

	payload, err := buildRecordPayload(info.Kind, frame, dir == HostToController)
	if err != nil {
		c.logger.WithError(err).WithField("chip_id", chipID).Warn("capture: failed to frame record")
		return
	}
	n, err := appendRecord(ws.pcap, payload, time.Now())
	if err != nil {
		c.logger.WithError(err).WithField("chip_id", chipID).Warn("capture: failed to append record")
		return
	}
	info.Size += uint64(n)
	info.Records++
}

// CloseAll stops every currently-open capture file, for the inactivity
// supervisor's shutdown sequence.
func (c *Captures) CloseAll() {
	c.entries.Range(func(_ model.ChipId, info *model.CaptureInfo) bool {
		c.StopCapture(info)
		return true
	})
}

// GetCapture streams chipID's on-disk capture bytes in fixed-size chunks to
// w. The file is never truncated while this runs; a concurrent append (from
// a still-live chip) is safe to observe mid-stream, it just means the
// reader may or may not see the newest records depending on timing.
func (c *Captures) GetCapture(chipID model.ChipId, w func(chunk []byte) error) error {
	info, ok := c.entries.Get(chipID)
	if !ok {
		return neterr.NotFound
	}
	info.Lock()
	path := info.Path
	info.Unlock()
	if path == "" {
		return fmt.Errorf("%w: capture never started for chip %d", neterr.FailedPrecondition, chipID)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("capture: open %s for read: %w", path, err)
	}
	defer f.Close()

	const chunkSize = 64 * 1024
	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := w(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
