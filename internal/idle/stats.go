package idle

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/eventbus"
	"github.com/google/netsim-packet-core/internal/groutine"
	"github.com/google/netsim-packet-core/internal/model"
)

// SessionStats accumulates per-session device and chip counters from bus
// events and writes them as session_stats.json when ShutDown is published,
// so an operator can see what a daemon instance served after it is gone.
type SessionStats struct {
	path   string
	logger *logrus.Logger
	start  time.Time

	mu             sync.Mutex
	deviceCount    uint32 // total devices seen over the session, not concurrent
	chipCount      uint32
	currentDevices int
	peakDevices    int
	shutdownReason string
}

// sessionStatsDoc is the on-disk JSON shape.
type sessionStatsDoc struct {
	DurationSecs   int64  `json:"duration_secs"`
	DeviceCount    uint32 `json:"device_count"`
	ChipCount      uint32 `json:"chip_count"`
	PeakDevices    int    `json:"peak_concurrent_devices"`
	ShutdownReason string `json:"shutdown_reason,omitempty"`
}

// NewSessionStats creates a collector that will write to path on shutdown.
func NewSessionStats(path string, logger *logrus.Logger) *SessionStats {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionStats{path: path, logger: logger, start: time.Now()}
}

// Subscribe drains bus's events on a dedicated goroutine, updating counters
// as devices and chips come and go, and writing the stats file once a
// ShutDown event arrives.
func (s *SessionStats) Subscribe(bus *eventbus.Bus) func() {
	ch, unsub := bus.Subscribe()
	groutine.Go(context.Background(), "session_stats_subscriber", func(ctx context.Context) {
		for ev := range ch {
			s.observe(ev)
		}
	})
	return unsub
}

func (s *SessionStats) observe(ev model.Event) {
	s.mu.Lock()
	switch ev.Kind {
	case model.EventDeviceAdded:
		s.deviceCount++
		s.currentDevices++
		if s.currentDevices > s.peakDevices {
			s.peakDevices = s.currentDevices
		}
	case model.EventDeviceRemoved:
		s.currentDevices = ev.Remaining
	case model.EventChipAdded:
		s.chipCount++
	case model.EventShutDown:
		s.shutdownReason = ev.Reason
		s.mu.Unlock()
		if err := s.Write(); err != nil {
			s.logger.WithError(err).Warn("idle: failed to write session stats")
		}
		return
	}
	s.mu.Unlock()
}

// Write serializes the current counters to the stats path.
func (s *SessionStats) Write() error {
	s.mu.Lock()
	doc := sessionStatsDoc{
		DurationSecs:   int64(time.Since(s.start).Seconds()),
		DeviceCount:    s.deviceCount,
		ChipCount:      s.chipCount,
		PeakDevices:    s.peakDevices,
		ShutdownReason: s.shutdownReason,
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
