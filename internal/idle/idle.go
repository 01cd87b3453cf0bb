// Package idle implements the inactivity supervisor: a 1 Hz poller
// watching the registry's idle timer, and the ordered shutdown sequence
// that runs once ShutDown is published.
package idle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/eventbus"
	"github.com/google/netsim-packet-core/internal/groutine"
	"github.com/google/netsim-packet-core/internal/model"
)

// Threshold is the idle duration after which ShutDown fires.
const Threshold = 120 * time.Second

// IdleSource reports the instant the registry's device set became empty,
// satisfied by *registry.Registry.
type IdleSource interface {
	IdleSince() (time.Time, bool)
}

// Supervisor polls source at 1 Hz and publishes ShutDown on bus once the
// device set has been empty for Threshold, unless Override is set (the
// daemon's --dev / test-mode escape hatch).
type Supervisor struct {
	source IdleSource
	bus    *eventbus.Bus
	logger *logrus.Logger

	override atomic.Bool
	fired    atomic.Bool
}

// New creates a Supervisor. Call Run to start polling.
func New(source IdleSource, bus *eventbus.Bus, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Supervisor{source: source, bus: bus, logger: logger}
}

// SetOverride disables/enables automatic shutdown.
func (s *Supervisor) SetOverride(on bool) {
	s.override.Store(on)
}

// Run starts the 1 Hz poller as a named goroutine; it exits when ctx is
// cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	groutine.Go(ctx, "session_monitor", func(ctx context.Context) {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	})
}

func (s *Supervisor) tick() {
	if s.override.Load() || s.fired.Load() {
		return
	}
	since, idle := s.source.IdleSince()
	if !idle {
		return
	}
	if time.Since(since) < Threshold {
		return
	}
	s.fired.Store(true)
	s.logger.Info("idle: device set empty for 120s, publishing shutdown")
	s.bus.Publish(model.Event{Kind: model.EventShutDown, Reason: "inactivity"})
}

// Shutdowner reacts to a published ShutDown event by tearing down the
// daemon's long-lived components in a fixed order: gRPC server,
// Wi-Fi backend, Bluetooth backend, capture files. Each Stop* field is
// optional; nil steps are skipped, which lets tests exercise a subset.
type Shutdowner struct {
	StopGrpc      func()
	StopWifi      func()
	StopBluetooth func()
	StopCaptures  func()
	Logger        *logrus.Logger
}

// Subscribe drains bus's events on a dedicated goroutine, running the
// shutdown sequence the first time a ShutDown event arrives.
func (s *Shutdowner) Subscribe(bus *eventbus.Bus) func() {
	ch, unsub := bus.Subscribe()
	groutine.Go(context.Background(), "session_monitor_shutdown", func(ctx context.Context) {
		ran := false
		for ev := range ch {
			if ev.Kind == model.EventShutDown && !ran {
				ran = true
				s.run(ev)
			}
		}
	})
	return unsub
}

func (s *Shutdowner) run(ev model.Event) {
	logger := s.logger()
	logger.WithField("reason", ev.Reason).Info("idle: running shutdown sequence")
	if s.StopGrpc != nil {
		s.StopGrpc()
	}
	if s.StopWifi != nil {
		s.StopWifi()
	}
	if s.StopBluetooth != nil {
		s.StopBluetooth()
	}
	if s.StopCaptures != nil {
		s.StopCaptures()
	}
}

func (s *Shutdowner) logger() *logrus.Logger {
	if s.Logger == nil {
		return logrus.New()
	}
	return s.Logger
}
