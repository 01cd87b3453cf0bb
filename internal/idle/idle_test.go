package idle_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/eventbus"
	"github.com/google/netsim-packet-core/internal/idle"
	"github.com/google/netsim-packet-core/internal/model"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeIdleSource struct {
	since time.Time
	idle  bool
}

func (f *fakeIdleSource) IdleSince() (time.Time, bool) { return f.since, f.idle }

func TestSupervisorFiresAfterThreshold(t *testing.T) {
	bus := eventbus.New(testLogger())
	ch, unsub := bus.Subscribe()
	defer unsub()

	source := &fakeIdleSource{since: time.Now().Add(-idle.Threshold - time.Second), idle: true}
	sup := idle.New(source, bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Run(ctx)

	select {
	case ev := <-ch:
		require.Equal(t, model.EventShutDown, ev.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for ShutDown event")
	}
}

func TestSupervisorDoesNotFireBeforeThreshold(t *testing.T) {
	bus := eventbus.New(testLogger())
	ch, unsub := bus.Subscribe()
	defer unsub()

	source := &fakeIdleSource{since: time.Now(), idle: true}
	sup := idle.New(source, bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Run(ctx)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected early event: %v", ev)
	case <-time.After(1200 * time.Millisecond):
	}
}

func TestSupervisorOverrideSuppressesShutdown(t *testing.T) {
	bus := eventbus.New(testLogger())
	ch, unsub := bus.Subscribe()
	defer unsub()

	source := &fakeIdleSource{since: time.Now().Add(-idle.Threshold - time.Second), idle: true}
	sup := idle.New(source, bus, testLogger())
	sup.SetOverride(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Run(ctx)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event with override set: %v", ev)
	case <-time.After(1200 * time.Millisecond):
	}
}

func TestSupervisorDoesNotFireWhenNotIdle(t *testing.T) {
	bus := eventbus.New(testLogger())
	ch, unsub := bus.Subscribe()
	defer unsub()

	source := &fakeIdleSource{idle: false}
	sup := idle.New(source, bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Run(ctx)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event while registry is not idle: %v", ev)
	case <-time.After(1200 * time.Millisecond):
	}
}

// The shutdown sequence runs gRPC, Wi-Fi, Bluetooth, then captures, in
// that order.
func TestShutdownerRunsStepsInOrder(t *testing.T) {
	order := make(chan string, 4)
	step := func(name string) func() {
		return func() { order <- name }
	}

	s := &idle.Shutdowner{
		StopGrpc:      step("grpc"),
		StopWifi:      step("wifi"),
		StopBluetooth: step("bluetooth"),
		StopCaptures:  step("captures"),
		Logger:        testLogger(),
	}

	bus := eventbus.New(testLogger())
	unsub := s.Subscribe(bus)
	defer unsub()

	bus.Publish(model.Event{Kind: model.EventShutDown, Reason: "test"})

	var got []string
	for i := 0; i < 4; i++ {
		select {
		case name := <-order:
			got = append(got, name)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d steps", len(got))
		}
	}
	require.Equal(t, []string{"grpc", "wifi", "bluetooth", "captures"}, got)
}

func TestShutdownerSkipsNilSteps(t *testing.T) {
	called := make(chan struct{}, 1)
	s := &idle.Shutdowner{StopCaptures: func() { called <- struct{}{} }}

	bus := eventbus.New(testLogger())
	unsub := s.Subscribe(bus)
	defer unsub()

	bus.Publish(model.Event{Kind: model.EventShutDown})

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for StopCaptures")
	}
}
