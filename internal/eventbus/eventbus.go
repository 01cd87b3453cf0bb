// Package eventbus is a multi-producer/multi-consumer broadcast of registry
// lifecycle events. Subscribers must register before a publication
// they care about; nothing is buffered retroactively.
package eventbus

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/model"
)

// subscriberBacklog bounds each subscriber's channel. While a subscriber is
// this far behind, each new publish is dropped for it; it stays registered.
const subscriberBacklog = 64

// Bus is the process-wide event broadcaster. The zero value is not usable;
// construct with New.
type Bus struct {
	logger *logrus.Logger

	mu   sync.Mutex
	subs []*subscriber
}

type subscriber struct {
	ch     chan model.Event
	closed bool
}

// New creates an empty Bus.
func New(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a new subscriber and returns its receive channel.
// The channel is closed when Unsubscribe is called or never, for the
// lifetime of the process; callers that stop reading should Unsubscribe to
// let Publish reclaim the slot instead of logging send failures forever.
func (b *Bus) Subscribe() (<-chan model.Event, func()) {
	s := &subscriber{ch: make(chan model.Event, subscriberBacklog)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		close(s.ch)
		for i, sub := range b.subs {
			if sub == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}
	return s.ch, unsubscribe
}

// Publish delivers event to every currently-registered subscriber. For a
// subscriber whose buffer is full, the event is dropped and a warning is
// logged; the subscriber stays registered and receives later events once
// its buffer has room.
func (b *Bus) Publish(event model.Event) {
	// Sends are non-blocking, so the lock is held for the whole fan-out;
	// this also keeps Publish from racing an unsubscribe's channel close.
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		select {
		case s.ch <- event:
		default:
			b.logger.WithField("event", event.String()).Warn("eventbus: subscriber backlog full, dropping event")
		}
	}
}
