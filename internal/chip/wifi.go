package chip

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/groutine"
	"github.com/google/netsim-packet-core/internal/model"
)

// WifiChipId identifies a station registered with the 802.11 medium.
type WifiChipId uint32

// WifiNetworkConfig tunes the medium's network egress: the DNS server(s)
// handed to guests, an HTTP proxy URL for guest traffic, and an optional
// host TAP device to use instead of the built-in egress backend.
type WifiNetworkConfig struct {
	HostDns   string
	HttpProxy string
	Tap       string
}

// Destination describes where a frame asked the medium for should go.
// A single frame may be routed to more than one destination.
type Destination struct {
	ToHostapd bool
	ToNetwork bool
	ToPeer    bool
	PeerID    WifiChipId
}

// WifiMedium is the contract the 802.11 medium/hostapd/egress stack must
// satisfy. A single process-wide implementation is shared by every Wi-Fi
// chip; Add/Remove/SetEnabled key everything off WifiChipId.
type WifiMedium interface {
	Add(id WifiChipId, respond func(frame []byte)) error
	Remove(id WifiChipId) error
	SetEnabled(id WifiChipId, enabled bool) error

	// Route classifies frame and returns where it must be delivered; it does
	// not itself deliver the frame.
	Route(id WifiChipId, frame []byte) (Destination, error)

	// ToHostapd re-encrypts and forwards frame (peer-to-peer or uplink) to
	// the hostapd instance on behalf of id.
	ToHostapd(id WifiChipId, frame []byte) error
	// ToNetwork forwards an 802.3 frame to the network egress interface.
	ToNetwork(id WifiChipId, frame []byte) error
	// ToPeer hands frame directly to another station's response sink.
	ToPeer(id WifiChipId, peer WifiChipId, frame []byte) error

	// HostapdFrames and NetworkFrames are drained continuously by the
	// response worker goroutines; each returns ok=false once the medium is
	// closed.
	HostapdFrames(ctx context.Context) (frame []byte, ok bool)
	NetworkFrames(ctx context.Context) (frame []byte, ok bool)

	// DeliverFromHostapd / DeliverFromNetwork hands a drained frame back to
	// the medium for delivery to the right station(s).
	DeliverFromHostapd(frame []byte) error
	DeliverFromNetwork(frame []byte) error
}

type pendingFrame struct {
	id    WifiChipId
	frame []byte
}

// WifiManager is the process-wide singleton owning the medium and its three
// worker goroutines. One manager backs every Wifi chip in the process.
type WifiManager struct {
	medium WifiMedium
	logger *logrus.Logger

	mu      sync.Mutex
	queue   []pendingFrame
	queueCh chan struct{}
	sniff   func(frame []byte)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	wifiManagerOnce sync.Once
	wifiManager     *WifiManager
)

// InitWifiManager installs the process-wide WifiManager, starting its three
// worker goroutines. Calling it more than once is a no-op: only the first
// medium takes effect, matching the singleton contract.
func InitWifiManager(medium WifiMedium, logger *logrus.Logger) *WifiManager {
	wifiManagerOnce.Do(func() {
		if logger == nil {
			logger = logrus.New()
		}
		ctx, cancel := context.WithCancel(context.Background())
		wifiManager = &WifiManager{
			medium:  medium,
			logger:  logger,
			queueCh: make(chan struct{}, 1),
			ctx:     ctx,
			cancel:  cancel,
		}
		wifiManager.start()
	})
	return wifiManager
}

// CurrentWifiManager returns the installed singleton, or nil if
// InitWifiManager has not been called.
func CurrentWifiManager() *WifiManager { return wifiManager }

func (m *WifiManager) start() {
	m.wg.Add(3)
	groutine.Go(m.ctx, "wifi_request_worker", func(ctx context.Context) {
		defer m.wg.Done()
		m.requestLoop(ctx)
	})
	groutine.Go(m.ctx, "wifi_8023_response_worker", func(ctx context.Context) {
		defer m.wg.Done()
		m.networkResponseLoop(ctx)
	})
	groutine.Go(m.ctx, "wifi_80211_response_worker", func(ctx context.Context) {
		defer m.wg.Done()
		m.hostapdResponseLoop(ctx)
	})
}

// enqueue hands one (chip, frame) pair to the request worker. A buffered
// queue with a wakeup channel gives single-consumer ordering without
// busy-waiting.
func (m *WifiManager) enqueue(id WifiChipId, frame []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, pendingFrame{id: id, frame: frame})
	m.mu.Unlock()
	select {
	case m.queueCh <- struct{}{}:
	default:
	}
}

func (m *WifiManager) requestLoop(ctx context.Context) {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-m.queueCh:
				continue
			}
		}
		pf := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		dest, err := m.medium.Route(pf.id, pf.frame)
		if err != nil {
			m.logger.WithError(err).Warn("wifi: route failed")
			continue
		}
		if dest.ToHostapd {
			if err := m.medium.ToHostapd(pf.id, pf.frame); err != nil {
				m.logger.WithError(err).Warn("wifi: hostapd delivery failed")
			}
		}
		if dest.ToNetwork {
			if err := m.medium.ToNetwork(pf.id, pf.frame); err != nil {
				m.logger.WithError(err).Warn("wifi: network delivery failed")
			}
		}
		if dest.ToPeer {
			if err := m.medium.ToPeer(pf.id, dest.PeerID, pf.frame); err != nil {
				m.logger.WithError(err).Warn("wifi: peer delivery failed")
			}
		}
	}
}

// SetNetworkSniffer installs fn to observe every 802.3 frame drained from
// the network egress before delivery to stations. The daemon points this at
// the DNS reverse-lookup cache so sniffed answers resolve proxy-side names.
func (m *WifiManager) SetNetworkSniffer(fn func(frame []byte)) {
	m.mu.Lock()
	m.sniff = fn
	m.mu.Unlock()
}

func (m *WifiManager) networkResponseLoop(ctx context.Context) {
	for {
		frame, ok := m.medium.NetworkFrames(ctx)
		if !ok {
			return
		}
		m.mu.Lock()
		sniff := m.sniff
		m.mu.Unlock()
		if sniff != nil {
			sniff(frame)
		}
		if err := m.medium.DeliverFromNetwork(frame); err != nil {
			m.logger.WithError(err).Warn("wifi: network response delivery failed")
		}
	}
}

func (m *WifiManager) hostapdResponseLoop(ctx context.Context) {
	for {
		frame, ok := m.medium.HostapdFrames(ctx)
		if !ok {
			return
		}
		if err := m.medium.DeliverFromHostapd(frame); err != nil {
			m.logger.WithError(err).Warn("wifi: hostapd response delivery failed")
		}
	}
}

func (m *WifiManager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// Wifi is one station's WirelessChip binding to the shared WifiManager.
type Wifi struct {
	manager *WifiManager
	id      WifiChipId
	address string

	enabled atomic.Bool
	tx, rx  atomic.Uint32
}

// NewWifi registers address as a new station on manager's medium.
func NewWifi(manager *WifiManager, id WifiChipId, address string, responder func(frame []byte)) (*Wifi, error) {
	if manager == nil {
		return nil, fmt.Errorf("wifi: no WifiManager installed")
	}
	w := &Wifi{manager: manager, id: id, address: address}
	w.enabled.Store(true)
	wrapped := func(frame []byte) {
		w.rx.Add(1)
		if responder != nil {
			responder(frame)
		}
	}
	if err := manager.medium.Add(id, wrapped); err != nil {
		return nil, fmt.Errorf("wifi: medium add failed: %w", err)
	}
	return w, nil
}

// HandleRequest enqueues frame for the request worker.
func (w *Wifi) HandleRequest(frame []byte) error {
	w.tx.Add(1)
	w.manager.enqueue(w.id, frame)
	return nil
}

func (w *Wifi) Reset() error {
	w.tx.Store(0)
	w.rx.Store(0)
	return w.setEnabled(true)
}

func (w *Wifi) setEnabled(enabled bool) error {
	if err := w.manager.medium.SetEnabled(w.id, enabled); err != nil {
		return fmt.Errorf("wifi: set_enabled failed: %w", err)
	}
	w.enabled.Store(enabled)
	return nil
}

func (w *Wifi) Get() (model.ChipProto, error) {
	enabled := w.enabled.Load()
	return model.ChipProto{Kind: model.ChipKindWifi, Enabled: &enabled, Address: w.address, TxCount: w.tx.Load(), RxCount: w.rx.Load()}, nil
}

func (w *Wifi) Patch(patch model.ChipProto) error {
	if patch.Kind != model.ChipKindWifi && patch.Kind != model.ChipKindUnspecified {
		return nil
	}
	if patch.Enabled != nil && *patch.Enabled != w.enabled.Load() {
		return w.setEnabled(*patch.Enabled)
	}
	return nil
}

func (w *Wifi) GetStats(durationSec float64) ([]model.RadioStats, error) {
	return []model.RadioStats{{Kind: model.ChipKindWifi, DurationSec: durationSec, TxCount: w.tx.Load(), RxCount: w.rx.Load()}}, nil
}

func (w *Wifi) Kind() model.ChipKind { return model.ChipKindWifi }

func (w *Wifi) Close() error {
	return w.manager.medium.Remove(w.id)
}
