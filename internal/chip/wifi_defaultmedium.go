package chip

import (
	"context"
	"fmt"
	"sync"
)

// DefaultWifiMedium is a minimal in-process stand-in for the real
// hostapd+libslirp+802.11-medium stack, sufficient to drive the daemon
// without the native backends attached: every frame from an enabled
// station is routed to hostapd as if it were an access-point uplink (no
// station-to-station routing is chosen), and frames arriving from hostapd
// or the network are broadcast to every enabled station. A production
// deployment replaces this with a real WifiMedium implementation.
type DefaultWifiMedium struct {
	cfg WifiNetworkConfig

	mu       sync.Mutex
	stations map[WifiChipId]*wifiStation

	hostapdOut chan []byte
	networkOut chan []byte
}

type wifiStation struct {
	respond func(frame []byte)
	enabled bool
}

// NewDefaultWifiMedium creates an empty medium. cfg is retained for the
// egress side: the in-process stand-in has no real slirp or TAP backend, so
// HostDns/HttpProxy only take effect when a native egress implementation is
// swapped in, and a non-empty Tap is reported as unsupported by the daemon.
func NewDefaultWifiMedium(cfg WifiNetworkConfig) *DefaultWifiMedium {
	return &DefaultWifiMedium{
		cfg:        cfg,
		stations:   make(map[WifiChipId]*wifiStation),
		hostapdOut: make(chan []byte, 64),
		networkOut: make(chan []byte, 64),
	}
}

// NetworkConfig returns the egress tuning the medium was built with.
func (m *DefaultWifiMedium) NetworkConfig() WifiNetworkConfig {
	return m.cfg
}

func (m *DefaultWifiMedium) Add(id WifiChipId, respond func(frame []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stations[id] = &wifiStation{respond: respond, enabled: true}
	return nil
}

func (m *DefaultWifiMedium) Remove(id WifiChipId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[id]; !ok {
		return fmt.Errorf("wifi medium: unknown station %d", id)
	}
	delete(m.stations, id)
	return nil
}

func (m *DefaultWifiMedium) SetEnabled(id WifiChipId, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stations[id]
	if !ok {
		return fmt.Errorf("wifi medium: unknown station %d", id)
	}
	st.enabled = enabled
	return nil
}

// Route has no peer-address lookup without a real 802.11 header parse, so
// every frame is treated as uplink-bound; a real medium inspects the
// destination MAC to choose between hostapd, network or a sibling station.
func (m *DefaultWifiMedium) Route(id WifiChipId, frame []byte) (Destination, error) {
	m.mu.Lock()
	st, ok := m.stations[id]
	m.mu.Unlock()
	if !ok {
		return Destination{}, fmt.Errorf("wifi medium: unknown station %d", id)
	}
	if !st.enabled {
		return Destination{}, nil
	}
	return Destination{ToHostapd: true}, nil
}

func (m *DefaultWifiMedium) ToHostapd(id WifiChipId, frame []byte) error {
	select {
	case m.hostapdOut <- frame:
	default:
	}
	return nil
}

func (m *DefaultWifiMedium) ToNetwork(id WifiChipId, frame []byte) error {
	select {
	case m.networkOut <- frame:
	default:
	}
	return nil
}

func (m *DefaultWifiMedium) ToPeer(id WifiChipId, peer WifiChipId, frame []byte) error {
	m.mu.Lock()
	st, ok := m.stations[peer]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("wifi medium: unknown peer %d", peer)
	}
	if st.respond != nil {
		st.respond(frame)
	}
	return nil
}

func (m *DefaultWifiMedium) HostapdFrames(ctx context.Context) ([]byte, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case frame := <-m.hostapdOut:
		return frame, true
	}
}

func (m *DefaultWifiMedium) NetworkFrames(ctx context.Context) ([]byte, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case frame := <-m.networkOut:
		return frame, true
	}
}

// DeliverFromHostapd broadcasts to every enabled station, standing in for
// an access point's downlink fan-out.
func (m *DefaultWifiMedium) DeliverFromHostapd(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.stations {
		if st.enabled && st.respond != nil {
			st.respond(frame)
		}
	}
	return nil
}

// DeliverFromNetwork behaves the same as DeliverFromHostapd in this
// loopback stand-in: both represent traffic arriving from outside the
// simulated medium.
func (m *DefaultWifiMedium) DeliverFromNetwork(frame []byte) error {
	return m.DeliverFromHostapd(frame)
}
