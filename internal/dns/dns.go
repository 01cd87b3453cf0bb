// Package dns implements a concurrent IP->FQDN cache
// built by snooping DNS answers in Ethernet frames; Get offers the
// reverse lookup from an address to its hostname.
package dns

import (
	"net"

	"github.com/cornelk/hashmap"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Manager is the process-wide DNS cache singleton. No entry ever expires;
// a later answer for the same address replaces the name stored for it.
type Manager struct {
	byAddr *hashmap.Map[string, string]
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{byAddr: hashmap.New[string, string]()}
}

// AddFromEthernetSlice parses frame as an Ethernet frame; if it carries a
// UDP datagram from source port 53, every A/AAAA answer record is inserted
// into the cache. Frames that are not DNS responses, or that fail to
// parse, are silently ignored: this is best-effort snooping, not a
// protocol validator.
func (m *Manager) AddFromEthernetSlice(frame []byte) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || udp.SrcPort != 53 {
		return
	}

	dnsLayer := packet.Layer(layers.LayerTypeDNS)
	if dnsLayer == nil {
		return
	}
	dnsMsg, ok := dnsLayer.(*layers.DNS)
	if !ok {
		return
	}

	for _, rr := range dnsMsg.Answers {
		switch rr.Type {
		case layers.DNSTypeA, layers.DNSTypeAAAA:
			if len(rr.IP) == 0 || len(rr.Name) == 0 {
				continue
			}
			m.insert(rr.IP, string(rr.Name))
		}
	}
}

func (m *Manager) insert(ip net.IP, name string) {
	m.byAddr.Set(ip.String(), name)
}

// Get returns the hostname last associated with ip, if any.
func (m *Manager) Get(ip net.IP) (string, bool) {
	return m.byAddr.Get(ip.String())
}
