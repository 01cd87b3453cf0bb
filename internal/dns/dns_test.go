package dns_test

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/dns"
)

// buildDNSResponseFrame assembles a minimal Ethernet/IPv4/UDP frame carrying
// one DNS A-record answer from src port 53, mirroring what the Wi-Fi proxy
// side sniffs off the network egress interface.
func buildDNSResponseFrame(t *testing.T, name string, ip net.IP) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(8, 8, 8, 8),
		DstIP:    net.IPv4(192, 168, 1, 2),
	}
	udp := &layers.UDP{SrcPort: 53, DstPort: 54321}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ipLayer))

	rrType := layers.DNSTypeA
	if ip.To4() == nil {
		rrType = layers.DNSTypeAAAA
	}
	dnsLayer := &layers.DNS{
		QR: true,
		Answers: []layers.DNSResourceRecord{
			{
				Name:  []byte(name),
				Type:  rrType,
				Class: layers.DNSClassIN,
				IP:    ip,
			},
		},
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ipLayer, udp, dnsLayer))
	return buf.Bytes()
}

func TestAddFromEthernetSliceInsertsARecord(t *testing.T) {
	m := dns.New()
	frame := buildDNSResponseFrame(t, "example.test", net.IPv4(1, 2, 3, 4))

	m.AddFromEthernetSlice(frame)

	name, ok := m.Get(net.IPv4(1, 2, 3, 4))
	require.True(t, ok)
	require.Equal(t, "example.test", name)
}

func TestGetUnknownAddressReturnsFalse(t *testing.T) {
	m := dns.New()
	_, ok := m.Get(net.IPv4(9, 9, 9, 9))
	require.False(t, ok)
}

// Frames that are not DNS responses (e.g. a non-port-53 UDP datagram) are
// silently ignored.
func TestAddFromEthernetSliceIgnoresNonDNSTraffic(t *testing.T) {
	m := dns.New()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2)}
	udp := &layers.UDP{SrcPort: 1234, DstPort: 5678}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ipLayer))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ipLayer, udp, gopacket.Payload([]byte{0x01, 0x02})))

	require.NotPanics(t, func() { m.AddFromEthernetSlice(buf.Bytes()) })
}

// Garbage bytes never panic; best-effort snooping just sees no DNS layer.
func TestAddFromEthernetSliceIgnoresGarbage(t *testing.T) {
	m := dns.New()
	require.NotPanics(t, func() { m.AddFromEthernetSlice([]byte{0x00, 0x01, 0x02}) })
}

func TestAddFromEthernetSliceInsertsAAAARecord(t *testing.T) {
	m := dns.New()
	ip := net.ParseIP("2001:db8::1")
	frame := buildDNSResponseFrame(t, "v6.example.test", ip)

	m.AddFromEthernetSlice(frame)

	name, ok := m.Get(ip)
	require.True(t, ok)
	require.Equal(t, "v6.example.test", name)
}
