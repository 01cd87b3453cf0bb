package chip

import (
	"context"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/google/netsim-packet-core/internal/groutine"
)

const mdnsPort = 5353

var (
	mdnsGroup = net.IPv4(224, 0, 0, 251)
	// The IPv4 multicast MAC for 224.0.0.251; used as both source and
	// destination on injected frames since no real host NIC is involved.
	mdnsMac = net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb}
)

// StartMdnsForwarder joins the host's mDNS multicast group and injects
// every received datagram into the medium as an 802.3 frame, so stations
// can discover services advertised on the host network. The listener stops
// when ctx is cancelled.
func (m *WifiManager) StartMdnsForwarder(ctx context.Context) error {
	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: mdnsGroup, Port: mdnsPort})
	if err != nil {
		return fmt.Errorf("wifi: mdns listen: %w", err)
	}

	groutine.Go(ctx, "wifi_mdns_forwarder_shutdown_watch", func(ctx context.Context) {
		<-ctx.Done()
		conn.Close()
	})
	groutine.Go(ctx, "wifi_mdns_forwarder", func(ctx context.Context) {
		buf := make([]byte, 9000)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			frame, err := mdnsEthernetFrame(buf[:n], src.IP)
			if err != nil {
				m.logger.WithError(err).Warn("wifi: failed to frame mdns datagram")
				continue
			}
			if err := m.medium.DeliverFromNetwork(frame); err != nil {
				m.logger.WithError(err).Warn("wifi: mdns delivery failed")
			}
		}
	})
	m.logger.Info("wifi: forwarding host mdns")
	return nil
}

// mdnsEthernetFrame wraps one mDNS payload in Ethernet/IPv4/UDP headers
// addressed to the mDNS multicast group, the framing the medium expects for
// traffic arriving from the network egress.
func mdnsEthernetFrame(payload []byte, src net.IP) ([]byte, error) {
	srcIP := src.To4()
	if srcIP == nil {
		srcIP = net.IPv4zero.To4()
	}

	eth := &layers.Ethernet{
		SrcMAC:       mdnsMac,
		DstMAC:       mdnsMac,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    mdnsGroup,
	}
	udp := &layers.UDP{SrcPort: mdnsPort, DstPort: mdnsPort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("wifi: mdns frame: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("wifi: mdns frame: %w", err)
	}
	return buf.Bytes(), nil
}
