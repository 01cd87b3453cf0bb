package chip

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

func TestMdnsEthernetFrameShape(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x84, 0x00} // mDNS response header stub
	frame, err := mdnsEthernetFrame(payload, net.IPv4(192, 168, 1, 10))
	require.NoError(t, err)

	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	require.NotNil(t, ipLayer)
	ip := ipLayer.(*layers.IPv4)
	require.Equal(t, "224.0.0.251", ip.DstIP.String())
	require.Equal(t, "192.168.1.10", ip.SrcIP.String())

	udpLayer := packet.Layer(layers.LayerTypeUDP)
	require.NotNil(t, udpLayer)
	udp := udpLayer.(*layers.UDP)
	require.EqualValues(t, mdnsPort, udp.SrcPort)
	require.EqualValues(t, mdnsPort, udp.DstPort)
	require.Equal(t, payload, udp.Payload)
}

func TestMdnsEthernetFrameFallsBackToZeroSource(t *testing.T) {
	frame, err := mdnsEthernetFrame([]byte{0x01}, net.ParseIP("2001:db8::1"))
	require.NoError(t, err)

	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.Equal(t, "0.0.0.0", ip.SrcIP.String())
}

// A frame injected the way the forwarder injects it reaches every enabled
// station on the medium.
func TestMdnsFrameDeliversToStations(t *testing.T) {
	medium := NewDefaultWifiMedium(WifiNetworkConfig{})
	received := make(chan []byte, 1)
	require.NoError(t, medium.Add(1, func(frame []byte) { received <- frame }))

	frame, err := mdnsEthernetFrame([]byte{0x00, 0x00}, net.IPv4(10, 0, 0, 1))
	require.NoError(t, err)
	require.NoError(t, medium.DeliverFromNetwork(frame))

	select {
	case got := <-received:
		require.Equal(t, frame, got)
	default:
		t.Fatal("expected delivery to the registered station")
	}
}
