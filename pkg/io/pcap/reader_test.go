package pcap

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logio "github.com/hed1ad/logclust/pkg/io"
)

var _ logio.IntervalReader = (*Reader)(nil)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func tcpPacket(t *testing.T, dstPort uint16, at time.Duration) gopacket.Packet {
	return buildPacket(t, layers.IPProtocolTCP, dstPort, at)
}

func udpPacket(t *testing.T, dstPort uint16, at time.Duration) gopacket.Packet {
	return buildPacket(t, layers.IPProtocolUDP, dstPort, at)
}

func buildPacket(t *testing.T, proto layers.IPProtocol, dstPort uint16, at time.Duration) gopacket.Packet {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}

	var transport gopacket.SerializableLayer
	switch proto {
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{SrcPort: 40000, DstPort: layers.TCPPort(dstPort), SYN: true}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		transport = tcp
	default:
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
		transport = udp
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload("x")))

	packet := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	packet.Metadata().Timestamp = base.Add(at)
	return packet
}

func TestMessageID(t *testing.T) {
	tests := []struct {
		name     string
		packet   gopacket.Packet
		wantID   int
		wantName string
	}{
		{
			name:     "tcp https",
			packet:   tcpPacket(t, 443, 0),
			wantID:   6<<16 | 443,
			wantName: "tcp/443",
		},
		{
			name:     "udp dns",
			packet:   udpPacket(t, 53, 0),
			wantID:   17<<16 | 53,
			wantName: "udp/53",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := MessageID(tt.packet)
			assert.Equal(t, tt.wantID, id)
			assert.Contains(t, DescribeID(id), tt.wantName)
		})
	}
}

func TestIntervalBuilderWindows(t *testing.T) {
	b := NewIntervalBuilder("eth0", time.Second)

	assert.Empty(t, b.Add(tcpPacket(t, 443, 250*time.Millisecond)))
	assert.Empty(t, b.Add(tcpPacket(t, 443, 750*time.Millisecond)))
	assert.Empty(t, b.Add(udpPacket(t, 53, 500*time.Millisecond)))

	// Skipping a whole window emits it as an empty interval.
	done := b.Add(udpPacket(t, 53, 2500*time.Millisecond))
	require.Len(t, done, 2)

	first := done[0]
	assert.Equal(t, "eth0", first.Segment)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, 6<<16|443, first.Messages[0].ID)
	assert.Equal(t, 2, first.Messages[0].Count)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, first.Messages[0].Timeline, 1e-9)
	assert.Equal(t, 17<<16|53, first.Messages[1].ID)

	assert.Empty(t, done[1].Messages)

	iv, ok := b.Flush()
	require.True(t, ok)
	require.Len(t, iv.Messages, 1)
	assert.InDeltaSlice(t, []float64{0.5}, iv.Messages[0].Timeline, 1e-9)

	_, ok = b.Flush()
	assert.False(t, ok)
}

func TestIntervalBuilderDropsLatePackets(t *testing.T) {
	b := NewIntervalBuilder("eth0", time.Second)
	b.Add(tcpPacket(t, 80, 1500*time.Millisecond))

	assert.Empty(t, b.Add(tcpPacket(t, 22, 100*time.Millisecond)))

	iv, ok := b.Flush()
	require.True(t, ok)
	require.Len(t, iv.Messages, 1)
	assert.Equal(t, 6<<16|80, iv.Messages[0].ID)
}

func TestIntervalBuilderDefaultWindow(t *testing.T) {
	b := NewIntervalBuilder("x", 0)
	assert.Equal(t, DefaultWindow, b.window)
}

func TestReaderNotInitialized(t *testing.T) {
	r := &Reader{}
	_, err := r.Read()
	assert.Error(t, err)
	assert.NoError(t, r.Close())
}
