// Package pcap turns PCAP files or live captures into message intervals.
//
// Packets are bucketed into fixed-duration windows. Each packet class,
// derived from its transport protocol and destination port, plays the role
// of a message id, so the mutual-information estimator can relate traffic
// classes that tend to appear together.
package pcap

import (
	"context"
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/hed1ad/logclust/pkg/mutualinfo"
)

// DefaultWindow is the interval duration used when none is configured.
const DefaultWindow = time.Second

// Reader reads packets from PCAP files or live interfaces.
type Reader struct {
	handle  *pcap.Handle
	builder *IntervalBuilder
	isLive  bool
}

// NewFileReader creates a reader for PCAP files.
func NewFileReader(filename string, window time.Duration) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, err
	}

	return &Reader{
		handle:  handle,
		builder: NewIntervalBuilder(filename, window),
		isLive:  false,
	}, nil
}

// NewLiveReader creates a reader for live packet capture.
func NewLiveReader(iface string, snaplen int32, promisc bool, timeout, window time.Duration) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, timeout)
	if err != nil {
		return nil, err
	}

	return &Reader{
		handle:  handle,
		builder: NewIntervalBuilder(iface, window),
		isLive:  true,
	}, nil
}

// Read returns all packets grouped into intervals. On a live capture it
// blocks until the handle is closed.
func (r *Reader) Read() ([]mutualinfo.Interval, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	var data []mutualinfo.Interval
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	for packet := range packetSource.Packets() {
		data = append(data, r.builder.Add(packet)...)
	}
	if iv, ok := r.builder.Flush(); ok {
		data = append(data, iv)
	}

	return data, nil
}

// Stream returns a channel of intervals for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan mutualinfo.Interval, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	out := make(chan mutualinfo.Interval, 1000)
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	send := func(iv mutualinfo.Interval) bool {
		select {
		case out <- iv:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-packetSource.Packets():
				if !ok {
					if iv, ok := r.builder.Flush(); ok {
						send(iv)
					}
					return
				}
				for _, iv := range r.builder.Add(packet) {
					if !send(iv) {
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	return nil
}

// IntervalBuilder buckets packets into fixed-duration intervals.
type IntervalBuilder struct {
	segment string
	window  time.Duration

	start   time.Time
	current map[int]*mutualinfo.Message
	order   []int
}

// NewIntervalBuilder creates a builder. segment labels every interval it
// produces.
func NewIntervalBuilder(segment string, window time.Duration) *IntervalBuilder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &IntervalBuilder{
		segment: segment,
		window:  window,
		current: make(map[int]*mutualinfo.Message),
	}
}

// Add records a packet and returns the intervals it completed, including
// empty ones for windows without traffic. Packets without a timestamp or
// older than the open window are dropped.
func (b *IntervalBuilder) Add(packet gopacket.Packet) []mutualinfo.Interval {
	md := packet.Metadata()
	if md == nil || md.Timestamp.IsZero() {
		return nil
	}
	ts := md.Timestamp

	if b.start.IsZero() {
		b.start = ts.Truncate(b.window)
	}
	if ts.Before(b.start) {
		return nil
	}

	var done []mutualinfo.Interval
	for !ts.Before(b.start.Add(b.window)) {
		done = append(done, b.take())
		b.start = b.start.Add(b.window)
	}

	id := MessageID(packet)
	msg, ok := b.current[id]
	if !ok {
		msg = &mutualinfo.Message{ID: id}
		b.current[id] = msg
		b.order = append(b.order, id)
	}
	msg.Count++
	msg.Timeline = append(msg.Timeline, float64(ts.Sub(b.start))/float64(b.window))

	return done
}

// Flush returns the open interval, if it holds any packet, and resets the
// builder.
func (b *IntervalBuilder) Flush() (mutualinfo.Interval, bool) {
	if len(b.order) == 0 {
		b.start = time.Time{}
		return mutualinfo.Interval{}, false
	}
	iv := b.take()
	b.start = time.Time{}
	return iv, true
}

func (b *IntervalBuilder) take() mutualinfo.Interval {
	iv := mutualinfo.Interval{Segment: b.segment}
	for _, id := range b.order {
		iv.Messages = append(iv.Messages, *b.current[id])
	}
	b.current = make(map[int]*mutualinfo.Message)
	b.order = b.order[:0]
	return iv
}

// MessageID derives a packet class: the IP protocol number times 65536
// plus the destination port. Packets without a known transport get the
// bare protocol number, or 0.
func MessageID(packet gopacket.Packet) int {
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		return int(layers.IPProtocolTCP)<<16 | int(tcp.DstPort)
	}
	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		return int(layers.IPProtocolUDP)<<16 | int(udp.DstPort)
	}
	if packet.Layer(layers.LayerTypeICMPv4) != nil {
		return int(layers.IPProtocolICMPv4) << 16
	}
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		return int(ipLayer.(*layers.IPv4).Protocol) << 16
	}
	return 0
}

// DescribeID reverses MessageID into "proto/port", naming well-known ports.
func DescribeID(id int) string {
	proto := layers.IPProtocol(id >> 16)
	port := id & 0xffff
	switch proto {
	case layers.IPProtocolTCP:
		return "tcp/" + layers.TCPPort(port).String()
	case layers.IPProtocolUDP:
		return "udp/" + layers.UDPPort(port).String()
	default:
		return proto.String()
	}
}
