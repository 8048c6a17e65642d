// Package decoder strips link, network and transport headers from captured
// frames and keeps only UDP datagrams addressed to the C2C target port.
package decoder

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/cab2cab/c2cdump/internal/core"
)

// DefaultTargetPort is the fixed UDP destination port of the C2C feature.
const DefaultTargetPort = 50200

// Config tunes the decoder.
type Config struct {
	TargetPort         uint16
	FragmentTimeout    time.Duration
	MaxFragmentBuffers int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TargetPort == 0 {
		out.TargetPort = DefaultTargetPort
	}
	if out.FragmentTimeout == 0 {
		out.FragmentTimeout = 30 * time.Second
	}
	if out.MaxFragmentBuffers == 0 {
		out.MaxFragmentBuffers = 256
	}
	return out
}

// Decoder demultiplexes frames down to qualifying UDP payloads. It reuses
// layer structs across calls and is not safe for concurrent use; the
// pipeline drives it from a single goroutine.
type Decoder struct {
	cfg Config

	eth     layers.Ethernet
	ip4     layers.IPv4
	ip6     layers.IPv6
	udp     layers.UDP
	payload gopacket.Payload

	ethParser *gopacket.DecodingLayerParser
	ip4Parser *gopacket.DecodingLayerParser
	ip6Parser *gopacket.DecodingLayerParser

	decoded []gopacket.LayerType

	frags *reassembler
}

// New creates a decoder for the given target port and reassembly bounds.
func New(cfg Config) *Decoder {
	d := &Decoder{cfg: cfg.withDefaults()}
	d.ethParser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&d.eth, &d.ip4, &d.ip6, &d.udp, &d.payload,
	)
	d.ip4Parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeIPv4,
		&d.ip4, &d.udp, &d.payload,
	)
	d.ip6Parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeIPv6,
		&d.ip6, &d.udp, &d.payload,
	)
	d.ethParser.IgnoreUnsupported = true
	d.ip4Parser.IgnoreUnsupported = true
	d.ip6Parser.IgnoreUnsupported = true
	d.frags = newReassembler(d.cfg.FragmentTimeout, d.cfg.MaxFragmentBuffers)
	return d
}

// Decode demultiplexes one frame. On success it returns the qualifying
// datagram; otherwise the error classifies the drop (core.IsDrop) or, for
// pending fragments, core.ErrFragmentPending.
func (d *Decoder) Decode(frame core.RawFrame) (*core.Datagram, error) {
	parser, err := d.parserFor(frame)
	if err != nil {
		return nil, err
	}

	d.decoded = d.decoded[:0]
	if err := parser.DecodeLayers(frame.Data, &d.decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrFrameTooShort, err)
	}

	var sawIP4, sawIP6, sawUDP bool
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			sawIP4 = true
		case layers.LayerTypeIPv6:
			sawIP6 = true
		case layers.LayerTypeUDP:
			sawUDP = true
		}
	}

	switch {
	case sawIP4:
		if fragmented(&d.ip4) {
			return d.decodeFragmented(frame.Timestamp)
		}
		if !sawUDP {
			return nil, fmt.Errorf("%w: ipv4 proto %s", core.ErrUnsupportedProto, d.ip4.Protocol)
		}
		return d.datagram(frame.Timestamp, d.ip4.SrcIP, d.ip4.DstIP, &d.udp)
	case sawIP6:
		// Extension headers are not traversed: the next header must be UDP.
		if !sawUDP {
			return nil, fmt.Errorf("%w: ipv6 next header %s", core.ErrUnsupportedProto, d.ip6.NextHeader)
		}
		return d.datagram(frame.Timestamp, d.ip6.SrcIP, d.ip6.DstIP, &d.udp)
	default:
		return nil, fmt.Errorf("%w: no IP layer", core.ErrUnsupportedProto)
	}
}

// parserFor picks the first-layer parser from the source's declared link
// kind. Raw-IP frames are disambiguated by the version nibble.
func (d *Decoder) parserFor(frame core.RawFrame) (*gopacket.DecodingLayerParser, error) {
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", core.ErrFrameTooShort)
	}
	if frame.Link == core.LinkEthernet {
		return d.ethParser, nil
	}
	switch frame.Data[0] >> 4 {
	case 4:
		return d.ip4Parser, nil
	case 6:
		return d.ip6Parser, nil
	default:
		return nil, fmt.Errorf("%w: IP version nibble %d", core.ErrUnsupportedProto, frame.Data[0]>>4)
	}
}

// decodeFragmented feeds an IPv4 fragment to the reassembler and, once the
// datagram is complete, decodes the assembled transport segment.
func (d *Decoder) decodeFragmented(ts time.Time) (*core.Datagram, error) {
	if d.ip4.Protocol != layers.IPProtocolUDP {
		return nil, fmt.Errorf("%w: fragmented ipv4 proto %s", core.ErrUnsupportedProto, d.ip4.Protocol)
	}
	assembled, err := d.frags.add(&d.ip4, ts)
	if err != nil {
		return nil, err
	}
	var udp layers.UDP
	if err := udp.DecodeFromBytes(assembled, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrFrameTooShort, err)
	}
	return d.datagram(ts, d.ip4.SrcIP, d.ip4.DstIP, &udp)
}

// datagram applies the port filter and the UDP length guard, then builds the
// transport datagram. This is where the overwhelming majority of captured
// frames get discarded.
func (d *Decoder) datagram(ts time.Time, srcIP, dstIP net.IP, udp *layers.UDP) (*core.Datagram, error) {
	if uint16(udp.DstPort) != d.cfg.TargetPort {
		return nil, fmt.Errorf("%w: dst %d", core.ErrNotTargetPort, udp.DstPort)
	}
	if udp.Length < 8 {
		return nil, fmt.Errorf("%w: UDP length %d", core.ErrLengthMismatch, udp.Length)
	}
	// The payload length comes from the UDP length field, not the buffer.
	want := int(udp.Length) - 8
	if want > len(udp.Payload) {
		return nil, fmt.Errorf("%w: UDP length %d, captured %d",
			core.ErrLengthMismatch, udp.Length, len(udp.Payload)+8)
	}

	src, err := addrPort(srcIP, uint16(udp.SrcPort))
	if err != nil {
		return nil, err
	}
	dst, err := addrPort(dstIP, uint16(udp.DstPort))
	if err != nil {
		return nil, err
	}

	payload := make([]byte, want)
	copy(payload, udp.Payload[:want])
	return &core.Datagram{
		Timestamp: ts,
		Src:       src,
		Dst:       dst,
		Payload:   payload,
	}, nil
}

func addrPort(ip net.IP, port uint16) (netip.AddrPort, error) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%w: bad IP %v", core.ErrFrameTooShort, ip)
	}
	return netip.AddrPortFrom(addr.Unmap(), port), nil
}

func fragmented(ip4 *layers.IPv4) bool {
	return ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset > 0
}
