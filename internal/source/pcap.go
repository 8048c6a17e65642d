package source

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/cab2cab/c2cdump/internal/core"
	"github.com/cab2cab/c2cdump/internal/log"
)

// PcapOptions configures a live libpcap source.
type PcapOptions struct {
	Device      string `mapstructure:"device"` // empty = auto-select by subnet
	SnapLen     int    `mapstructure:"snap_len"`
	Promiscuous bool   `mapstructure:"promiscuous"`
	TimeoutMs   int    `mapstructure:"timeout_ms"`
	BPFFilter   string `mapstructure:"bpf_filter"`
}

// PcapSource captures live traffic from a network device via libpcap. The
// poll timeout keeps ReadFrame from blocking forever so the pipeline can
// observe cancellation.
type PcapSource struct {
	opts   PcapOptions
	handle *pcap.Handle
	link   core.LinkKind
}

func NewPcapSource(opts PcapOptions) (*PcapSource, error) {
	if opts.SnapLen == 0 {
		opts.SnapLen = 65536
	}
	if opts.TimeoutMs == 0 {
		opts.TimeoutMs = 1000
	}
	return &PcapSource{opts: opts, link: core.LinkEthernet}, nil
}

func (s *PcapSource) Start(ctx context.Context) error {
	device := s.opts.Device
	if device == "" {
		dev, err := AutoSelect(DefaultSubnet)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err)
		}
		log.GetLogger().WithField("device", dev).Warn("automatically selected capture device")
		device = dev
	}

	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrCaptureUnavailable, device, err)
	}
	defer inactive.CleanUp()

	if err = inactive.SetSnapLen(s.opts.SnapLen); err != nil {
		return fmt.Errorf("%w: snaplen: %v", core.ErrCaptureUnavailable, err)
	}
	if err = inactive.SetPromisc(s.opts.Promiscuous); err != nil {
		return fmt.Errorf("%w: promisc: %v", core.ErrCaptureUnavailable, err)
	}
	if err = inactive.SetTimeout(time.Duration(s.opts.TimeoutMs) * time.Millisecond); err != nil {
		return fmt.Errorf("%w: timeout: %v", core.ErrCaptureUnavailable, err)
	}
	if err = inactive.SetImmediateMode(true); err != nil {
		return fmt.Errorf("%w: immediate mode: %v", core.ErrCaptureUnavailable, err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrCaptureUnavailable, device, err)
	}
	if s.opts.BPFFilter != "" {
		if err := handle.SetBPFFilter(s.opts.BPFFilter); err != nil {
			handle.Close()
			return fmt.Errorf("%w: bpf filter: %v", core.ErrCaptureUnavailable, err)
		}
	}

	s.handle = handle
	s.link = linkKindOf(handle.LinkType())
	return nil
}

func (s *PcapSource) ReadFrame() (core.RawFrame, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if err == pcap.NextErrorTimeoutExpired {
			return core.RawFrame{}, core.ErrReadTimeout
		}
		return core.RawFrame{}, fmt.Errorf("%w: %v", core.ErrCaptureRead, err)
	}
	return core.RawFrame{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
		Link:       s.link,
	}, nil
}

func (s *PcapSource) LinkKind() core.LinkKind {
	return s.link
}

func (s *PcapSource) Stop() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}

// linkKindOf maps the capture handle's link type onto the decoder's framing
// tag. Tunnel-type devices deliver bare network-layer packets.
func linkKindOf(lt layers.LinkType) core.LinkKind {
	switch lt {
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6,
		layers.LinkTypeNull, layers.LinkTypeLoop:
		return core.LinkRawIP
	default:
		return core.LinkEthernet
	}
}
