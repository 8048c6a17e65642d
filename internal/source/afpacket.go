package source

import (
	"context"
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"github.com/cab2cab/c2cdump/internal/core"
)

// AFPacketOptions configures the Linux AF_PACKET fast path.
type AFPacketOptions struct {
	Device       string `mapstructure:"device"`
	SnapLen      int    `mapstructure:"snap_len"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	BPFFilter    string `mapstructure:"bpf_filter"`
}

// AFPacketSource reads frames from a TPacket v3 ring buffer. Linux only;
// always delivers Ethernet framing.
type AFPacketSource struct {
	handle *afpacket.TPacket

	device    string
	frameSize int
	blockSize int
	numBlocks int
	timeoutMs int
	bpfFilter string
}

func NewAFPacketSource(opts AFPacketOptions) (*AFPacketSource, error) {
	if opts.Device == "" {
		return nil, fmt.Errorf("%w: afpacket source requires a device", core.ErrConfigInvalid)
	}
	if opts.SnapLen == 0 {
		opts.SnapLen = 65536
	}
	if opts.BufferSizeMB == 0 {
		opts.BufferSizeMB = 8
	}
	if opts.TimeoutMs == 0 {
		opts.TimeoutMs = 1000
	}

	frameSize, blockSize, numBlocks, err := ringSizes(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return &AFPacketSource{
		device:    opts.Device,
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
		timeoutMs: opts.TimeoutMs,
		bpfFilter: opts.BPFFilter,
	}, nil
}

func (s *AFPacketSource) Start(ctx context.Context) error {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.device),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(s.timeoutMs),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrCaptureUnavailable, s.device, err)
	}

	if s.bpfFilter != "" {
		pcapBPF, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, s.frameSize, s.bpfFilter)
		if err != nil {
			tp.Close()
			return fmt.Errorf("%w: bpf filter: %v", core.ErrCaptureUnavailable, err)
		}
		rawBPF := make([]bpf.RawInstruction, len(pcapBPF))
		for i, inst := range pcapBPF {
			rawBPF[i] = bpf.RawInstruction{
				Op: inst.Code,
				Jt: inst.Jt,
				Jf: inst.Jf,
				K:  inst.K,
			}
		}
		if err := tp.SetBPF(rawBPF); err != nil {
			tp.Close()
			return fmt.Errorf("%w: bpf filter: %v", core.ErrCaptureUnavailable, err)
		}
	}

	s.handle = tp
	return nil
}

func (s *AFPacketSource) ReadFrame() (core.RawFrame, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if err == afpacket.ErrTimeout {
			return core.RawFrame{}, core.ErrReadTimeout
		}
		return core.RawFrame{}, fmt.Errorf("%w: %v", core.ErrCaptureRead, err)
	}
	return core.RawFrame{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
		Link:       core.LinkEthernet,
	}, nil
}

func (s *AFPacketSource) LinkKind() core.LinkKind {
	return core.LinkEthernet
}

func (s *AFPacketSource) Stop() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}

// ringSizes computes TPacket ring dimensions meeting PACKET_MMAP geometry:
// frameSize aligned to TPACKET_ALIGNMENT, blockSize a multiple of both the
// page size and frameSize, total memory near the requested budget. The frame
// is rounded up to a power of two so that page and frame are mutually
// divisible and every power-of-two block size satisfies both constraints.
func ringSizes(bufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52
	const maxBlockSize = 4 * 1024 * 1024

	if bufferSizeMB <= 0 || snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size and snaplen must be positive")
	}
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size %d is not a power-of-two multiple of %d", pageSize, tpacketAlignment)
	}

	raw := tpacketHdrLen + snapLen
	frameSize = tpacketAlignment
	for frameSize < raw {
		frameSize <<= 1
	}
	if frameSize > maxBlockSize {
		return 0, 0, 0, fmt.Errorf("snap length %d needs a %d-byte frame, beyond the %d-byte block limit",
			snapLen, frameSize, maxBlockSize)
	}

	targetBytes := bufferSizeMB * 1024 * 1024

	blockSize = frameSize
	if blockSize < pageSize {
		blockSize = pageSize
	}
	for blockSize*2 <= maxBlockSize && blockSize*2 <= targetBytes {
		blockSize <<= 1
	}

	numBlocks = targetBytes / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}
