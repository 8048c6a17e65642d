package source

import (
	"context"
	"fmt"
	"io"

	"github.com/google/gopacket/pcap"

	"github.com/cab2cab/c2cdump/internal/core"
)

// FileOptions configures a capture-file source.
type FileOptions struct {
	Path string `mapstructure:"path"`
}

// FileSource replays frames from a stored capture file. Exhaustion is
// reported as io.EOF, not an error.
type FileSource struct {
	path   string
	handle *pcap.Handle
	link   core.LinkKind
}

func NewFileSource(opts FileOptions) (*FileSource, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: file source requires a path", core.ErrConfigInvalid)
	}
	return &FileSource{path: opts.Path, link: core.LinkEthernet}, nil
}

func (s *FileSource) Start(ctx context.Context) error {
	handle, err := pcap.OpenOffline(s.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrCaptureUnavailable, s.path, err)
	}
	s.handle = handle
	s.link = linkKindOf(handle.LinkType())
	return nil
}

func (s *FileSource) ReadFrame() (core.RawFrame, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return core.RawFrame{}, io.EOF
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

func (s *FileSource) LinkKind() core.LinkKind {
	return s.link
}

func (s *FileSource) Stop() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
