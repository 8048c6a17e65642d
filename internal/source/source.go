// Package source implements frame sources: pull-based readers yielding raw
// frames from a capture file or a live device.
package source

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/cab2cab/c2cdump/internal/core"
)

// Known source kinds.
const (
	KindFile     = "file"
	KindPcap     = "pcap"
	KindAFPacket = "afpacket"
)

// Source yields raw frames until exhaustion (file) or cancellation (live).
//
// ReadFrame returns io.EOF when a capture file is exhausted (normal
// termination), core.ErrReadTimeout when a live poll interval elapsed with
// no traffic (callers should check their context and retry), and a
// core.ErrCaptureRead-wrapped error on mid-stream failures. The capture
// handle is held from Start until Stop and must be released via Stop on
// every exit path.
type Source interface {
	Start(ctx context.Context) error
	ReadFrame() (core.RawFrame, error)
	LinkKind() core.LinkKind
	Stop() error
}

// New builds a source of the given kind from its untyped option map, in the
// same shape they appear under `capture.options` in the config file.
func New(kind string, options map[string]any) (Source, error) {
	switch kind {
	case KindFile:
		var opts FileOptions
		if err := decode(options, &opts); err != nil {
			return nil, err
		}
		return NewFileSource(opts)
	case KindPcap:
		var opts PcapOptions
		if err := decode(options, &opts); err != nil {
			return nil, err
		}
		return NewPcapSource(opts)
	case KindAFPacket:
		var opts AFPacketOptions
		if err := decode(options, &opts); err != nil {
			return nil, err
		}
		return NewAFPacketSource(opts)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", core.ErrConfigInvalid, kind)
	}
}

func decode(options map[string]any, out any) error {
	if err := mapstructure.Decode(options, out); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}
