// Package pipeline wires capture, demultiplexing, payload decoding and the
// sinks into one sequential processing run.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cab2cab/c2cdump/internal/core"
	"github.com/cab2cab/c2cdump/internal/decoder"
	"github.com/cab2cab/c2cdump/internal/log"
	"github.com/cab2cab/c2cdump/internal/sink"
	"github.com/cab2cab/c2cdump/internal/source"
)

// PayloadDecoder turns one qualifying datagram into an outcome. Implemented
// by proto.Codec; swappable for protocol revisions and tests.
type PayloadDecoder interface {
	Decode(dg *core.Datagram) *core.Outcome
}

// Config assembles a pipeline.
type Config struct {
	Source     source.Source
	Decoder    *decoder.Decoder
	Codec      PayloadDecoder
	Sinks      sink.Sink
	BufferSize int
}

// Pipeline consumes frames in capture order: a capture goroutine feeds a
// channel, the processing loop drains it. There is no reordering and no
// parallel decode; throughput is bounded by the capture device, not by us.
type Pipeline struct {
	source  source.Source
	decoder *decoder.Decoder
	codec   PayloadDecoder
	sinks   sink.Sink
	metrics Metrics
	log     *logrus.Logger

	frames  chan core.RawFrame
	wg      sync.WaitGroup
	readErr error
}

func New(cfg Config) *Pipeline {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}
	return &Pipeline{
		source:  cfg.Source,
		decoder: cfg.Decoder,
		codec:   cfg.Codec,
		sinks:   cfg.Sinks,
		log:     log.GetLogger(),
		frames:  make(chan core.RawFrame, cfg.BufferSize),
	}
}

// Run executes one capture pass. It returns nil on normal termination (file
// exhausted or ctx cancelled) and a core.ErrCaptureRead-wrapped error on a
// mid-stream capture failure; everything sunk before the failure stands.
// The capture handle is released on every exit path.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return err
	}
	defer p.source.Stop()

	p.wg.Add(1)
	go p.captureLoop(ctx)

	p.processLoop()
	p.wg.Wait()

	p.logStats()
	return p.readErr
}

// captureLoop reads frames until EOF, cancellation or a read failure, then
// closes the frame channel. The poll timeout on live sources guarantees the
// ctx check runs even on a quiet link.
func (p *Pipeline) captureLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.frames)

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := p.source.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return
			case errors.Is(err, core.ErrReadTimeout):
				continue
			default:
				if ctx.Err() != nil {
					// Handle torn down by cancellation; not a capture error.
					return
				}
				p.log.WithError(err).Error("capture read failed, stopping")
				p.readErr = err
				return
			}
		}
		p.frames <- frame
	}
}

// processLoop drains the frame channel until it closes. An in-flight frame
// always finishes decoding before shutdown completes: no torn records.
func (p *Pipeline) processLoop() {
	for frame := range p.frames {
		p.processFrame(frame)
	}
}

func (p *Pipeline) processFrame(frame core.RawFrame) {
	p.metrics.Frames.Add(1)

	dg, err := p.decoder.Decode(frame)
	if err != nil {
		p.metrics.Dropped.Add(1)
		if p.log.IsLevelEnabled(logrus.TraceLevel) {
			p.log.WithError(err).Trace("frame dropped")
		}
		return
	}
	p.metrics.Datagrams.Add(1)

	outcome := p.codec.Decode(dg)
	if outcome.Failed() {
		p.metrics.DecodeFailures.Add(1)
	} else {
		p.metrics.Records.Add(uint64(len(outcome.Records)))
	}

	// Sink errors are reported but never halt capture: losing the dump is
	// preferable to losing visibility of further live traffic.
	if err := p.sinks.Consume(outcome); err != nil {
		p.metrics.SinkErrors.Add(1)
		p.log.WithError(err).Error("sink failed")
	}
}

func (p *Pipeline) logStats() {
	s := p.metrics.Snapshot()
	p.log.WithFields(logrus.Fields{
		"frames":          s.Frames,
		"dropped":         s.Dropped,
		"datagrams":       s.Datagrams,
		"records":         s.Records,
		"decode_failures": s.DecodeFailures,
		"sink_errors":     s.SinkErrors,
	}).Info("capture finished")
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return p.metrics.Snapshot()
}
