package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cab2cab/c2cdump/internal/core"
	"github.com/cab2cab/c2cdump/internal/decoder"
	"github.com/cab2cab/c2cdump/internal/proto"
	"github.com/cab2cab/c2cdump/internal/sink"
)

// fakeSource replays a fixed frame sequence and then reports EOF, like a
// capture file.
type fakeSource struct {
	frames  []core.RawFrame
	next    int
	started bool
	stopped bool
}

func (s *fakeSource) Start(ctx context.Context) error { s.started = true; return nil }
func (s *fakeSource) LinkKind() core.LinkKind         { return core.LinkEthernet }
func (s *fakeSource) Stop() error                     { s.stopped = true; return nil }

func (s *fakeSource) ReadFrame() (core.RawFrame, error) {
	if s.next >= len(s.frames) {
		return core.RawFrame{}, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// quietSource never yields a frame; every poll times out. Only cancellation
// ends the run.
type quietSource struct {
	fakeSource
}

func (s *quietSource) ReadFrame() (core.RawFrame, error) {
	return core.RawFrame{}, core.ErrReadTimeout
}

// brokenSource yields its frames and then fails mid-stream.
type brokenSource struct {
	fakeSource
}

func (s *brokenSource) ReadFrame() (core.RawFrame, error) {
	f, err := s.fakeSource.ReadFrame()
	if errors.Is(err, io.EOF) {
		return core.RawFrame{}, fmt.Errorf("%w: device vanished", core.ErrCaptureRead)
	}
	return f, err
}

// echoCodec wraps the payload into an outcome without cryptography, keeping
// the pipeline test focused on flow control.
type echoCodec struct{}

type echoRecord struct{ body []byte }

func (r *echoRecord) Kind() string { return "echo" }

func (echoCodec) Decode(dg *core.Datagram) *core.Outcome {
	o := &core.Outcome{Datagram: dg, Plaintext: dg.Payload}
	if len(dg.Payload) == 0 {
		o.Err = core.ErrPayloadTooShort
		return o
	}
	o.Records = []core.Record{&echoRecord{body: dg.Payload}}
	return o
}

// memSink records every outcome it sees.
type memSink struct {
	outcomes []*core.Outcome
	fail     bool
	closed   bool
}

func (s *memSink) Consume(o *core.Outcome) error {
	s.outcomes = append(s.outcomes, o)
	if s.fail {
		return errors.New("sink exploded")
	}
	return nil
}

func (s *memSink) Close() error { s.closed = true; return nil }

func udpFrame(t *testing.T, dstPort uint16, payload []byte) core.RawFrame {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 139, 11).To4(),
		DstIP:    net.IPv4(192, 168, 139, 12).To4(),
	}
	udp := &layers.UDP{SrcPort: 49000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))

	data := buf.Bytes()
	return core.RawFrame{
		Data:       data,
		Timestamp:  time.Unix(1700000000, 0),
		CaptureLen: uint32(len(data)),
		OrigLen:    uint32(len(data)),
		Link:       core.LinkEthernet,
	}
}

func TestPipelineFileRun(t *testing.T) {
	src := &fakeSource{frames: []core.RawFrame{
		udpFrame(t, decoder.DefaultTargetPort, []byte("first")),
		udpFrame(t, 53, []byte("dns noise")),
		udpFrame(t, decoder.DefaultTargetPort, []byte("second")),
	}}
	mem := &memSink{}

	p := New(Config{
		Source:  src,
		Decoder: decoder.New(decoder.Config{}),
		Codec:   echoCodec{},
		Sinks:   sink.Multi{mem},
	})
	require.NoError(t, p.Run(context.Background()))

	assert.True(t, src.started)
	assert.True(t, src.stopped, "capture handle must be released")

	require.Len(t, mem.outcomes, 2)
	assert.Equal(t, []byte("first"), mem.outcomes[0].Plaintext)
	assert.Equal(t, []byte("second"), mem.outcomes[1].Plaintext)

	s := p.Stats()
	assert.EqualValues(t, 3, s.Frames)
	assert.EqualValues(t, 1, s.Dropped)
	assert.EqualValues(t, 2, s.Datagrams)
	assert.EqualValues(t, 2, s.Records)
	assert.EqualValues(t, 0, s.DecodeFailures)
	assert.EqualValues(t, 0, s.SinkErrors)
}

// End to end with the real codec: an Ethernet/IPv4/UDP frame carrying an
// encrypted payload comes out as a structured record.
func TestPipelineEndToEndDecode(t *testing.T) {
	// Minimal valid plaintext: header, archive preamble, unknown command body.
	var plain bytes.Buffer
	binary.Write(&plain, binary.LittleEndian, uint32(2_015_000)) // rom version
	binary.Write(&plain, binary.LittleEndian, uint32(2_035_000)) // data version
	binary.Write(&plain, binary.LittleEndian, uint32(42))        // command
	binary.Write(&plain, binary.LittleEndian, uint32(4))
	plain.WriteString("PKIF")
	binary.Write(&plain, binary.LittleEndian, uint16(1))
	plain.Write([]byte{4, 8, 4, 8})
	binary.Write(&plain, binary.LittleEndian, uint32(0x01020304))
	plain.WriteString("HELLO")

	tr, err := proto.NewTransform(proto.DefaultKey)
	require.NoError(t, err)
	wire, err := tr.Encrypt([]byte("C2C\x00"), plain.Bytes())
	require.NoError(t, err)

	codec, err := proto.NewCodec(nil)
	require.NoError(t, err)

	src := &fakeSource{frames: []core.RawFrame{
		udpFrame(t, decoder.DefaultTargetPort, wire),
	}}
	mem := &memSink{}

	p := New(Config{
		Source:  src,
		Decoder: decoder.New(decoder.Config{}),
		Codec:   codec,
		Sinks:   sink.Multi{mem},
	})
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, mem.outcomes, 1)
	o := mem.outcomes[0]
	require.False(t, o.Failed(), "unexpected decode failure: %v", o.Err)
	assert.Equal(t, plain.Bytes(), o.Plaintext)
	require.Len(t, o.Records, 1)
	assert.Equal(t, "unknown(42)", o.Records[0].Kind())
	assert.EqualValues(t, 1, p.Stats().Records)
}

// Replaying the same capture twice through fresh dump sinks must yield
// byte-identical streams.
func TestPipelineDumpIsReproducible(t *testing.T) {
	frames := []core.RawFrame{
		udpFrame(t, decoder.DefaultTargetPort, []byte("alpha")),
		udpFrame(t, decoder.DefaultTargetPort, []byte("beta")),
	}

	runOnce := func() string {
		var buf bytes.Buffer
		d := sink.NewDumpWriter(&buf)
		p := New(Config{
			Source:  &fakeSource{frames: frames},
			Decoder: decoder.New(decoder.Config{}),
			Codec:   echoCodec{},
			Sinks:   sink.Multi{d},
		})
		require.NoError(t, p.Run(context.Background()))
		require.NoError(t, d.Close())
		return buf.String()
	}

	first := runOnce()
	assert.Equal(t, "alphabeta", first)
	assert.Equal(t, first, runOnce())
}

func TestPipelineIgnoresForeignTraffic(t *testing.T) {
	src := &fakeSource{frames: []core.RawFrame{
		udpFrame(t, 53, []byte("dns")),
		udpFrame(t, 123, []byte("ntp")),
	}}
	mem := &memSink{}

	p := New(Config{
		Source:  src,
		Decoder: decoder.New(decoder.Config{}),
		Codec:   echoCodec{},
		Sinks:   sink.Multi{mem},
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Empty(t, mem.outcomes)
	assert.EqualValues(t, 2, p.Stats().Dropped)
}

func TestPipelineCancellation(t *testing.T) {
	src := &quietSource{}
	ctx, cancel := context.WithCancel(context.Background())

	p := New(Config{
		Source:  src,
		Decoder: decoder.New(decoder.Config{}),
		Codec:   echoCodec{},
		Sinks:   sink.Multi{&memSink{}},
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is normal termination")
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}
	assert.True(t, src.stopped)
}

func TestPipelineCaptureFailure(t *testing.T) {
	src := &brokenSource{fakeSource{frames: []core.RawFrame{
		udpFrame(t, decoder.DefaultTargetPort, []byte("before the fault")),
	}}}
	mem := &memSink{}

	p := New(Config{
		Source:  src,
		Decoder: decoder.New(decoder.Config{}),
		Codec:   echoCodec{},
		Sinks:   sink.Multi{mem},
	})
	err := p.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrCaptureRead)

	// Everything sunk before the failure stands.
	require.Len(t, mem.outcomes, 1)
	assert.Equal(t, []byte("before the fault"), mem.outcomes[0].Plaintext)
	assert.True(t, src.stopped)
}

func TestPipelineSinkErrorIsNotFatal(t *testing.T) {
	src := &fakeSource{frames: []core.RawFrame{
		udpFrame(t, decoder.DefaultTargetPort, []byte("one")),
		udpFrame(t, decoder.DefaultTargetPort, []byte("two")),
	}}
	mem := &memSink{fail: true}

	p := New(Config{
		Source:  src,
		Decoder: decoder.New(decoder.Config{}),
		Codec:   echoCodec{},
		Sinks:   sink.Multi{mem},
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Len(t, mem.outcomes, 2, "a failing sink must not halt capture")
	assert.EqualValues(t, 2, p.Stats().SinkErrors)
}

func TestPipelineDecodeFailureReachesSinks(t *testing.T) {
	src := &fakeSource{frames: []core.RawFrame{
		udpFrame(t, decoder.DefaultTargetPort, nil), // empty payload fails the codec
	}}
	mem := &memSink{}

	p := New(Config{
		Source:  src,
		Decoder: decoder.New(decoder.Config{}),
		Codec:   echoCodec{},
		Sinks:   sink.Multi{mem},
	})
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, mem.outcomes, 1)
	assert.True(t, mem.outcomes[0].Failed())
	assert.EqualValues(t, 1, p.Stats().DecodeFailures)
	assert.EqualValues(t, 0, p.Stats().Records)
}
