package decoder

import (
	"sort"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/cab2cab/c2cdump/internal/core"
)

// fragKey identifies the fragments of one IPv4 datagram.
type fragKey struct {
	src, dst string
	id       uint16
	proto    layers.IPProtocol
}

type fragment struct {
	data   []byte
	offset int
	last   bool
}

// fragBuffer collects fragments of one datagram until they are contiguous.
type fragBuffer struct {
	fragments []fragment
	total     int // set when the final fragment arrives, -1 until then
	firstSeen time.Time
}

// reassembler is the decoder's only cross-frame state: a bounded map of
// per-datagram fragment buffers, evicted on timeout so fragment loss or
// hostile traffic cannot grow it without bound.
type reassembler struct {
	buffers    map[fragKey]*fragBuffer
	timeout    time.Duration
	maxBuffers int
}

func newReassembler(timeout time.Duration, maxBuffers int) *reassembler {
	return &reassembler{
		buffers:    make(map[fragKey]*fragBuffer),
		timeout:    timeout,
		maxBuffers: maxBuffers,
	}
}

// add records one fragment. It returns the assembled transport segment once
// all fragments have arrived, and core.ErrFragmentPending before that.
func (ra *reassembler) add(ip4 *layers.IPv4, ts time.Time) ([]byte, error) {
	ra.evictExpired(ts)

	key := fragKey{
		src:   ip4.SrcIP.String(),
		dst:   ip4.DstIP.String(),
		id:    ip4.Id,
		proto: ip4.Protocol,
	}

	buf, ok := ra.buffers[key]
	if !ok {
		if len(ra.buffers) >= ra.maxBuffers {
			return nil, core.ErrReassemblyLimit
		}
		buf = &fragBuffer{total: -1, firstSeen: ts}
		ra.buffers[key] = buf
	}

	offset := int(ip4.FragOffset) * 8 // offsets are in 8-byte units
	last := ip4.Flags&layers.IPv4MoreFragments == 0
	for _, f := range buf.fragments {
		if f.offset == offset {
			return nil, core.ErrFragmentPending // duplicate
		}
	}
	buf.fragments = append(buf.fragments, fragment{
		data:   append([]byte(nil), ip4.Payload...),
		offset: offset,
		last:   last,
	})
	if last {
		buf.total = offset + len(ip4.Payload)
	}

	assembled, done := buf.assemble()
	if !done {
		return nil, core.ErrFragmentPending
	}
	delete(ra.buffers, key)
	return assembled, nil
}

// assemble returns the contiguous payload once every byte up to the total
// length is covered.
func (b *fragBuffer) assemble() ([]byte, bool) {
	if b.total < 0 {
		return nil, false
	}
	sort.Slice(b.fragments, func(i, j int) bool {
		return b.fragments[i].offset < b.fragments[j].offset
	})
	next := 0
	for _, f := range b.fragments {
		if f.offset > next {
			return nil, false // hole
		}
		if end := f.offset + len(f.data); end > next {
			next = end
		}
	}
	if next < b.total {
		return nil, false
	}

	out := make([]byte, b.total)
	for _, f := range b.fragments {
		end := f.offset + len(f.data)
		if end > b.total {
			end = b.total
		}
		copy(out[f.offset:end], f.data)
	}
	return out, true
}

func (ra *reassembler) evictExpired(now time.Time) {
	for key, buf := range ra.buffers {
		if now.Sub(buf.firstSeen) > ra.timeout {
			delete(ra.buffers, key)
		}
	}
}

// pending reports the number of in-flight fragment buffers.
func (ra *reassembler) pending() int {
	return len(ra.buffers)
}
