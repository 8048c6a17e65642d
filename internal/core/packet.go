// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// LinkKind identifies the framing a capture source delivers. Device capture
// yields link-layer frames, tunnel-type devices yield bare network-layer
// packets; the decoder branches on this tag instead of sniffing.
type LinkKind uint8

const (
	LinkEthernet LinkKind = iota
	LinkRawIP
)

func (k LinkKind) String() string {
	switch k {
	case LinkEthernet:
		return "ethernet"
	case LinkRawIP:
		return "raw-ip"
	default:
		return "unknown"
	}
}

// RawFrame is a single unit of captured data, owned by one decode attempt.
type RawFrame struct {
	Data       []byte    // frame bytes as delivered by the capture handle
	Timestamp  time.Time // capture timestamp (kernel timestamp preferred)
	CaptureLen uint32    // actual captured length
	OrigLen    uint32    // original frame length on the wire
	Link       LinkKind
}

// Datagram is the UDP payload of a frame that passed the port filter,
// together with the endpoints extracted from the enclosing headers.
type Datagram struct {
	Timestamp time.Time
	Src       netip.AddrPort
	Dst       netip.AddrPort
	Payload   []byte
}

// Record is one structured protocol message decoded from a datagram.
// Concrete types live in internal/proto; the kind tag determines how the
// remaining fields are interpreted.
type Record interface {
	Kind() string
}

// Outcome is what the pipeline hands to sinks for one qualifying datagram:
// either decoded records, or a decode failure with the reason. Plaintext is
// populated whenever decryption ran, regardless of parse success, so the
// dump sink can persist malformed traffic too.
type Outcome struct {
	Datagram  *Datagram
	Magic     []byte // undecrypted payload prefix, rendered as hex
	Plaintext []byte
	Records   []Record
	Err       error // nil on success
}

// Failed reports whether this outcome is a decode failure.
func (o *Outcome) Failed() bool {
	return o.Err != nil
}
