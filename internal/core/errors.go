// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Only ErrCaptureUnavailable and ErrCaptureRead terminate a
// run; everything else is local to one frame or datagram.
var (
	// Capture errors
	ErrCaptureUnavailable = errors.New("c2cdump: capture source cannot be opened")
	ErrCaptureRead        = errors.New("c2cdump: capture read failed")
	ErrReadTimeout        = errors.New("c2cdump: capture read timed out")

	// Frame-level drops (expected background traffic, never fatal)
	ErrFrameTooShort    = errors.New("c2cdump: frame too short")
	ErrUnsupportedProto = errors.New("c2cdump: unsupported protocol")
	ErrNotTargetPort    = errors.New("c2cdump: not the target port")
	ErrLengthMismatch   = errors.New("c2cdump: header length exceeds buffer")

	// IP reassembly errors
	ErrFragmentPending = errors.New("c2cdump: waiting for more fragments")
	ErrReassemblyLimit = errors.New("c2cdump: fragment reassembly limit exceeded")

	// Payload decode failures (reported to sinks as diagnostics)
	ErrPayloadTooShort = errors.New("c2cdump: payload too short")
	ErrTruncatedRecord = errors.New("c2cdump: truncated record")
	ErrInvalidString   = errors.New("c2cdump: invalid string field")

	// Configuration errors
	ErrConfigInvalid = errors.New("c2cdump: invalid configuration")
)

// IsDrop reports whether err is a silent frame-level drop: the frame simply
// was not C2C traffic. Drops are counted but produce no sink output.
func IsDrop(err error) bool {
	return errors.Is(err, ErrFrameTooShort) ||
		errors.Is(err, ErrUnsupportedProto) ||
		errors.Is(err, ErrNotTargetPort) ||
		errors.Is(err, ErrLengthMismatch) ||
		errors.Is(err, ErrFragmentPending) ||
		errors.Is(err, ErrReassemblyLimit)
}
