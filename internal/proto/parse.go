package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
	"unicode/utf8"

	"github.com/cab2cab/c2cdump/internal/core"
)

// maxStringLen bounds length-prefixed strings so a corrupt length field
// cannot trigger a huge allocation. Real protocol strings are tiny.
const maxStringLen = 4096

// Parse decodes one decrypted payload into its records. The parser is
// stateless; a failure never leaks into the next datagram.
func Parse(plaintext []byte) ([]core.Record, error) {
	r := newReader(plaintext)

	hdr := parseHeader(r)
	arc := parseArchiveHeader(r)
	if r.err != nil {
		return nil, fmt.Errorf("header: %w", r.err)
	}

	switch hdr.Command {
	case CommandRecruit, CommandRecruitEnd:
		rec := parseRecruit(r)
		if r.err != nil {
			return nil, fmt.Errorf("%s body: %w", hdr.Command, r.err)
		}
		return []core.Record{&RecruitRecord{Header: hdr, Archive: arc, Recruit: rec}}, nil
	default:
		return []core.Record{&UnknownRecord{Header: hdr, Archive: arc, Body: r.rest()}}, nil
	}
}

func parseHeader(r *reader) Header {
	return Header{
		RomVersion:  r.version(),
		DataVersion: r.version(),
		Command:     Command(r.u32()),
	}
}

func parseArchiveHeader(r *reader) ArchiveHeader {
	return ArchiveHeader{
		Magic:      r.str(),
		Version:    r.u16(),
		SizeInt:    r.u8(),
		SizeLong:   r.u8(),
		SizeFloat:  r.u8(),
		SizeDouble: r.u8(),
		Endian:     r.u32(),
	}
}

func parseRecruit(r *reader) Recruit {
	var rec Recruit
	r.skip(15) // struct padding
	rec.Flag = r.u8() != 0
	rec.Unknown0 = r.u32()
	rec.Host = r.ipv4()
	rec.AimeID = r.u32()
	r.u32() // always 0
	rec.Name = r.str()
	rec.Chara = r.u32()
	rec.CharaLevel = r.u32()
	rec.Skill = r.u32()
	rec.SkillLevel = r.u32()
	rec.Trophy = r.u32()
	rec.Trophy2 = r.u32()
	rec.Trophy3 = r.u32()
	rec.Rating = r.u32()
	rec.MusicID = r.u32()
	rec.Difficulty = r.u32()
	r.u64() // always 1
	rec.Team = r.str()
	r.skip(30) // unidentified region
	rec.AvatarWear = r.u32()
	rec.AvatarHead = r.u32()
	rec.AvatarFace = r.u32()
	rec.AvatarSkin = r.u32()
	rec.AvatarItem = r.u32()
	rec.AvatarFront = r.u32()
	rec.AvatarBack = r.u32()
	r.skip(16) // always 0
	rec.MusicID2 = r.u32()
	rec.Group = Group(r.u32())
	r.u32()   // event mode flag duplicate
	r.u32()   // unknown
	r.u32()   // always -1
	r.skip(5) // struct padding
	rec.Time = time.Unix(int64(int32(r.u32())), 0)
	rec.Players = r.u32()
	rec.EventMode = r.u8() != 0
	rec.FriendOnly = r.u8() != 0
	return rec
}

// reader is a little-endian cursor with a sticky error, so parse functions
// stay flat and every short read surfaces as ErrTruncatedRecord.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			core.ErrTruncatedRecord, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) {
	r.take(n)
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// str reads a u32-length-prefixed UTF-8 string.
func (r *reader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if n > maxStringLen {
		r.err = fmt.Errorf("%w: string length %d", core.ErrInvalidString, n)
		return ""
	}
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.err = fmt.Errorf("%w: not valid UTF-8", core.ErrInvalidString)
		return ""
	}
	return string(b)
}

// ipv4 reads a network-order IPv4 address.
func (r *reader) ipv4() netip.Addr {
	b := r.take(4)
	if b == nil {
		return netip.Addr{}
	}
	return netip.AddrFrom4([4]byte(b))
}

// version reads a packed u32 version field.
func (r *reader) version() Version {
	v := r.u32()
	return Version{
		Major: uint16(v / 1_000_000),
		Minor: uint16(v / 1000 % 1000),
		Patch: uint16(v % 1000),
	}
}

// rest returns the unread remainder of the buffer.
func (r *reader) rest() []byte {
	if r.err != nil || r.off >= len(r.buf) {
		return nil
	}
	return bytes.Clone(r.buf[r.off:])
}
