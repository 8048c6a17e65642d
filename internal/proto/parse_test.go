package proto

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cab2cab/c2cdump/internal/core"
)

// plaintextWriter mirrors the wire layout the parser reads, so fixtures and
// parser cannot drift apart silently.
type plaintextWriter struct {
	buf bytes.Buffer
}

func (w *plaintextWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *plaintextWriter) u16(v uint16) { binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *plaintextWriter) u32(v uint32) { binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *plaintextWriter) u64(v uint64) { binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *plaintextWriter) pad(n int)    { w.buf.Write(make([]byte, n)) }

func (w *plaintextWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *plaintextWriter) ipv4(addr netip.Addr) {
	b := addr.As4()
	w.buf.Write(b[:])
}

func (w *plaintextWriter) header(rom, data uint32, cmd Command) {
	w.u32(rom)
	w.u32(data)
	w.u32(uint32(cmd))
}

func (w *plaintextWriter) archive() {
	w.str("PKIF")
	w.u16(1)
	w.u8(4)
	w.u8(8)
	w.u8(4)
	w.u8(8)
	w.u32(0x01020304)
}

func (w *plaintextWriter) recruit(host netip.Addr, name, team string, when time.Time) {
	w.pad(15)
	w.u8(1) // flag
	w.u32(7)
	w.ipv4(host)
	w.u32(12345678) // aime id
	w.u32(0)
	w.str(name)
	w.u32(3050)  // chara
	w.u32(99)    // chara level
	w.u32(101)   // skill
	w.u32(5)     // skill level
	w.u32(1)     // trophy
	w.u32(2)     // trophy2
	w.u32(3)     // trophy3
	w.u32(1525)  // rating
	w.u32(2384)  // music id
	w.u32(3)     // difficulty
	w.u64(1)
	w.str(team)
	w.pad(30)
	w.u32(100201) // wear
	w.u32(100301) // head
	w.u32(100401) // face
	w.u32(100501) // skin
	w.u32(100601) // item
	w.u32(100701) // front
	w.u32(100801) // back
	w.pad(16)
	w.u32(2384) // music id2
	w.u32(uint32(GroupB))
	w.u32(0)
	w.u32(0)
	w.u32(0xFFFFFFFF)
	w.pad(5)
	w.u32(uint32(when.Unix()))
	w.u32(2) // players
	w.u8(0)  // event mode
	w.u8(1)  // friend only
}

func recruitPlaintext(t *testing.T, cmd Command) []byte {
	t.Helper()
	var w plaintextWriter
	w.header(2_015_000, 2_035_000, cmd)
	w.archive()
	w.recruit(netip.MustParseAddr("192.168.139.11"), "PLAYER01", "TEAM QUASAR",
		time.Unix(1700000000, 0))
	return w.buf.Bytes()
}

func TestParseRecruit(t *testing.T) {
	records, err := Parse(recruitPlaintext(t, CommandRecruit))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec, ok := records[0].(*RecruitRecord)
	require.True(t, ok, "expected a recruit record, got %T", records[0])

	assert.Equal(t, "recruit", rec.Kind())
	assert.Equal(t, "2.15.00", rec.Header.RomVersion.String())
	assert.Equal(t, "2.35.00", rec.Header.DataVersion.String())
	assert.Equal(t, CommandRecruit, rec.Header.Command)

	assert.Equal(t, "PKIF", rec.Archive.Magic)
	assert.Equal(t, uint16(1), rec.Archive.Version)
	assert.Equal(t, uint8(4), rec.Archive.SizeInt)
	assert.Equal(t, uint32(0x01020304), rec.Archive.Endian)

	r := rec.Recruit
	assert.True(t, r.Flag)
	assert.Equal(t, uint32(7), r.Unknown0)
	assert.Equal(t, "192.168.139.11", r.Host.String())
	assert.Equal(t, uint32(12345678), r.AimeID)
	assert.Equal(t, "PLAYER01", r.Name)
	assert.Equal(t, "TEAM QUASAR", r.Team)
	assert.Equal(t, uint32(3050), r.Chara)
	assert.Equal(t, uint32(99), r.CharaLevel)
	assert.Equal(t, uint32(1525), r.Rating)
	assert.Equal(t, uint32(2384), r.MusicID)
	assert.Equal(t, uint32(3), r.Difficulty)
	assert.Equal(t, uint32(100201), r.AvatarWear)
	assert.Equal(t, uint32(100801), r.AvatarBack)
	assert.Equal(t, GroupB, r.Group)
	assert.Equal(t, int64(1700000000), r.Time.Unix())
	assert.Equal(t, uint32(2), r.Players)
	assert.False(t, r.EventMode)
	assert.True(t, r.FriendOnly)
}

func TestParseRecruitEnd(t *testing.T) {
	records, err := Parse(recruitPlaintext(t, CommandRecruitEnd))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "recruit_end", records[0].Kind())
}

func TestParseUnknownCommand(t *testing.T) {
	var w plaintextWriter
	w.header(2_015_000, 2_035_000, Command(42))
	w.archive()
	w.buf.Write([]byte{0x01, 0x02, 0x03})

	records, err := Parse(w.buf.Bytes())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec, ok := records[0].(*UnknownRecord)
	require.True(t, ok)
	assert.Equal(t, "unknown(42)", rec.Kind())
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, rec.Body)
}

// Truncating a valid plaintext at any offset must yield a decode error,
// never a panic.
func TestParseTruncationNeverPanics(t *testing.T) {
	full := recruitPlaintext(t, CommandRecruit)
	for n := 0; n < len(full); n++ {
		_, err := Parse(full[:n])
		require.Error(t, err, "truncated to %d bytes", n)
		assert.ErrorIs(t, err, core.ErrTruncatedRecord, "truncated to %d bytes", n)
	}
}

func TestParseRejectsAbsurdStringLength(t *testing.T) {
	var w plaintextWriter
	w.u32(2_015_000)
	w.u32(2_035_000)
	w.u32(uint32(CommandRecruit))
	w.u32(0xFFFFFFF0) // archive magic length, far beyond any sane string
	w.pad(64)

	_, err := Parse(w.buf.Bytes())
	assert.ErrorIs(t, err, core.ErrInvalidString)
}

func TestParseRejectsInvalidUTF8(t *testing.T) {
	var w plaintextWriter
	w.u32(2_015_000)
	w.u32(2_035_000)
	w.u32(uint32(CommandRecruit))
	w.u32(2)
	w.buf.Write([]byte{0xFF, 0xFE}) // archive magic bytes, not UTF-8

	_, err := Parse(w.buf.Bytes())
	assert.ErrorIs(t, err, core.ErrInvalidString)
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(nil)
	require.NoError(t, err)

	plaintext := recruitPlaintext(t, CommandRecruit)
	wire, err := codec.transform.Encrypt([]byte("C2C\x00"), plaintext)
	require.NoError(t, err)

	o := codec.Decode(&core.Datagram{Payload: wire})
	require.False(t, o.Failed(), "unexpected failure: %v", o.Err)
	assert.Equal(t, []byte("C2C\x00"), o.Magic)
	assert.Equal(t, plaintext, o.Plaintext)
	require.Len(t, o.Records, 1)
	assert.Equal(t, "recruit", o.Records[0].Kind())
}

func TestCodecFailureKeepsPlaintext(t *testing.T) {
	codec, err := NewCodec(nil)
	require.NoError(t, err)

	// Garbage body: decryption always succeeds, parsing must not.
	wire := append([]byte("C2C\x00"), bytes.Repeat([]byte{0x5A}, 8)...)
	o := codec.Decode(&core.Datagram{Payload: wire})
	assert.True(t, o.Failed())
	assert.NotEmpty(t, o.Plaintext, "plaintext must survive a parse failure for the dump sink")
}
