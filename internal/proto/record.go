package proto

import (
	"fmt"
	"net/netip"
	"time"
)

// Command discriminates the logical message kind carried by a datagram.
type Command uint32

const (
	CommandRecruit    Command = 11
	CommandRecruitEnd Command = 12
)

func (c Command) String() string {
	switch c {
	case CommandRecruit:
		return "recruit"
	case CommandRecruitEnd:
		return "recruit_end"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(c))
	}
}

// Version is a game version packed on the wire as
// major*1_000_000 + minor*1000 + patch.
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%02d.%02d", v.Major, v.Minor, v.Patch)
}

// Header opens every decrypted payload.
type Header struct {
	RomVersion  Version
	DataVersion Version
	Command     Command
}

// ArchiveHeader is the serializer preamble the game emits after the header:
// a magic string plus the primitive sizes and endianness of the sender.
type ArchiveHeader struct {
	Magic      string
	Version    uint16
	SizeInt    uint8
	SizeLong   uint8
	SizeFloat  uint8
	SizeDouble uint8
	Endian     uint32
}

// Group is the matchmaking group a recruiting cabinet advertises.
type Group uint32

const (
	GroupA Group = 1
	GroupB Group = 2
	GroupC Group = 3
	GroupD Group = 4
)

func (g Group) String() string {
	switch g {
	case GroupA:
		return "A"
	case GroupB:
		return "B"
	case GroupC:
		return "C"
	case GroupD:
		return "D"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(g))
	}
}

// Recruit is the session advertisement body carried by recruit and
// recruit-end messages. Field names follow the reverse-engineered layout;
// several wire fields are padding or constants and are not retained.
type Recruit struct {
	Flag        bool
	Unknown0    uint32
	Host        netip.Addr
	AimeID      uint32
	Name        string
	Chara       uint32
	CharaLevel  uint32
	Skill       uint32
	SkillLevel  uint32
	Trophy      uint32
	Trophy2     uint32
	Trophy3     uint32
	Rating      uint32
	MusicID     uint32
	Difficulty  uint32
	Team        string
	AvatarWear  uint32
	AvatarHead  uint32
	AvatarFace  uint32
	AvatarSkin  uint32
	AvatarItem  uint32
	AvatarFront uint32
	AvatarBack  uint32
	MusicID2    uint32
	Group       Group
	Time        time.Time
	Players     uint32
	EventMode   bool
	FriendOnly  bool
}

// RecruitRecord is a fully decoded recruit or recruit-end message.
type RecruitRecord struct {
	Header  Header
	Archive ArchiveHeader
	Recruit Recruit
}

func (r *RecruitRecord) Kind() string {
	return r.Header.Command.String()
}

// UnknownRecord is a structurally valid message whose command the decoder
// does not know. The header and archive preamble still decode, the body is
// kept raw for manual inspection.
type UnknownRecord struct {
	Header  Header
	Archive ArchiveHeader
	Body    []byte
}

func (r *UnknownRecord) Kind() string {
	return r.Header.Command.String()
}
