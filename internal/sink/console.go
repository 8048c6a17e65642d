package sink

import (
	"encoding/hex"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cab2cab/c2cdump/internal/core"
	"github.com/cab2cab/c2cdump/internal/proto"
)

// Console renders one log entry per record or decode failure.
type Console struct {
	log *logrus.Logger
}

func NewConsole(l *logrus.Logger) *Console {
	return &Console{log: l}
}

func (c *Console) Consume(o *core.Outcome) error {
	entry := c.log.WithFields(logrus.Fields{
		"captured": o.Datagram.Timestamp.Format(time.RFC3339Nano),
		"src":      o.Datagram.Src.String(),
		"dst":      o.Datagram.Dst.String(),
		"magic":    hex.EncodeToString(o.Magic),
	})

	if o.Failed() {
		entry.WithError(o.Err).Warn("failed to decode datagram")
		return nil
	}

	for _, rec := range o.Records {
		switch r := rec.(type) {
		case *proto.RecruitRecord:
			entry.WithFields(recruitFields(r)).Info(r.Kind())
		case *proto.UnknownRecord:
			entry.WithFields(logrus.Fields{
				"rom_version":  r.Header.RomVersion.String(),
				"data_version": r.Header.DataVersion.String(),
				"command":      uint32(r.Header.Command),
				"body":         hex.EncodeToString(r.Body),
			}).Info("unknown command")
		default:
			entry.WithField("kind", rec.Kind()).Info("record")
		}
	}
	return nil
}

func recruitFields(r *proto.RecruitRecord) logrus.Fields {
	rec := r.Recruit
	return logrus.Fields{
		"rom_version":  r.Header.RomVersion.String(),
		"data_version": r.Header.DataVersion.String(),
		"host":         rec.Host.String(),
		"aime_id":      rec.AimeID,
		"name":         rec.Name,
		"team":         rec.Team,
		"chara":        rec.Chara,
		"chara_level":  rec.CharaLevel,
		"skill":        rec.Skill,
		"skill_level":  rec.SkillLevel,
		"rating":       rec.Rating,
		"music_id":     rec.MusicID,
		"difficulty":   rec.Difficulty,
		"group":        rec.Group.String(),
		"players":      rec.Players,
		"event_mode":   rec.EventMode,
		"friend_only":  rec.FriendOnly,
		"start_time":   rec.Time.Format(time.RFC3339),
	}
}

func (c *Console) Close() error {
	return nil
}
