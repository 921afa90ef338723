package retune

import (
	"fmt"
	"time"

	"github.com/quillaudio/microtune/internal/midiwire"
)

// Mode selects how a destination renders retuned notes.
type Mode uint8

const (
	// ModeDisabled passes nothing through.
	ModeDisabled Mode = iota
	// ModeMono renders on one fixed channel, one voice at a time.
	ModeMono
	// ModeMulti allocates a channel per voice from a configured range.
	ModeMulti
	// ModeMPE allocates member channels of an MPE zone per voice.
	ModeMPE
	// ModeTuningTable broadcasts a 128-entry frequency table instead of
	// per-note pitch bend.
	ModeTuningTable
)

// String returns the config-file spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeMono:
		return "single-channel"
	case ModeMulti:
		return "multichannel"
	case ModeMPE:
		return "mpe"
	case ModeTuningTable:
		return "tuning-table"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode parses the config-file spelling.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "disabled":
		return ModeDisabled, nil
	case "single-channel":
		return ModeMono, nil
	case "multichannel":
		return ModeMulti, nil
	case "mpe":
		return ModeMPE, nil
	case "tuning-table":
		return ModeTuningTable, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// StealPolicy selects the victim when no free channel remains.
type StealPolicy uint8

const (
	// StealOldest silences the longest-sounding voice in range.
	StealOldest StealPolicy = iota
	// StealQuietest silences the lowest-velocity voice in range.
	StealQuietest
)

// MonoBehavior controls what a new note does to the sounding one in
// single-channel mode.
type MonoBehavior uint8

const (
	// MonoSteal retriggers: note-off the sounding voice, then note-on.
	MonoSteal MonoBehavior = iota
	// MonoLegato retunes in place: the sounding output key is kept and
	// only the bend moves, as long as the new target is reachable within
	// the bend range; otherwise it falls back to a retrigger.
	MonoLegato
)

// RetunePolicy controls what a tuning change does to active voices.
type RetunePolicy uint8

const (
	// RetuneNewNotesOnly leaves sounding voices alone.
	RetuneNewNotesOnly RetunePolicy = iota
	// RetuneImmediate recomputes and resends every active voice at once.
	RetuneImmediate
	// RetuneRamp interpolates each voice's bend over discrete steps.
	RetuneRamp
)

// Zone describes an MPE zone: a manager channel plus a contiguous member
// range. The manager is a sendable configuration target but never
// carries a voice.
type Zone struct {
	Manager     uint8
	MemberStart uint8
	MemberEnd   uint8
}

// MemberCount returns the number of member channels.
func (z Zone) MemberCount() uint8 {
	if z.MemberEnd < z.MemberStart {
		return 0
	}
	return z.MemberEnd - z.MemberStart + 1
}

// DefaultLowerZone is the conventional lower zone: manager 1, members 2..8.
var DefaultLowerZone = Zone{Manager: 1, MemberStart: 2, MemberEnd: 8}

// Settings is the per-destination retuning configuration.
type Settings struct {
	Mode Mode

	// Channel is the fixed output channel for single-channel and
	// tuning-table modes (1..16).
	Channel uint8

	// ChannelStart/ChannelEnd bound the allocatable range for
	// multichannel mode (1..16, inclusive).
	ChannelStart uint8
	ChannelEnd   uint8

	// BendRange is the pitch-bend range in semitones applied to output
	// channels.
	BendRange uint8

	Zone Zone

	Steal StealPolicy
	Mono  MonoBehavior

	Retune       RetunePolicy
	RampSteps    int
	RampDuration time.Duration

	// ReferenceHz anchors key 69; zero means 440.
	ReferenceHz float64
}

// DefaultSettings is a sensible multichannel baseline.
func DefaultSettings() Settings {
	return Settings{
		Mode:         ModeMulti,
		Channel:      1,
		ChannelStart: 2,
		ChannelEnd:   16,
		BendRange:    48,
		Zone:         DefaultLowerZone,
		RampSteps:    8,
		RampDuration: 80 * time.Millisecond,
		ReferenceHz:  midiwire.DefaultReferenceHz,
	}
}

// Validate rejects invalid configuration synchronously, before anything
// is queued.
func (s Settings) Validate() error {
	if s.BendRange == 0 || s.BendRange > 96 {
		return fmt.Errorf("pitch-bend range %d out of range 1..96", s.BendRange)
	}
	switch s.Mode {
	case ModeDisabled:
		return nil
	case ModeMono, ModeTuningTable:
		if err := midiwire.ValidateChannel(int(s.Channel)); err != nil {
			return err
		}
	case ModeMulti:
		if err := midiwire.ValidateChannel(int(s.ChannelStart)); err != nil {
			return fmt.Errorf("channel range start: %w", err)
		}
		if err := midiwire.ValidateChannel(int(s.ChannelEnd)); err != nil {
			return fmt.Errorf("channel range end: %w", err)
		}
		if s.ChannelStart > s.ChannelEnd {
			return fmt.Errorf("channel range %d..%d is empty", s.ChannelStart, s.ChannelEnd)
		}
	case ModeMPE:
		z := s.Zone
		if err := midiwire.ValidateChannel(int(z.Manager)); err != nil {
			return fmt.Errorf("zone manager: %w", err)
		}
		if err := midiwire.ValidateChannel(int(z.MemberStart)); err != nil {
			return fmt.Errorf("zone member start: %w", err)
		}
		if err := midiwire.ValidateChannel(int(z.MemberEnd)); err != nil {
			return fmt.Errorf("zone member end: %w", err)
		}
		if z.MemberCount() == 0 {
			return fmt.Errorf("zone %d..%d has no member channels", z.MemberStart, z.MemberEnd)
		}
		if z.Manager >= z.MemberStart && z.Manager <= z.MemberEnd {
			return fmt.Errorf("zone manager %d overlaps member range %d..%d", z.Manager, z.MemberStart, z.MemberEnd)
		}
	default:
		return fmt.Errorf("unknown mode %d", s.Mode)
	}
	if s.Retune == RetuneRamp {
		if s.RampSteps < 2 {
			return fmt.Errorf("ramp steps %d must be at least 2", s.RampSteps)
		}
		if s.RampDuration <= 0 {
			return fmt.Errorf("ramp duration must be positive")
		}
	}
	return nil
}

// OutputChannels lists the channels this configuration may send voice
// traffic on, in ascending order. Disabled mode has none; MPE includes
// the zone manager.
func (s Settings) OutputChannels() []uint8 {
	switch s.Mode {
	case ModeMono, ModeTuningTable:
		return []uint8{s.Channel}
	case ModeMulti:
		chans := make([]uint8, 0, s.ChannelEnd-s.ChannelStart+1)
		for ch := s.ChannelStart; ch <= s.ChannelEnd; ch++ {
			chans = append(chans, ch)
		}
		return chans
	case ModeMPE:
		chans := []uint8{s.Zone.Manager}
		for ch := s.Zone.MemberStart; ch <= s.Zone.MemberEnd; ch++ {
			chans = append(chans, ch)
		}
		if chans[0] > chans[1] {
			chans = append(chans[1:], chans[0])
		}
		return chans
	default:
		return nil
	}
}

func (s Settings) referenceHz() float64 {
	if s.ReferenceHz > 0 {
		return s.ReferenceHz
	}
	return midiwire.DefaultReferenceHz
}
