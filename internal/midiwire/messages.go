package midiwire

import "fmt"

// Status nibbles for channel-voice messages.
const (
	statusNoteOff       = 0x80
	statusNoteOn        = 0x90
	statusControlChange = 0xB0
	statusPitchBend     = 0xE0
)

// Controller numbers used by the core.
const (
	ccDataEntryMSB        = 6
	ccDataEntryLSB        = 38
	ccRPNLSB              = 100
	ccRPNMSB              = 101
	ccResetAllControllers = 121
	ccAllNotesOff         = 123
)

// RPN parameter numbers (LSB; MSB is 0 for both).
const (
	rpnPitchBendRange = 0
	rpnMPEZoneConfig  = 6
)

// NoteOn builds a note-on message. ch is a wire channel 0..15.
func NoteOn(ch, key, velocity uint8) []byte {
	return []byte{statusNoteOn | ch&0x0F, key & 0x7F, velocity & 0x7F}
}

// NoteOff builds a note-off message.
func NoteOff(ch, key, velocity uint8) []byte {
	return []byte{statusNoteOff | ch&0x0F, key & 0x7F, velocity & 0x7F}
}

// ControlChange builds a control-change message.
func ControlChange(ch, controller, value uint8) []byte {
	return []byte{statusControlChange | ch&0x0F, controller & 0x7F, value & 0x7F}
}

// PitchBend builds a pitch-bend message for a 14-bit value, LSB first.
func PitchBend(ch uint8, bend uint16) []byte {
	if bend > BendMax {
		bend = BendMax
	}
	return []byte{statusPitchBend | ch&0x0F, uint8(bend & 0x7F), uint8(bend >> 7)}
}

// AllNotesOff builds CC 123.
func AllNotesOff(ch uint8) []byte {
	return ControlChange(ch, ccAllNotesOff, 0)
}

// ResetAllControllers builds CC 121.
func ResetAllControllers(ch uint8) []byte {
	return ControlChange(ch, ccResetAllControllers, 0)
}

// rpnSequence builds the standard 6-message registered-parameter write:
// select the parameter, write data entry MSB/LSB, then null the selection
// so later stray data-entry messages cannot clobber the parameter.
func rpnSequence(ch, paramLSB, valueMSB, valueLSB uint8) [][]byte {
	return [][]byte{
		ControlChange(ch, ccRPNMSB, 0),
		ControlChange(ch, ccRPNLSB, paramLSB),
		ControlChange(ch, ccDataEntryMSB, valueMSB),
		ControlChange(ch, ccDataEntryLSB, valueLSB),
		ControlChange(ch, ccRPNMSB, 127),
		ControlChange(ch, ccRPNLSB, 127),
	}
}

// PitchBendRangeRPN builds the 6-message sequence that sets the channel's
// pitch-bend range to the given number of semitones.
func PitchBendRangeRPN(ch, semitones uint8) [][]byte {
	return rpnSequence(ch, rpnPitchBendRange, semitones, 0)
}

// MPEZoneSizeRPN builds the 6-message sequence that configures an MPE zone
// on the manager channel with the given member-channel count.
func MPEZoneSizeRPN(managerCh, memberCount uint8) [][]byte {
	return rpnSequence(managerCh, rpnMPEZoneConfig, memberCount, 0)
}

// ValidateChannel rejects logical channel numbers outside 1..16.
func ValidateChannel(ch int) error {
	if ch < 1 || ch > 16 {
		return fmt.Errorf("channel %d out of range 1..16", ch)
	}
	return nil
}

// ValidateKey rejects key numbers outside 0..127.
func ValidateKey(key int) error {
	if key < 0 || key > 127 {
		return fmt.Errorf("key %d out of range 0..127", key)
	}
	return nil
}
