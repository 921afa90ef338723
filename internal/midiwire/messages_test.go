package midiwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelVoiceMessages(t *testing.T) {
	assert.Equal(t, []byte{0x90, 69, 100}, NoteOn(0, 69, 100))
	assert.Equal(t, []byte{0x9F, 127, 1}, NoteOn(15, 127, 1))
	assert.Equal(t, []byte{0x80, 69, 64}, NoteOff(0, 69, 64))
	assert.Equal(t, []byte{0xB2, 7, 99}, ControlChange(2, 7, 99))
}

func TestPitchBend_LSBFirst(t *testing.T) {
	// Center: 8192 = 0x2000 -> LSB 0x00, MSB 0x40
	assert.Equal(t, []byte{0xE0, 0x00, 0x40}, PitchBend(0, 8192))

	// Max value
	assert.Equal(t, []byte{0xE3, 0x7F, 0x7F}, PitchBend(3, 16383))

	// Out-of-range values clamp rather than corrupt the status byte
	assert.Equal(t, []byte{0xE0, 0x7F, 0x7F}, PitchBend(0, 20000))
}

func TestChannelModeMessages(t *testing.T) {
	assert.Equal(t, []byte{0xB0, 123, 0}, AllNotesOff(0))
	assert.Equal(t, []byte{0xB5, 121, 0}, ResetAllControllers(5))
}

func TestPitchBendRangeRPN(t *testing.T) {
	msgs := PitchBendRangeRPN(0, 48)
	require.Len(t, msgs, 6)

	assert.Equal(t, []byte{0xB0, 101, 0}, msgs[0], "select RPN MSB")
	assert.Equal(t, []byte{0xB0, 100, 0}, msgs[1], "select RPN LSB 0 (bend range)")
	assert.Equal(t, []byte{0xB0, 6, 48}, msgs[2], "data entry MSB = semitones")
	assert.Equal(t, []byte{0xB0, 38, 0}, msgs[3], "data entry LSB = 0")
	assert.Equal(t, []byte{0xB0, 101, 127}, msgs[4], "null RPN MSB")
	assert.Equal(t, []byte{0xB0, 100, 127}, msgs[5], "null RPN LSB")
}

func TestMPEZoneSizeRPN(t *testing.T) {
	msgs := MPEZoneSizeRPN(0, 7)
	require.Len(t, msgs, 6)

	assert.Equal(t, []byte{0xB0, 100, 6}, msgs[1], "zone config parameter id")
	assert.Equal(t, []byte{0xB0, 6, 7}, msgs[2], "payload = member channel count")
}

func TestValidateChannel(t *testing.T) {
	require.NoError(t, ValidateChannel(1))
	require.NoError(t, ValidateChannel(16))
	assert.Error(t, ValidateChannel(0))
	assert.Error(t, ValidateChannel(17))
}

func TestValidateKey(t *testing.T) {
	require.NoError(t, ValidateKey(0))
	require.NoError(t, ValidateKey(127))
	assert.Error(t, ValidateKey(-1))
	assert.Error(t, ValidateKey(128))
}
