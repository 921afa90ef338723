package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var names = []string{"IAC Driver Bus 1", "IAC Driver Bus 2", "Pianoteq 8", "Surge XT"}

func TestMatch_ExactCaseFolded(t *testing.T) {
	idx, err := Match(names, "pianoteq 8")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestMatch_UniqueSubstring(t *testing.T) {
	idx, err := Match(names, "surge")
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
}

func TestMatch_ExactBeatsSubstring(t *testing.T) {
	idx, err := Match([]string{"Bus", "Bus 1"}, "bus")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestMatch_AmbiguousSubstring(t *testing.T) {
	_, err := Match(names, "iac")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
	assert.Contains(t, err.Error(), "IAC Driver Bus 1")
}

func TestMatch_NotFound(t *testing.T) {
	_, err := Match(names, "kontakt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no MIDI port")
}

func TestMatch_EmptyQuery(t *testing.T) {
	_, err := Match(names, "  ")
	require.Error(t, err)
}

func TestMatch_TrimsWhitespace(t *testing.T) {
	idx, err := Match(names, "  Pianoteq 8  ")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}
