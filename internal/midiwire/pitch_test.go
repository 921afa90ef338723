package midiwire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFromFrequency(t *testing.T) {
	assert.InDelta(t, 69.0, KeyFromFrequency(440, 440), 1e-9)
	assert.InDelta(t, 81.0, KeyFromFrequency(880, 440), 1e-9)
	assert.InDelta(t, 57.0, KeyFromFrequency(220, 440), 1e-9)

	// 442 Hz sits a little under 8 cents above A4.
	pos := KeyFromFrequency(442, 440)
	assert.InDelta(t, 69.0786, pos, 1e-3)
}

func TestFrequencyFromKey_RoundTrip(t *testing.T) {
	for _, hz := range []float64{27.5, 261.6255653, 440, 442, 4186.009} {
		pos := KeyFromFrequency(hz, 440)
		assert.InDelta(t, hz, FrequencyFromKey(pos, 440), 1e-6)
	}
}

func TestNearestKey(t *testing.T) {
	k, ok := NearestKey(69.0786, 48)
	require.True(t, ok)
	assert.Equal(t, uint8(69), k)

	k, ok = NearestKey(69.6, 2)
	require.True(t, ok)
	assert.Equal(t, uint8(70), k)

	// Exact half-step tie resolves to the lower key.
	k, ok = NearestKey(69.5, 2)
	require.True(t, ok)
	assert.Equal(t, uint8(69), k)
}

func TestNearestKey_ClampsToKeySpace(t *testing.T) {
	k, ok := NearestKey(-3.2, 12)
	require.True(t, ok)
	assert.Equal(t, uint8(0), k)

	k, ok = NearestKey(131.4, 12)
	require.True(t, ok)
	assert.Equal(t, uint8(127), k)
}

func TestNearestKey_Unreachable(t *testing.T) {
	_, ok := NearestKey(-10, 2)
	assert.False(t, ok)

	_, ok = NearestKey(140, 2)
	assert.False(t, ok)
}

func TestCentsToBend(t *testing.T) {
	assert.Equal(t, BendCenter, CentsToBend(0, 48))

	// Full positive scale saturates at BendMax.
	assert.Equal(t, BendMax, CentsToBend(4800, 48))

	// Full negative scale bottoms out at 0.
	assert.Equal(t, uint16(0), CentsToBend(-4800, 48))

	// +50 cents at range 2 is halfway up the positive scale.
	assert.Equal(t, uint16(8192+2048), CentsToBend(50, 2))
}

func TestBendCentsRoundTrip(t *testing.T) {
	// Encoding then decoding a cents deviation must land within the
	// resolution of one bend unit for the configured range.
	for _, rng := range []uint8{2, 12, 48} {
		unit := float64(rng) * 100 / 8192
		for _, cents := range []float64{-199.9, -42.2, -0.3, 0, 7.85, 33.33, 199.9} {
			if math.Abs(cents) > float64(rng)*100 {
				continue
			}
			got := BendToCents(CentsToBend(cents, rng), rng)
			assert.InDelta(t, cents, got, unit, "range %d cents %f", rng, cents)
		}
	}
}

func TestScenario_A442_Range48(t *testing.T) {
	// Spec scenario: 442 Hz against A4=440 with a 48-semitone bend range
	// selects key 69 with a small positive bend above center.
	pos := KeyFromFrequency(442, 440)
	key, ok := NearestKey(pos, 48)
	require.True(t, ok)
	assert.Equal(t, uint8(69), key)

	cents := (pos - float64(key)) * 100
	bend := CentsToBend(cents, 48)
	assert.Greater(t, bend, BendCenter)
	assert.Less(t, bend, BendCenter+100)
}
