package midiwire

import "math"

const (
	// BendCenter is the no-deviation pitch-bend value.
	BendCenter uint16 = 8192
	// BendMax is the largest encodable 14-bit bend value.
	BendMax uint16 = 16383

	// ReferenceKey is the key the reference frequency is anchored to (A4).
	ReferenceKey = 69
	// DefaultReferenceHz is the standard concert pitch for key 69.
	DefaultReferenceHz = 440.0
)

// KeyFromFrequency returns the fractional key position of a frequency
// relative to refHz at key 69, in 12-steps-per-octave space.
func KeyFromFrequency(hz, refHz float64) float64 {
	return ReferenceKey + 12*math.Log2(hz/refHz)
}

// FrequencyFromKey is the inverse of KeyFromFrequency.
func FrequencyFromKey(key, refHz float64) float64 {
	return refHz * math.Pow(2, (key-float64(ReferenceKey))/12)
}

// NearestKey picks the integer output key closest to the fractional
// position pos, restricted to keys reachable within bendRange semitones
// and to the valid 0..127 key space. The scan runs lowest key first, so
// an exact tie resolves to the lower key. Returns false when no key in
// 0..127 lies within the bend range.
func NearestKey(pos float64, bendRange uint8) (uint8, bool) {
	lo := int(math.Ceil(pos - float64(bendRange)))
	hi := int(math.Floor(pos + float64(bendRange)))
	if lo < 0 {
		lo = 0
	}
	if hi > 127 {
		hi = 127
	}
	if lo > hi {
		return 0, false
	}

	best := lo
	bestDev := math.Abs(pos - float64(lo))
	for k := lo + 1; k <= hi; k++ {
		if dev := math.Abs(pos - float64(k)); dev < bestDev {
			best, bestDev = k, dev
		}
	}
	return uint8(best), true
}

// CentsToBend encodes a cents deviation as a 14-bit bend value for the
// given pitch-bend range in semitones. The positive half-scale is 8191
// units (8192..16383), the negative half-scale 8192 units.
func CentsToBend(cents float64, bendRange uint8) uint16 {
	if bendRange == 0 {
		return BendCenter
	}
	span := float64(bendRange) * 100
	v := float64(BendCenter) + math.Round(cents/span*8192)
	if v < 0 {
		v = 0
	}
	if v > float64(BendMax) {
		v = float64(BendMax)
	}
	return uint16(v)
}

// BendToCents decodes a bend value back to a cents deviation.
func BendToCents(bend uint16, bendRange uint8) float64 {
	return (float64(bend) - float64(BendCenter)) / 8192 * float64(bendRange) * 100
}
