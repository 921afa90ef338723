// Package tuning defines the logical-key to target-frequency mapping the
// retuning core consumes. The mapping itself (scale files, keyboard
// layouts, import formats) is an external collaborator; this package only
// fixes the interface and provides the 12-steps-per-octave reference
// tuning used as a fallback.
package tuning

import "github.com/quillaudio/microtune/internal/midiwire"

// KeyMapping resolves a logical key to a target frequency. The boolean is
// false when the key has no mapping; unmapped keys produce no sound.
type KeyMapping interface {
	FrequencyFor(key uint8) (float64, bool)
}

// MappingFunc adapts a plain function to KeyMapping.
type MappingFunc func(key uint8) (float64, bool)

// FrequencyFor implements KeyMapping.
func (f MappingFunc) FrequencyFor(key uint8) (float64, bool) {
	return f(key)
}

// equalTemperament is the fixed 12-TET reference tuning.
type equalTemperament struct {
	refHz float64
}

// EqualTemperament returns the standard 12-steps-per-octave tuning with
// the given reference frequency at key 69.
func EqualTemperament(refHz float64) KeyMapping {
	if refHz <= 0 {
		refHz = midiwire.DefaultReferenceHz
	}
	return equalTemperament{refHz: refHz}
}

func (e equalTemperament) FrequencyFor(key uint8) (float64, bool) {
	return midiwire.FrequencyFromKey(float64(key), e.refHz), true
}
