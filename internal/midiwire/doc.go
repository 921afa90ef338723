// Package midiwire builds the raw 3-byte channel-voice messages and the
// multi-message RPN sequences the retuning core emits, and implements the
// frequency / key / pitch-bend arithmetic those messages encode.
//
// Channels are wire channels 0..15 at this layer. The rest of the core
// speaks 1..16 and converts at the call site; validation helpers for the
// 1..16 form live here so configuration can fail fast with one message.
//
// Pitch math:
//
// A target frequency maps to a fractional key position relative to the
// reference frequency of key 69 (A4, 440 Hz by default):
//
//	pos = 69 + 12*log2(hz/ref)
//
// The deviation between the chosen integer key and the fractional position
// is expressed in cents (1/100 semitone) and encoded as a 14-bit pitch-bend
// value centered at 8192, scaled by the configured pitch-bend range in
// semitones. CentsToBend and BendToCents round-trip within one bend unit.
package midiwire
