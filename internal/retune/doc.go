// Package retune converts incoming logical-key events into standard
// control-protocol output: a note plus pitch bend on an allocated
// channel, an MPE member-channel note, or a tuning-table broadcast.
//
// One Engine serves one destination. The note-on path computes the
// fractional key position of the target frequency, picks the nearest
// integer key reachable within the configured pitch-bend range, and
// encodes the residual deviation in cents as a bend value. Channel
// selection then depends on the mode: a fixed channel with mono
// steal/legato behavior, a free-then-steal scan over a channel range, or
// an MPE zone's member channels.
//
// Destination configuration (bend-range RPNs, zone size, tuning tables)
// is applied lazily: a fingerprint over the configuration-relevant
// settings decides whether setup messages need re-sending, so repeated
// preflights of an unchanged destination cost nothing.
//
// Note and bend traffic is realtime (synchronous, never queued);
// configuration rides the bulk lane of the delivery queue.
package retune
