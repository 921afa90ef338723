// Package voice tracks the active voices of one destination: which input
// key/channel each sounding note came from, which output key/channel it
// occupies, and the pitch-bend state of every output channel.
//
// The Allocator exclusively owns all Voice and channel state for its
// lifetime. A Voice exists from Allocate until Release or a steal; at most
// one Voice ever carries a given id. Repeated presses of the same input
// key stack, and release pops the most recent press first (LIFO), so
// overlapping presses of a held key release in the natural order.
//
// Channel recency and voice age are measured on a logical clock, not wall
// time, so tie-breaks in the steal and fallback policies are
// deterministic.
package voice
