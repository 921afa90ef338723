// Package delivery implements the per-destination outbound message queue.
//
// Three priority classes exist. Realtime traffic (notes, pitch bend,
// panic resets) never enters the queue: it is sent synchronously so it can
// never wait behind configuration traffic. Normal and Bulk traffic queue
// with a minimum inter-message gap per class, Bulk's larger gap keeping
// big configuration payloads from starving the wire.
//
// The queue is sorted by (priority, enqueue time, id); the monotonic id is
// the deterministic tie-break when timestamps collide. Delivery schedules
// itself for exactly the remaining gap of the head message - there is no
// polling tick, so a burst of Bulk traffic never throttles later Normal
// traffic beyond Normal's own gap.
//
// Under overflow the oldest Bulk entry is evicted first; only when no Bulk
// entries remain does the oldest entry of any class go. Evicted and
// cleared messages complete their callbacks with ErrEvicted / ErrCleared.
// Transport send failures are logged and reported to the message callback,
// never propagated: one failed send must not abort a note-off cascade.
package delivery
