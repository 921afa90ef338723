// Package lifecycle drives a destination through its readiness state
// machine: disconnected, connecting, preflighting, ready, error.
//
// Preflight is the bounded sequence that makes a destination safe to
// play into: connect the transport if it has a connection lifecycle,
// push the retuning configuration, quiesce every output channel, then
// drain the delivery queue under a deadline. Concurrent EnsureReady
// calls coalesce onto one in-flight preflight, and a configuration
// fingerprint short-circuits the whole sequence when nothing changed.
//
// Notes arriving before the destination is ready are buffered (bounded,
// oldest dropped first) or dropped outright, per the configured policy,
// and buffered notes replay in arrival order once preflight succeeds.
package lifecycle
