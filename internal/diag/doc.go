// Package diag collects runtime diagnostics: bounded rings of recent
// input/output events and destination state transitions, loopback and
// drop counters, and a debounced snapshot feed for UIs and logs.
//
// An optional sqlite recorder persists the same stream per session for
// offline inspection.
package diag
