// Package transport defines the message-transport contract consumed by
// the retuning core and the adapters implementing it: a real MIDI output
// port, a tuning-table broadcaster, and a capture transport for tests
// and diagnostics.
//
// The contract is capability-tagged rather than duck-typed: optional
// behavior (connect/disconnect, table broadcast) lives on separate
// interfaces checked at the call site.
package transport

// Capabilities describes what a destination's transport can carry.
type Capabilities struct {
	SupportsPitchBend   bool
	SupportsMPE         bool
	SupportsTuningTable bool
	// MaxMessagesPerSecond is advisory; zero means unknown/unlimited.
	MaxMessagesPerSecond int
}

// Transport delivers raw protocol bytes to one destination.
type Transport interface {
	Send(b []byte) error
	Capabilities() Capabilities
}

// Connector is implemented by transports with an explicit connection
// lifecycle. Transports without it are treated as always connected.
type Connector interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
}

// TableSender is implemented by transports that carry full tuning
// tables instead of per-note pitch bend.
type TableSender interface {
	SendTable(table [128]float64) error
}
