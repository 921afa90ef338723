// Package event defines the performance-control events that flow through
// the retuning pipeline: a note press or release at a logical key, on a
// logical input channel, tagged with the source it arrived from.
package event

import "fmt"

// Kind distinguishes note presses from releases.
type Kind uint8

const (
	// KindNoteOn is a key press.
	KindNoteOn Kind = iota + 1
	// KindNoteOff is a key release.
	KindNoteOff
)

// String returns the wire-familiar name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNoteOn:
		return "note_on"
	case KindNoteOff:
		return "note_off"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Note is a single incoming performance event. Channel is the logical
// input channel in 1..16; Key and Velocity are 0..127.
//
// Note values are passed by value everywhere - they are never mutated
// after creation.
type Note struct {
	SourceID string
	Kind     Kind
	Channel  uint8
	Key      uint8
	Velocity uint8
}
