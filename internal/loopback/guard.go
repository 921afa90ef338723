// Package loopback suppresses feedback loops between the engine's own
// output and its input. Outputs are recorded under a short time window;
// an input event matching a recent output is dropped before routing.
package loopback

import (
	"fmt"
	"time"

	"github.com/quillaudio/microtune/internal/delivery"
	"github.com/quillaudio/microtune/internal/event"
)

// Mode selects how aggressively the guard matches.
type Mode uint8

const (
	// ModeOff disables the guard entirely.
	ModeOff Mode = iota
	// ModeNormal matches on (channel, key, kind).
	ModeNormal
	// ModeStrict additionally matches a coarse velocity bucket.
	ModeStrict
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeNormal:
		return "normal"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// velocityBucketWidth coarsens velocity in strict mode so small velocity
// jitter on the return path still matches.
const velocityBucketWidth = 32

// DefaultWindow is the default dedup window.
const DefaultWindow = 30 * time.Millisecond

type entry struct {
	key string
	at  time.Time
}

// Guard is the time-windowed output/input dedup. The entry log is
// bounded by the window: every call prunes entries older than it.
// Not safe for concurrent use; the dispatcher serializes access.
type Guard struct {
	mode    Mode
	window  time.Duration
	clock   delivery.Clock
	entries []entry
	hits    uint64
}

// NewGuard creates a guard. A non-positive window falls back to
// DefaultWindow.
func NewGuard(mode Mode, window time.Duration, clock delivery.Clock) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{mode: mode, window: window, clock: clock}
}

func (g *Guard) dedupKey(ch, key uint8, kind event.Kind, velocity uint8) string {
	if g.mode == ModeStrict {
		return fmt.Sprintf("%d:%d:%d:%d", ch, key, kind, velocity/velocityBucketWidth)
	}
	return fmt.Sprintf("%d:%d:%d", ch, key, kind)
}

// RecordOutput notes that the engine emitted a note event, so the same
// event seen as input within the window is recognized as loopback.
func (g *Guard) RecordOutput(ch, key uint8, kind event.Kind, velocity uint8) {
	if g.mode == ModeOff {
		return
	}
	now := g.clock.Now()
	g.prune(now)
	g.entries = append(g.entries, entry{key: g.dedupKey(ch, key, kind, velocity), at: now})
}

// ShouldDropInput reports whether the event matches an output recorded
// within the window.
func (g *Guard) ShouldDropInput(ev event.Note) bool {
	if g.mode == ModeOff {
		return false
	}
	now := g.clock.Now()
	g.prune(now)
	k := g.dedupKey(ev.Channel, ev.Key, ev.Kind, ev.Velocity)
	for _, e := range g.entries {
		if e.key == k {
			g.hits++
			return true
		}
	}
	return false
}

// prune drops entries older than the window, bounding memory to the
// window's duration.
func (g *Guard) prune(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.entries) && g.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		g.entries = append(g.entries[:0], g.entries[i:]...)
	}
}

// Hits returns how many inputs the guard has dropped.
func (g *Guard) Hits() uint64 {
	return g.hits
}
