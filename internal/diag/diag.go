package diag

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillaudio/microtune/internal/delivery"
	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/lifecycle"
)

// Direction tags an event record as input or output.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// EventRecord is one observed note event.
type EventRecord struct {
	At        time.Time
	Direction Direction
	SourceID  string
	DestID    string
	Kind      event.Kind
	Channel   uint8
	Key       uint8
	Velocity  uint8
}

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	SessionID    string
	At           time.Time
	Inputs       uint64
	Outputs      uint64
	LoopbackHits uint64
	Recent       []EventRecord
	Transitions  []lifecycle.StateChange
	Statuses     []lifecycle.Status
}

// SnapshotSink receives debounced snapshots.
type SnapshotSink func(Snapshot)

// StatusSource supplies destination statuses for snapshots. Typically
// the dispatcher.
type StatusSource interface {
	Statuses() []lifecycle.Status
}

// EventWriter persists diagnostics; implemented by the sqlite Recorder.
type EventWriter interface {
	WriteEvent(sessionID string, rec EventRecord) error
	WriteTransition(sessionID string, change lifecycle.StateChange) error
}

// Defaults for collector tuning.
const (
	DefaultDebounce  = 250 * time.Millisecond
	DefaultEventRing = 64
	DefaultStateRing = 32
)

// Collector accumulates diagnostics under a session token.
type Collector struct {
	sessionID string
	clock     delivery.Clock
	sched     delivery.Scheduler
	log       *zap.Logger
	sink      SnapshotSink
	statuses  StatusSource
	writer    EventWriter
	debounce  time.Duration
	ringMax   int
	stateMax  int

	mu           sync.Mutex
	inputs       uint64
	outputs      uint64
	loopbackHits uint64
	events       []EventRecord
	transitions  []lifecycle.StateChange
	pendingEmit  bool
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithSnapshotSink attaches the debounced snapshot consumer.
func WithSnapshotSink(s SnapshotSink) CollectorOption {
	return func(c *Collector) { c.sink = s }
}

// WithStatusSource attaches the destination status provider.
func WithStatusSource(s StatusSource) CollectorOption {
	return func(c *Collector) { c.statuses = s }
}

// WithRecorder attaches the persistent event writer.
func WithRecorder(w EventWriter) CollectorOption {
	return func(c *Collector) { c.writer = w }
}

// WithDebounce overrides the snapshot debounce interval.
func WithDebounce(d time.Duration) CollectorOption {
	return func(c *Collector) { c.debounce = d }
}

// WithRings overrides the ring capacities.
func WithRings(events, transitions int) CollectorOption {
	return func(c *Collector) { c.ringMax, c.stateMax = events, transitions }
}

// WithCollectorLogger attaches a logger.
func WithCollectorLogger(log *zap.Logger) CollectorOption {
	return func(c *Collector) { c.log = log }
}

// NewCollector creates a collector with a fresh session token. V7 UUIDs
// sort by creation time, which keeps recorded sessions ordered on disk.
func NewCollector(clock delivery.Clock, sched delivery.Scheduler, opts ...CollectorOption) *Collector {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	c := &Collector{
		sessionID: id.String(),
		clock:     clock,
		sched:     sched,
		log:       zap.NewNop(),
		debounce:  DefaultDebounce,
		ringMax:   DefaultEventRing,
		stateMax:  DefaultStateRing,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the session token.
func (c *Collector) SessionID() string { return c.sessionID }

// RecordInput notes an incoming event.
func (c *Collector) RecordInput(ev event.Note) {
	rec := EventRecord{
		At:        c.clock.Now(),
		Direction: DirIn,
		SourceID:  ev.SourceID,
		Kind:      ev.Kind,
		Channel:   ev.Channel,
		Key:       ev.Key,
		Velocity:  ev.Velocity,
	}
	c.mu.Lock()
	c.inputs++
	c.pushLocked(rec)
	c.armLocked()
	c.mu.Unlock()
	c.persist(rec)
}

// RecordOutput notes an emitted event.
func (c *Collector) RecordOutput(destID string, ch, key uint8, kind event.Kind, velocity uint8) {
	rec := EventRecord{
		At:        c.clock.Now(),
		Direction: DirOut,
		DestID:    destID,
		Kind:      kind,
		Channel:   ch,
		Key:       key,
		Velocity:  velocity,
	}
	c.mu.Lock()
	c.outputs++
	c.pushLocked(rec)
	c.armLocked()
	c.mu.Unlock()
	c.persist(rec)
}

// RecordLoopbackHit counts one suppressed echo.
func (c *Collector) RecordLoopbackHit() {
	c.mu.Lock()
	c.loopbackHits++
	c.armLocked()
	c.mu.Unlock()
}

// StateSink returns a lifecycle sink feeding the transition ring.
func (c *Collector) StateSink() lifecycle.Sink {
	return func(change lifecycle.StateChange) {
		c.mu.Lock()
		c.transitions = append(c.transitions, change)
		if len(c.transitions) > c.stateMax {
			c.transitions = c.transitions[len(c.transitions)-c.stateMax:]
		}
		c.armLocked()
		c.mu.Unlock()
		if c.writer != nil {
			if err := c.writer.WriteTransition(c.sessionID, change); err != nil {
				c.log.Warn("transition record failed", zap.Error(err))
			}
		}
	}
}

// Snapshot builds the current view synchronously.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		SessionID:    c.sessionID,
		At:           c.clock.Now(),
		Inputs:       c.inputs,
		Outputs:      c.outputs,
		LoopbackHits: c.loopbackHits,
		Recent:       append([]EventRecord(nil), c.events...),
		Transitions:  append([]lifecycle.StateChange(nil), c.transitions...),
	}
	c.mu.Unlock()
	if c.statuses != nil {
		snap.Statuses = c.statuses.Statuses()
	}
	return snap
}

func (c *Collector) pushLocked(rec EventRecord) {
	c.events = append(c.events, rec)
	if len(c.events) > c.ringMax {
		c.events = c.events[len(c.events)-c.ringMax:]
	}
}

// armLocked schedules one debounced snapshot emit. Further mutations
// inside the window ride the already-armed timer.
func (c *Collector) armLocked() {
	if c.sink == nil || c.pendingEmit {
		return
	}
	c.pendingEmit = true
	c.sched.After(c.debounce, func() {
		c.mu.Lock()
		c.pendingEmit = false
		c.mu.Unlock()
		c.sink(c.Snapshot())
	})
}

func (c *Collector) persist(rec EventRecord) {
	if c.writer == nil {
		return
	}
	if err := c.writer.WriteEvent(c.sessionID, rec); err != nil {
		c.log.Warn("event record failed", zap.Error(err))
	}
}
