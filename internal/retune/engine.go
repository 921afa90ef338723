package retune

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quillaudio/microtune/internal/delivery"
	"github.com/quillaudio/microtune/internal/errs"
	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/midiwire"
	"github.com/quillaudio/microtune/internal/tuning"
	"github.com/quillaudio/microtune/internal/voice"
)

// TableSender receives full tuning tables. Implemented by the
// tuning-broadcast transport.
type TableSender interface {
	SendTable(table [128]float64) error
}

// OutputHook observes every note event the engine emits, so the
// dispatcher can feed the loopback guard.
type OutputHook func(ch, key uint8, kind event.Kind, velocity uint8)

// Engine converts (logical key, target frequency) pairs into output
// notes with pitch bend, or tuning-table updates, for one destination.
type Engine struct {
	mu sync.Mutex

	destID   string
	settings Settings
	mapping  tuning.KeyMapping
	alloc    *voice.Allocator
	queue    *delivery.Queue
	clock    delivery.Clock
	sched    delivery.Scheduler
	log      *zap.Logger
	tables   TableSender
	hook     OutputHook

	applied   string // fingerprint of the last applied configuration
	table     [128]float64
	tableSent bool

	ramps         map[voice.ID]func()
	unmappedDrops uint64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithTableSender attaches the tuning-table broadcast sink.
func WithTableSender(t TableSender) EngineOption {
	return func(e *Engine) { e.tables = t }
}

// WithOutputHook attaches the output observer.
func WithOutputHook(h OutputHook) EngineOption {
	return func(e *Engine) { e.hook = h }
}

// NewEngine creates an engine for one destination. settings must already
// validate.
func NewEngine(destID string, settings Settings, mapping tuning.KeyMapping, queue *delivery.Queue, clock delivery.Clock, sched delivery.Scheduler, opts ...EngineOption) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		destID:   destID,
		settings: settings,
		mapping:  mapping,
		alloc:    voice.NewAllocator(nil),
		queue:    queue,
		clock:    clock,
		sched:    sched,
		log:      zap.NewNop(),
		ramps:    make(map[voice.ID]func()),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(zap.String("dest", destID))
	return e, nil
}

// DestID returns the destination id this engine renders for.
func (e *Engine) DestID() string { return e.destID }

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// ApplySettings replaces the settings after validating them. The applied
// configuration fingerprint is left alone: if the new settings produce
// the same fingerprint no setup traffic is re-sent, otherwise the next
// EnsureConfigured (or preflight) re-applies.
func (e *Engine) ApplySettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
	return nil
}

// ApplyOverrides applies per-route mode / bend-range overrides. Nil
// fields leave the current value in place.
func (e *Engine) ApplyOverrides(mode *Mode, bendRange *uint8) error {
	e.mu.Lock()
	s := e.settings
	e.mu.Unlock()
	if mode != nil {
		s.Mode = *mode
	}
	if bendRange != nil {
		s.BendRange = *bendRange
	}
	return e.ApplySettings(s)
}

// ConfigFingerprint returns the fingerprint of the current settings.
func (e *Engine) ConfigFingerprint() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Fingerprint(e.destID, e.settings)
}

// ActiveVoices returns the number of sounding voices.
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alloc.ActiveCount()
}

// UnmappedDrops returns how many note-ons were ignored because the key
// had no mapping and how many fell outside the reachable key space.
func (e *Engine) UnmappedDrops() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unmappedDrops
}

// sendRealtime emits bytes synchronously, bypassing the queue. Failures
// are logged by the queue and never abort the caller.
func (e *Engine) sendRealtime(b []byte) {
	_ = e.queue.Enqueue(b, delivery.Realtime, nil) //nolint:errcheck // logged downstream
}

func (e *Engine) sendBulk(b []byte) {
	_ = e.queue.Enqueue(b, delivery.Bulk, nil)
}

func (e *Engine) emit(ch, key uint8, kind event.Kind, velocity uint8) {
	if e.hook != nil {
		e.hook(ch, key, kind, velocity)
	}
}

// EnsureConfigured lazily (re)applies the destination configuration. An
// unchanged fingerprint is a no-op; otherwise the mode's setup messages
// are queued at bulk priority. The caller still needs a queue flush (the
// lifecycle preflight does one) before the configuration is guaranteed
// on the wire.
func (e *Engine) EnsureConfigured() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureConfiguredLocked()
}

func (e *Engine) ensureConfiguredLocked() error {
	fp := Fingerprint(e.destID, e.settings)
	if fp == e.applied {
		return nil
	}
	s := e.settings
	switch s.Mode {
	case ModeDisabled:
		// Nothing to configure.
	case ModeMono:
		e.queueRPN(midiwire.PitchBendRangeRPN(s.Channel-1, s.BendRange))
	case ModeMulti:
		for ch := s.ChannelStart; ch <= s.ChannelEnd; ch++ {
			e.queueRPN(midiwire.PitchBendRangeRPN(ch-1, s.BendRange))
		}
	case ModeMPE:
		e.queueRPN(midiwire.MPEZoneSizeRPN(s.Zone.Manager-1, s.Zone.MemberCount()))
		e.queueRPN(midiwire.PitchBendRangeRPN(s.Zone.Manager-1, s.BendRange))
		for ch := s.Zone.MemberStart; ch <= s.Zone.MemberEnd; ch++ {
			e.queueRPN(midiwire.PitchBendRangeRPN(ch-1, s.BendRange))
		}
	case ModeTuningTable:
		if err := e.broadcastTableLocked(); err != nil {
			return err
		}
	}
	e.applied = fp
	e.log.Debug("configuration applied", zap.String("mode", s.Mode.String()), zap.String("fingerprint", fp[:12]))
	return nil
}

func (e *Engine) queueRPN(msgs [][]byte) {
	for _, m := range msgs {
		e.sendBulk(m)
	}
}

func (e *Engine) broadcastTableLocked() error {
	if e.tables == nil {
		return errs.Newf(errs.CodeNoTuningClients, "destination %s has no tuning-table sink", e.destID)
	}
	e.table = tuning.BuildTable(e.mapping, e.settings.referenceHz())
	if err := e.tables.SendTable(e.table); err != nil {
		return errs.Wrap(errs.CodeSendFailed, e.destID, err)
	}
	e.tableSent = true
	return nil
}

// NoteOn retunes and renders a key press. Unmapped keys and targets
// outside the reachable key space are counted and dropped, not errors.
func (e *Engine) NoteOn(sourceID string, inputChannel, key, velocity uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.settings.Mode == ModeDisabled {
		return nil
	}
	if err := e.ensureConfiguredLocked(); err != nil {
		return err
	}

	hz, ok := e.mapping.FrequencyFor(key)
	if !ok {
		e.unmappedDrops++
		e.log.Debug("unmapped key ignored", zap.Uint8("key", key))
		return nil
	}

	if e.settings.Mode == ModeTuningTable {
		return e.tableNoteOnLocked(sourceID, inputChannel, key, velocity, hz)
	}

	pos := midiwire.KeyFromFrequency(hz, e.settings.referenceHz())
	outKey, ok := midiwire.NearestKey(pos, e.settings.BendRange)
	if !ok {
		e.unmappedDrops++
		e.log.Debug("target outside key space", zap.Float64("hz", hz))
		return nil
	}
	cents := (pos - float64(outKey)) * 100
	bend := midiwire.CentsToBend(cents, e.settings.BendRange)

	switch e.settings.Mode {
	case ModeMono:
		return e.monoNoteOnLocked(sourceID, inputChannel, key, velocity, hz, pos, outKey, bend)
	case ModeMulti:
		ch, ok := e.multiChannelLocked()
		if !ok {
			return nil
		}
		e.soundLocked(sourceID, inputChannel, key, velocity, hz, outKey, ch, bend)
		return nil
	case ModeMPE:
		ch, ok := e.mpeChannelLocked()
		if !ok {
			return nil
		}
		e.soundLocked(sourceID, inputChannel, key, velocity, hz, outKey, ch, bend)
		return nil
	}
	return nil
}

// monoNoteOnLocked implements the single-channel policies. Only one
// voice is representable, so a new note silences or legato-retunes the
// sounding one.
func (e *Engine) monoNoteOnLocked(sourceID string, inputChannel, key, velocity uint8, hz, pos float64, outKey uint8, bend uint16) error {
	ch := e.settings.Channel
	sounding := e.alloc.VoicesOnChannel(ch)

	if e.settings.Mono == MonoLegato && len(sounding) > 0 {
		cur := sounding[len(sounding)-1]
		cents := (pos - float64(cur.OutputKey)) * 100
		if span := float64(e.settings.BendRange) * 100; cents >= -span && cents <= span {
			// Reachable from the sounding key: move the bend, keep the note.
			newBend := midiwire.CentsToBend(cents, e.settings.BendRange)
			for _, v := range sounding {
				e.cancelRampLocked(v.ID)
				e.alloc.ReleaseByID(v.ID)
			}
			if e.alloc.ChannelBend(ch) != newBend {
				e.sendRealtime(midiwire.PitchBend(ch-1, newBend))
				e.alloc.SetChannelBend(ch, newBend)
			}
			e.alloc.Allocate(voice.AllocateParams{
				InputKey:      key,
				InputChannel:  inputChannel,
				OutputKey:     cur.OutputKey,
				OutputChannel: ch,
				TargetHz:      hz,
				Bend:          newBend,
				Velocity:      velocity,
				SourceID:      sourceID,
				DestID:        e.destID,
			})
			return nil
		}
	}

	// Steal: the previous voice gets its note-off before the new note-on.
	for _, v := range sounding {
		e.cancelRampLocked(v.ID)
		e.alloc.ReleaseByID(v.ID)
		e.sendRealtime(midiwire.NoteOff(ch-1, v.OutputKey, 0))
		e.emit(ch, v.OutputKey, event.KindNoteOff, 0)
	}
	e.soundLocked(sourceID, inputChannel, key, velocity, hz, outKey, ch, bend)
	return nil
}

// multiChannelLocked picks a free channel in the configured range, else
// steals per the configured policy and reuses the victim's channel.
func (e *Engine) multiChannelLocked() (uint8, bool) {
	s := e.settings
	if ch, ok := e.alloc.FindFreeChannel(s.ChannelStart, s.ChannelEnd); ok {
		return ch, true
	}
	var victim *voice.Voice
	var ok bool
	if s.Steal == StealQuietest {
		victim, ok = e.alloc.StealQuietestInRange(s.ChannelStart, s.ChannelEnd)
	} else {
		victim, ok = e.alloc.StealOldestInRange(s.ChannelStart, s.ChannelEnd)
	}
	if !ok {
		return 0, false
	}
	e.silenceStolenLocked(victim)
	return victim.OutputChannel, true
}

// mpeChannelLocked prefers an empty member channel, else steals the
// oldest voice among members. The manager channel never carries a voice.
func (e *Engine) mpeChannelLocked() (uint8, bool) {
	z := e.settings.Zone
	if ch, ok := e.alloc.FindFreeChannel(z.MemberStart, z.MemberEnd); ok {
		return ch, true
	}
	victim, ok := e.alloc.StealOldestInRange(z.MemberStart, z.MemberEnd)
	if !ok {
		return 0, false
	}
	e.silenceStolenLocked(victim)
	return victim.OutputChannel, true
}

func (e *Engine) silenceStolenLocked(v *voice.Voice) {
	e.cancelRampLocked(v.ID)
	e.sendRealtime(midiwire.NoteOff(v.OutputChannel-1, v.OutputKey, 0))
	e.emit(v.OutputChannel, v.OutputKey, event.KindNoteOff, 0)
}

// soundLocked emits bend (when it moves) then note-on, and records the
// voice.
func (e *Engine) soundLocked(sourceID string, inputChannel, key, velocity uint8, hz float64, outKey, ch uint8, bend uint16) {
	if e.alloc.ChannelBend(ch) != bend {
		e.sendRealtime(midiwire.PitchBend(ch-1, bend))
		e.alloc.SetChannelBend(ch, bend)
	}
	e.sendRealtime(midiwire.NoteOn(ch-1, outKey, velocity))
	e.emit(ch, outKey, event.KindNoteOn, velocity)
	e.alloc.Allocate(voice.AllocateParams{
		InputKey:      key,
		InputChannel:  inputChannel,
		OutputKey:     outKey,
		OutputChannel: ch,
		TargetHz:      hz,
		Bend:          bend,
		Velocity:      velocity,
		SourceID:      sourceID,
		DestID:        e.destID,
	})
}

// tableNoteOnLocked handles broadcast mode: no channel allocation, the
// table entry is refreshed on demand, the note goes out unbent.
func (e *Engine) tableNoteOnLocked(sourceID string, inputChannel, key, velocity uint8, hz float64) error {
	if !e.tableSent || e.table[key] != hz {
		if err := e.broadcastTableLocked(); err != nil {
			return err
		}
	}
	ch := e.settings.Channel
	e.sendRealtime(midiwire.NoteOn(ch-1, key, velocity))
	e.emit(ch, key, event.KindNoteOn, velocity)
	e.alloc.Allocate(voice.AllocateParams{
		InputKey:      key,
		InputChannel:  inputChannel,
		OutputKey:     key,
		OutputChannel: ch,
		TargetHz:      hz,
		Bend:          midiwire.BendCenter,
		Velocity:      velocity,
		SourceID:      sourceID,
		DestID:        e.destID,
	})
	return nil
}

// NoteOff releases the most recent voice for the input (key, channel)
// pair. Unknown pairs are a no-op.
func (e *Engine) NoteOff(inputChannel, key, velocity uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, emptied := e.alloc.Release(key, inputChannel)
	if v == nil {
		return nil
	}
	e.cancelRampLocked(v.ID)
	e.sendRealtime(midiwire.NoteOff(v.OutputChannel-1, v.OutputKey, velocity))
	e.emit(v.OutputChannel, v.OutputKey, event.KindNoteOff, velocity)

	if emptied && e.settings.Mode != ModeTuningTable && e.alloc.ChannelBend(v.OutputChannel) != midiwire.BendCenter {
		e.sendRealtime(midiwire.PitchBend(v.OutputChannel-1, midiwire.BendCenter))
		e.alloc.SetChannelBend(v.OutputChannel, midiwire.BendCenter)
	}
	return nil
}

// Panic releases all voices and unconditionally resets every channel.
// The reset traffic bypasses the queue; queued traffic is discarded.
func (e *Engine) Panic() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, cancel := range e.ramps {
		cancel()
		delete(e.ramps, id)
	}
	e.alloc.Clear()
	e.queue.Clear()

	for ch := uint8(0); ch < 16; ch++ {
		e.sendRealtime(midiwire.AllNotesOff(ch))
		e.sendRealtime(midiwire.ResetAllControllers(ch))
		e.sendRealtime(midiwire.PitchBend(ch, midiwire.BendCenter))
	}
	e.log.Info("panic: all channels reset")
}

func (e *Engine) cancelRampLocked(id voice.ID) {
	if cancel, ok := e.ramps[id]; ok {
		cancel()
		delete(e.ramps, id)
	}
}
