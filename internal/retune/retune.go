package retune

import (
	"time"

	"go.uber.org/zap"

	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/midiwire"
	"github.com/quillaudio/microtune/internal/tuning"
	"github.com/quillaudio/microtune/internal/voice"
)

// SetMapping swaps the key mapping at runtime and applies the configured
// retune policy to the voices already sounding.
func (e *Engine) SetMapping(m tuning.KeyMapping) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mapping = m

	if e.settings.Mode == ModeTuningTable {
		if e.tableSent {
			return e.broadcastTableLocked()
		}
		return nil
	}

	switch e.settings.Retune {
	case RetuneNewNotesOnly:
		return nil
	case RetuneImmediate:
		for _, v := range e.alloc.Voices() {
			e.retuneVoiceLocked(v, false)
		}
	case RetuneRamp:
		for _, v := range e.alloc.Voices() {
			e.retuneVoiceLocked(v, true)
		}
	}
	return nil
}

// retuneVoiceLocked recomputes one voice against the current mapping.
// When the selected output key itself changes, the note is re-struck
// (off then on); a bend-only change updates in place, ramped when asked.
func (e *Engine) retuneVoiceLocked(v *voice.Voice, ramp bool) {
	hz, ok := e.mapping.FrequencyFor(v.InputKey)
	if !ok {
		// The key lost its mapping; leave the sounding voice alone.
		return
	}
	pos := midiwire.KeyFromFrequency(hz, e.settings.referenceHz())
	newKey, reachable := midiwire.NearestKey(pos, e.settings.BendRange)
	if !reachable {
		// Target moved outside the key space: silence the voice.
		e.cancelRampLocked(v.ID)
		released, emptied := e.alloc.ReleaseByID(v.ID)
		if released != nil {
			e.sendRealtime(midiwire.NoteOff(released.OutputChannel-1, released.OutputKey, 0))
			e.emit(released.OutputChannel, released.OutputKey, event.KindNoteOff, 0)
			if emptied {
				e.recenterLocked(released.OutputChannel)
			}
		}
		return
	}

	cents := (pos - float64(newKey)) * 100
	newBend := midiwire.CentsToBend(cents, e.settings.BendRange)
	v.TargetHz = hz

	if newKey == v.OutputKey {
		if newBend == v.Bend {
			return
		}
		if ramp {
			e.startRampLocked(v, newBend)
			return
		}
		e.setBendLocked(v, newBend)
		return
	}

	// Output key changed: note-off the old key, strike the new one.
	e.cancelRampLocked(v.ID)
	e.sendRealtime(midiwire.NoteOff(v.OutputChannel-1, v.OutputKey, 0))
	e.emit(v.OutputChannel, v.OutputKey, event.KindNoteOff, 0)
	if e.alloc.ChannelBend(v.OutputChannel) != newBend {
		e.sendRealtime(midiwire.PitchBend(v.OutputChannel-1, newBend))
		e.alloc.SetChannelBend(v.OutputChannel, newBend)
	}
	e.sendRealtime(midiwire.NoteOn(v.OutputChannel-1, newKey, v.Velocity))
	e.emit(v.OutputChannel, newKey, event.KindNoteOn, v.Velocity)
	v.OutputKey = newKey
	v.Bend = newBend
}

func (e *Engine) setBendLocked(v *voice.Voice, bend uint16) {
	e.sendRealtime(midiwire.PitchBend(v.OutputChannel-1, bend))
	e.alloc.SetChannelBend(v.OutputChannel, bend)
	v.Bend = bend
}

func (e *Engine) recenterLocked(ch uint8) {
	if e.alloc.ChannelBend(ch) != midiwire.BendCenter {
		e.sendRealtime(midiwire.PitchBend(ch-1, midiwire.BendCenter))
		e.alloc.SetChannelBend(ch, midiwire.BendCenter)
	}
}

// startRampLocked interpolates a voice's bend to the target over
// RampSteps discrete steps spread across RampDuration. A newer ramp,
// release, or steal of the voice cancels the chain.
func (e *Engine) startRampLocked(v *voice.Voice, target uint16) {
	e.cancelRampLocked(v.ID)

	steps := e.settings.RampSteps
	interval := e.settings.RampDuration / time.Duration(steps)
	start := v.Bend
	id := v.ID

	var schedule func(step int)
	cancelled := false
	schedule = func(step int) {
		cancelStep := e.sched.After(interval, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if cancelled {
				return
			}
			cur, ok := e.lookupVoiceLocked(id)
			if !ok {
				delete(e.ramps, id)
				return
			}
			frac := float64(step) / float64(steps)
			bend := uint16(float64(start) + (float64(target)-float64(start))*frac)
			e.setBendLocked(cur, bend)
			if step >= steps {
				delete(e.ramps, id)
				return
			}
			schedule(step + 1)
		})
		e.ramps[id] = func() {
			cancelled = true
			cancelStep()
		}
	}
	schedule(1)
	e.log.Debug("bend ramp started",
		zap.Int64("voice", int64(id)),
		zap.Uint16("from", start),
		zap.Uint16("to", target),
		zap.Int("steps", steps))
}

func (e *Engine) lookupVoiceLocked(id voice.ID) (*voice.Voice, bool) {
	for _, v := range e.alloc.Voices() {
		if v.ID == id {
			return v, true
		}
	}
	return nil, false
}
