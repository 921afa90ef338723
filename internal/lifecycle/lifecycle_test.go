package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillaudio/microtune/internal/delivery"
	"github.com/quillaudio/microtune/internal/errs"
	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/retune"
	"github.com/quillaudio/microtune/internal/testutil"
	"github.com/quillaudio/microtune/internal/transport"
	"github.com/quillaudio/microtune/internal/tuning"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// monoPreflightFrames is what a single-channel preflight puts on the
// wire: a 6-message bend-range RPN plus the 3-message channel quiesce.
const monoPreflightFrames = 6 + 3

type rig struct {
	sim   *testutil.Sim
	cap   *transport.Capture
	queue *delivery.Queue
	dest  *Destination
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	return newRigSettings(t, monoSettings(), nil, opts...)
}

func newRigSettings(t *testing.T, s retune.Settings, qopts []delivery.Option, opts ...Option) *rig {
	t.Helper()
	r := &rig{
		sim: testutil.NewSim(t0),
		cap: transport.NewCapture(transport.Capabilities{SupportsPitchBend: true}),
	}
	r.queue = delivery.NewQueue(r.sim, r.sim, r.cap.Send, qopts...)
	engine, err := retune.NewEngine("dest-1", s, tuning.EqualTemperament(440), r.queue, r.sim, r.sim)
	require.NoError(t, err)
	r.dest = NewDestination("dest-1", engine, r.queue, r.sim, r.sim,
		append([]Option{WithTransport(r.cap)}, opts...)...)
	return r
}

func monoSettings() retune.Settings {
	s := retune.DefaultSettings()
	s.Mode = retune.ModeMono
	s.Channel = 1
	return s
}

// advanceUntil drives simulated time until cond holds. The queue only
// delivers inside Advance, so background preflights progress here.
func (r *rig) advanceUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.sim.Advance(25 * time.Millisecond)
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func (r *rig) ensureReadyAsync() <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- r.dest.EnsureReady(context.Background()) }()
	return ch
}

func noteOn(key, vel uint8) event.Note {
	return event.Note{SourceID: "kb", Kind: event.KindNoteOn, Channel: 1, Key: key, Velocity: vel}
}

func TestEnsureReady_RunsPreflight(t *testing.T) {
	r := newRig(t)
	errCh := r.ensureReadyAsync()

	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)

	frames := r.cap.Frames()
	require.Len(t, frames, monoPreflightFrames)
	// Configuration (RPN control changes) first, then the quiesce tail.
	assert.Equal(t, byte(0xB0), frames[0][0]&0xF0, "bend-range RPN leads")
	n := len(frames)
	assert.Equal(t, []byte{0xE0, 0x00, 0x40}, frames[n-3], "bend centered")
	assert.Equal(t, []byte{0xB0, 123, 0}, frames[n-2], "all notes off")
	assert.Equal(t, []byte{0xB0, 121, 0}, frames[n-1], "controllers reset")

	st := r.dest.Status()
	assert.Equal(t, StateReady, st.State)
	assert.NotEmpty(t, st.Fingerprint)
	assert.Empty(t, st.ErrCode)
}

func TestEnsureReady_FingerprintShortCircuits(t *testing.T) {
	r := newRig(t)
	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)
	sent := len(r.cap.Frames())

	// Same fingerprint: returns synchronously, nothing resent.
	require.NoError(t, r.dest.EnsureReady(context.Background()))
	assert.Len(t, r.cap.Frames(), sent)
}

func TestEnsureReady_ReRunsAfterSettingsChange(t *testing.T) {
	r := newRig(t)
	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)
	sent := len(r.cap.Frames())

	s := r.dest.Engine().Settings()
	s.BendRange = 2
	require.NoError(t, r.dest.Engine().ApplySettings(s))

	errCh = r.ensureReadyAsync()
	r.advanceUntil(t, func() bool {
		return r.dest.State() == StateReady && len(r.cap.Frames()) > sent
	})
	require.NoError(t, <-errCh)
	assert.Len(t, r.cap.Frames(), sent+monoPreflightFrames)
}

func TestEnsureReady_CoalescesConcurrentCallers(t *testing.T) {
	r := newRig(t)
	chans := []<-chan error{r.ensureReadyAsync(), r.ensureReadyAsync(), r.ensureReadyAsync()}

	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	for _, ch := range chans {
		require.NoError(t, <-ch)
	}
	assert.Len(t, r.cap.Frames(), monoPreflightFrames, "one preflight for all callers")
}

func TestEnsureReady_ConnectFailure(t *testing.T) {
	r := newRig(t)
	r.cap.ConnectErr = errors.New("no such port")
	r.dest.conn = r.cap

	err := r.dest.EnsureReady(context.Background())
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeBridgeDisconnected))
	assert.Equal(t, StateError, r.dest.State())

	// The failure clears and the next attempt succeeds.
	r.cap.ConnectErr = nil
	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)
	assert.True(t, r.cap.IsConnected())
}

func TestEnsureReady_DrainTimeout(t *testing.T) {
	// Gaps far beyond the preflight timeout: the queue cannot drain.
	r := newRigSettings(t, monoSettings(),
		[]delivery.Option{delivery.WithGaps(10*time.Second, 10*time.Second)},
		WithPreflightTimeout(50*time.Millisecond))

	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateError })

	err := <-errCh
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeConfigTimeout))
	assert.Equal(t, errs.CodeConfigTimeout, r.dest.Status().ErrCode)
}

func TestEnsureReady_TableModeWithoutSink(t *testing.T) {
	s := monoSettings()
	s.Mode = retune.ModeTuningTable
	r := newRigSettings(t, s, nil)

	err := r.dest.EnsureReady(context.Background())
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeNoTuningClients))
	assert.Equal(t, StateError, r.dest.State())
}

func TestHandleNote_BuffersAndReplays(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.dest.HandleNote(noteOn(69, 100)))
	st := r.dest.Status()
	assert.Equal(t, 1, st.BufferedNotes)

	r.advanceUntil(t, func() bool {
		return r.dest.State() == StateReady && r.dest.Engine().ActiveVoices() == 1
	})

	st = r.dest.Status()
	assert.Equal(t, 0, st.BufferedNotes)
	assert.Equal(t, uint64(1), st.ReplayedNotes)
	frames := r.cap.Frames()
	assert.Equal(t, []byte{0x90, 69, 100}, frames[len(frames)-1], "buffered note replayed after preflight")
}

func TestHandleNote_ForwardsDirectlyWhenReady(t *testing.T) {
	r := newRig(t)
	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)

	require.NoError(t, r.dest.HandleNote(noteOn(69, 100)))
	assert.Equal(t, 1, r.dest.Engine().ActiveVoices())
	assert.Equal(t, 0, r.dest.Status().BufferedNotes)
}

func TestHandleNote_DropPolicy(t *testing.T) {
	r := newRig(t, WithNotePolicy(NotePolicyDrop))

	require.NoError(t, r.dest.HandleNote(noteOn(69, 100)))
	st := r.dest.Status()
	assert.Equal(t, 0, st.BufferedNotes)
	assert.Equal(t, uint64(1), st.DroppedNotes)

	// The note still wakes the destination up.
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	assert.Equal(t, 0, r.dest.Engine().ActiveVoices())
}

func TestStatus_RecordsConnectAndPreflightTimes(t *testing.T) {
	r := newRig(t)
	r.dest.conn = r.cap

	st := r.dest.Status()
	assert.True(t, st.LastConnectedAt.IsZero())
	assert.True(t, st.LastPreflightAt.IsZero())

	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)

	st = r.dest.Status()
	assert.False(t, st.LastConnectedAt.IsZero())
	assert.False(t, st.LastPreflightAt.IsZero())
	assert.False(t, st.LastPreflightAt.Before(st.LastConnectedAt))
	assert.True(t, st.Capabilities.SupportsPitchBend, "capability snapshot taken from the transport")
}

func TestHandleNote_BufferMaxAgeExpires(t *testing.T) {
	r := newRig(t, WithBufferMaxAge(time.Second))
	r.cap.ConnectErr = errors.New("no such port")
	r.dest.conn = r.cap

	require.NoError(t, r.dest.HandleNote(noteOn(60, 100)))
	r.advanceUntil(t, func() bool { return r.dest.State() == StateError })
	assert.Equal(t, 1, r.dest.Status().BufferedNotes)

	// Well past the max age, buffering the next note expires the first.
	r.sim.Advance(1500 * time.Millisecond)
	require.NoError(t, r.dest.HandleNote(noteOn(62, 100)))
	st := r.dest.Status()
	assert.Equal(t, 1, st.BufferedNotes)
	assert.Equal(t, uint64(1), st.DroppedNotes)

	// Only the surviving note replays once the port comes back.
	r.cap.ConnectErr = nil
	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)

	st = r.dest.Status()
	assert.Equal(t, uint64(1), st.ReplayedNotes)
	frames := r.cap.Frames()
	assert.Equal(t, []byte{0x90, 62, 100}, frames[len(frames)-1])
}

func TestHandleNote_BufferOverflowDropsOldest(t *testing.T) {
	r := newRig(t, WithBufferMax(2))

	require.NoError(t, r.dest.HandleNote(noteOn(60, 100)))
	require.NoError(t, r.dest.HandleNote(noteOn(62, 100)))
	require.NoError(t, r.dest.HandleNote(noteOn(64, 100)))

	st := r.dest.Status()
	assert.Equal(t, 2, st.BufferedNotes)
	assert.Equal(t, uint64(1), st.DroppedNotes)
}

func TestPanic_DiscardsBuffer(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.dest.HandleNote(noteOn(69, 100)))

	r.dest.Panic()
	st := r.dest.Status()
	assert.Equal(t, 0, st.BufferedNotes)
	assert.Equal(t, uint64(1), st.DroppedNotes)
}

func TestInvalidate_ForcesRepreflight(t *testing.T) {
	r := newRig(t)
	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)
	sent := len(r.cap.Frames())

	r.dest.Invalidate(errors.New("write: broken pipe"))
	assert.Equal(t, StateError, r.dest.State())
	assert.Equal(t, errs.CodeBridgeDisconnected, r.dest.Status().ErrCode)

	errCh = r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)
	assert.Greater(t, len(r.cap.Frames()), sent, "preflight reran")
}

func TestSink_SeesTransitionSequence(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	sink := func(c StateChange) {
		mu.Lock()
		seen = append(seen, c.To)
		mu.Unlock()
	}
	r := newRig(t, WithSink(sink))

	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StatePreflighting, StateReady}, seen)
}
