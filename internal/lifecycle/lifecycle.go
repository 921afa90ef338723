package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillaudio/microtune/internal/delivery"
	"github.com/quillaudio/microtune/internal/errs"
	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/midiwire"
	"github.com/quillaudio/microtune/internal/retune"
	"github.com/quillaudio/microtune/internal/transport"
)

// State is a destination's position in the readiness machine.
type State uint8

const (
	// StateDisconnected is the initial state; nothing has been sent.
	StateDisconnected State = iota
	// StateConnecting means the transport connection is being opened.
	StateConnecting
	// StatePreflighting means configuration and quiesce traffic is draining.
	StatePreflighting
	// StateReady means the destination accepts notes directly.
	StateReady
	// StateError means the last preflight failed; the next note retries.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePreflighting:
		return "preflighting"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// NotePolicy decides what happens to notes that arrive before ready.
type NotePolicy uint8

const (
	// NotePolicyQueue buffers early notes and replays them on ready.
	NotePolicyQueue NotePolicy = iota
	// NotePolicyDrop discards early notes.
	NotePolicyDrop
)

// StateChange records one transition, delivered to the Sink.
type StateChange struct {
	Dest string
	From State
	To   State
	At   time.Time
	Err  error // non-nil only for transitions into StateError
}

// Sink receives state transitions. Called outside the destination lock;
// must not call back into the Destination.
type Sink func(StateChange)

// Status is a point-in-time snapshot of a destination.
type Status struct {
	ID              string
	State           State
	Fingerprint     string
	ErrCode         errs.Code
	ErrMessage      string
	BufferedNotes   int
	DroppedNotes    uint64
	ReplayedNotes   uint64
	LastChange      time.Time
	LastConnectedAt time.Time
	LastPreflightAt time.Time
	Capabilities    transport.Capabilities
}

// Defaults for destination tuning.
const (
	DefaultBufferMax        = 128
	DefaultPreflightTimeout = 5 * time.Second
)

// Destination wraps a retuning engine with connection state, preflight
// and early-note buffering.
type Destination struct {
	id     string
	engine *retune.Engine
	tr     transport.Transport // nil leaves the capability snapshot empty
	conn   transport.Connector // nil means always connected
	queue  *delivery.Queue
	clock  delivery.Clock
	sched  delivery.Scheduler
	log    *zap.Logger

	policy       NotePolicy
	bufferMax    int
	bufferMaxAge time.Duration // 0 means no age limit
	timeout      time.Duration
	sink         Sink

	mu              sync.Mutex
	state           State
	lastErr         error
	lastChange      time.Time
	lastConnectedAt time.Time
	lastPreflightAt time.Time
	caps            transport.Capabilities
	readyFP         string
	buffer          []bufferedNote
	dropped         uint64
	replayed        uint64
	inflight        chan struct{} // closed when the running preflight finishes
	inflightErr     error
}

// bufferedNote is one early note awaiting replay, stamped on arrival so
// the buffer max age can expire it.
type bufferedNote struct {
	ev event.Note
	at time.Time
}

// Option configures a Destination.
type Option func(*Destination)

// WithTransport lets the status report the transport's capabilities.
func WithTransport(t transport.Transport) Option {
	return func(d *Destination) { d.tr = t }
}

// WithConnector attaches an explicit connection lifecycle.
func WithConnector(c transport.Connector) Option {
	return func(d *Destination) { d.conn = c }
}

// WithNotePolicy selects buffering or dropping for early notes.
func WithNotePolicy(p NotePolicy) Option {
	return func(d *Destination) { d.policy = p }
}

// WithBufferMax caps the early-note buffer.
func WithBufferMax(n int) Option {
	return func(d *Destination) { d.bufferMax = n }
}

// WithBufferMaxAge expires buffered notes older than age; expired notes
// count as dropped. Zero means buffered notes never expire.
func WithBufferMaxAge(age time.Duration) Option {
	return func(d *Destination) { d.bufferMaxAge = age }
}

// WithPreflightTimeout bounds the preflight drain.
func WithPreflightTimeout(t time.Duration) Option {
	return func(d *Destination) { d.timeout = t }
}

// WithSink attaches a state-change sink.
func WithSink(s Sink) Option {
	return func(d *Destination) { d.sink = s }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Destination) { d.log = log }
}

// NewDestination wraps engine. queue must be the same queue the engine
// delivers through, so the preflight drain covers configuration traffic.
func NewDestination(id string, engine *retune.Engine, queue *delivery.Queue, clock delivery.Clock, sched delivery.Scheduler, opts ...Option) *Destination {
	d := &Destination{
		id:        id,
		engine:    engine,
		queue:     queue,
		clock:     clock,
		sched:     sched,
		log:       zap.NewNop(),
		bufferMax: DefaultBufferMax,
		timeout:   DefaultPreflightTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(zap.String("dest", id))
	d.lastChange = clock.Now()
	return d
}

// ID returns the destination id.
func (d *Destination) ID() string { return d.id }

// Engine exposes the wrapped engine for settings and mapping updates.
func (d *Destination) Engine() *retune.Engine { return d.engine }

// Status returns a snapshot.
func (d *Destination) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		ID:              d.id,
		State:           d.state,
		Fingerprint:     d.readyFP,
		BufferedNotes:   len(d.buffer),
		DroppedNotes:    d.dropped,
		ReplayedNotes:   d.replayed,
		LastChange:      d.lastChange,
		LastConnectedAt: d.lastConnectedAt,
		LastPreflightAt: d.lastPreflightAt,
		Capabilities:    d.caps,
	}
	if d.lastErr != nil {
		st.ErrCode = errs.CodeOf(d.lastErr)
		st.ErrMessage = d.lastErr.Error()
	}
	return st
}

// State returns the current state.
func (d *Destination) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// EnsureReady brings the destination to StateReady, running preflight if
// the configuration fingerprint changed since the last successful run.
// Concurrent callers coalesce onto a single preflight; ctx cancels the
// wait, not the shared preflight itself.
func (d *Destination) EnsureReady(ctx context.Context) error {
	for {
		d.mu.Lock()
		if d.state == StateReady && d.readyFP == d.engine.ConfigFingerprint() {
			d.mu.Unlock()
			return nil
		}
		if ch := d.inflight; ch != nil {
			d.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			d.mu.Lock()
			err := d.inflightErr
			d.mu.Unlock()
			if err != nil {
				return err
			}
			// Re-check: the finished preflight may already be stale.
			continue
		}
		ch := make(chan struct{})
		d.inflight = ch
		d.mu.Unlock()

		err := d.preflight(ctx)

		d.mu.Lock()
		d.inflightErr = err
		d.inflight = nil
		d.mu.Unlock()
		close(ch)
		return err
	}
}

// HandleNote forwards a note when ready, otherwise applies the early-note
// policy and kicks off a background preflight.
func (d *Destination) HandleNote(ev event.Note) error {
	d.mu.Lock()
	if d.state == StateReady && d.readyFP == d.engine.ConfigFingerprint() {
		d.mu.Unlock()
		return d.forward(ev)
	}
	if d.policy == NotePolicyDrop {
		d.dropped++
		d.mu.Unlock()
		d.kickPreflight()
		return nil
	}
	now := d.clock.Now()
	d.pruneBufferLocked(now)
	if len(d.buffer) >= d.bufferMax {
		d.buffer = d.buffer[1:]
		d.dropped++
	}
	d.buffer = append(d.buffer, bufferedNote{ev: ev, at: now})
	d.mu.Unlock()
	d.kickPreflight()
	return nil
}

// Panic silences the destination and discards buffered notes.
func (d *Destination) Panic() {
	d.mu.Lock()
	n := len(d.buffer)
	d.buffer = nil
	d.dropped += uint64(n)
	d.mu.Unlock()
	d.engine.Panic()
}

// Invalidate forces the next note or EnsureReady to rerun preflight.
// Used when a send failure suggests the transport went away.
func (d *Destination) Invalidate(err error) {
	if err == nil {
		err = errs.New(errs.CodeBridgeDisconnected, "transport invalidated")
	}
	d.mu.Lock()
	if d.state == StateError {
		d.mu.Unlock()
		return
	}
	change := d.transitionLocked(StateError, errs.Wrap(errs.CodeBridgeDisconnected, d.id, err))
	d.mu.Unlock()
	d.emit(change)
}

func (d *Destination) kickPreflight() {
	go func() {
		if err := d.EnsureReady(context.Background()); err != nil {
			d.log.Warn("preflight failed", zap.Error(err))
		}
	}()
}

func (d *Destination) forward(ev event.Note) error {
	switch ev.Kind {
	case event.KindNoteOn:
		return d.engine.NoteOn(ev.SourceID, ev.Channel, ev.Key, ev.Velocity)
	case event.KindNoteOff:
		return d.engine.NoteOff(ev.Channel, ev.Key, ev.Velocity)
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// transitionLocked records a state change and returns it for delivery.
// The caller must emit the change after releasing the lock so the sink
// never runs inside it.
func (d *Destination) transitionLocked(to State, err error) StateChange {
	from := d.state
	d.state = to
	d.lastErr = err
	d.lastChange = d.clock.Now()
	d.log.Debug("state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Error(err))
	return StateChange{Dest: d.id, From: from, To: to, At: d.lastChange, Err: err}
}

func (d *Destination) emit(change StateChange) {
	if d.sink != nil {
		d.sink(change)
	}
}

func (d *Destination) setState(to State, err error) {
	d.mu.Lock()
	change := d.transitionLocked(to, err)
	d.mu.Unlock()
	d.emit(change)
}

// preflight runs the full readiness sequence. It is only entered by the
// single EnsureReady caller holding the inflight slot.
func (d *Destination) preflight(ctx context.Context) error {
	d.setState(StateConnecting, nil)
	if d.conn != nil && !d.conn.IsConnected() {
		if err := d.conn.Connect(); err != nil {
			werr := errs.Wrap(errs.CodeBridgeDisconnected, d.id, err)
			d.setState(StateError, werr)
			return werr
		}
	}
	d.mu.Lock()
	d.lastConnectedAt = d.clock.Now()
	if d.tr != nil {
		d.caps = d.tr.Capabilities()
	}
	d.mu.Unlock()

	d.setState(StatePreflighting, nil)
	if err := d.engine.EnsureConfigured(); err != nil {
		werr := errs.Wrap(errs.CodeUnknown, d.id, err)
		d.setState(StateError, werr)
		return werr
	}
	d.quiesce()

	if err := d.drain(ctx); err != nil {
		werr := errs.Wrap(errs.CodeConfigTimeout, d.id,
			fmt.Errorf("preflight drain: %w", err))
		d.setState(StateError, werr)
		return werr
	}

	d.becomeReady()
	return nil
}

// quiesce centers bend and clears stuck notes and controllers on every
// output channel. Bulk priority keeps it behind the configuration
// traffic already queued, in enqueue order.
func (d *Destination) quiesce() {
	for _, ch := range d.engine.Settings().OutputChannels() {
		wire := ch - 1
		for _, b := range [][]byte{
			midiwire.PitchBend(wire, midiwire.BendCenter),
			midiwire.AllNotesOff(wire),
			midiwire.ResetAllControllers(wire),
		} {
			_ = d.queue.Enqueue(b, delivery.Bulk, nil)
		}
	}
}

// drain waits for the delivery queue to empty, bounded by the preflight
// timeout on the injected scheduler.
func (d *Destination) drain(ctx context.Context) error {
	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := d.sched.After(d.timeout, cancel)
	defer stop()
	return d.queue.Flush(fctx)
}

// becomeReady publishes the ready state and the fingerprint it covers,
// then replays buffered notes in arrival order. Notes past the buffer
// max age are expired rather than replayed.
func (d *Destination) becomeReady() {
	d.mu.Lock()
	d.readyFP = d.engine.ConfigFingerprint()
	d.lastPreflightAt = d.clock.Now()
	d.pruneBufferLocked(d.lastPreflightAt)
	pending := d.buffer
	d.buffer = nil
	d.replayed += uint64(len(pending))
	change := d.transitionLocked(StateReady, nil)
	d.mu.Unlock()
	d.emit(change)

	for _, n := range pending {
		if err := d.forward(n.ev); err != nil {
			d.log.Warn("replay failed", zap.Error(err))
		}
	}
}

// pruneBufferLocked expires buffered notes older than the max age,
// counting them dropped. The buffer is in arrival order, so expired
// notes form a prefix.
func (d *Destination) pruneBufferLocked(now time.Time) {
	if d.bufferMaxAge <= 0 {
		return
	}
	cutoff := now.Add(-d.bufferMaxAge)
	i := 0
	for i < len(d.buffer) && d.buffer[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.buffer = d.buffer[i:]
		d.dropped += uint64(i)
	}
}
