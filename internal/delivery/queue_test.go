package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillaudio/microtune/internal/testutil"
)

type capture struct {
	frames []sentFrame
}

type sentFrame struct {
	bytes []byte
	at    time.Time
}

func newCapture() *capture { return &capture{} }

func (c *capture) sendFn(sim *testutil.Sim) SendFunc {
	return func(b []byte) error {
		c.frames = append(c.frames, sentFrame{bytes: b, at: sim.Now()})
		return nil
	}
}

func (c *capture) bytes() [][]byte {
	out := make([][]byte, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.bytes
	}
	return out
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRealtime_BypassesQueue(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := newCapture()
	q := NewQueue(sim, sim, c.sendFn(sim))

	require.NoError(t, q.Enqueue([]byte{0x90, 60, 100}, Realtime, nil))

	// Sent synchronously, without any clock advance.
	require.Len(t, c.frames, 1)
	assert.Equal(t, 0, q.Len())
}

func TestQueued_OrderedByPriorityThenEnqueue(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := newCapture()
	q := NewQueue(sim, sim, c.sendFn(sim))

	q.Enqueue([]byte{1}, Bulk, nil)
	q.Enqueue([]byte{2}, Normal, nil)
	q.Enqueue([]byte{3}, Bulk, nil)
	q.Enqueue([]byte{4}, Normal, nil)

	sim.Advance(time.Second)

	assert.Equal(t, [][]byte{{2}, {4}, {1}, {3}}, c.bytes())
	assert.Equal(t, 0, q.Len())
}

func TestQueued_GapsHonored(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := newCapture()
	q := NewQueue(sim, sim, c.sendFn(sim))

	q.Enqueue([]byte{1}, Normal, nil)
	q.Enqueue([]byte{2}, Normal, nil)
	q.Enqueue([]byte{3}, Bulk, nil)

	sim.Advance(time.Second)

	require.Len(t, c.frames, 3)
	// First message goes immediately; second after the 5ms normal gap;
	// the bulk message 20ms after that.
	assert.Equal(t, t0, c.frames[0].at)
	assert.Equal(t, t0.Add(5*time.Millisecond), c.frames[1].at)
	assert.Equal(t, t0.Add(25*time.Millisecond), c.frames[2].at)
}

func TestBulkBurst_DoesNotThrottleLaterNormal(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := newCapture()
	q := NewQueue(sim, sim, c.sendFn(sim))

	q.Enqueue([]byte{10}, Bulk, nil)
	q.Enqueue([]byte{11}, Bulk, nil)

	// First bulk goes out immediately.
	sim.Advance(0)
	require.Len(t, c.frames, 1)

	// A normal message arriving now jumps the remaining bulk and waits
	// only its own 5ms gap, not the 20ms bulk gap.
	q.Enqueue([]byte{20}, Normal, nil)
	sim.Advance(5 * time.Millisecond)

	require.Len(t, c.frames, 2)
	assert.Equal(t, []byte{20}, c.frames[1].bytes)
	assert.Equal(t, t0.Add(5*time.Millisecond), c.frames[1].at)
}

func TestOverflow_EvictsOldestBulkFirst(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := newCapture()
	q := NewQueue(sim, sim, c.sendFn(sim), WithMaxSize(3))

	var evicted []error
	done := func(err error) {
		if err != nil {
			evicted = append(evicted, err)
		}
	}

	q.Enqueue([]byte{1}, Normal, done)
	q.Enqueue([]byte{2}, Bulk, done)
	q.Enqueue([]byte{3}, Bulk, done)
	q.Enqueue([]byte{4}, Normal, done) // overflow: oldest bulk {2} evicted

	require.Len(t, evicted, 1)
	assert.ErrorIs(t, evicted[0], ErrEvicted)

	sim.Advance(time.Second)
	assert.Equal(t, [][]byte{{1}, {4}, {3}}, c.bytes())
}

func TestOverflow_FallsBackToOldestAnyClass(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := newCapture()
	q := NewQueue(sim, sim, c.sendFn(sim), WithMaxSize(2))

	var first error
	q.Enqueue([]byte{1}, Normal, func(err error) { first = err })
	q.Enqueue([]byte{2}, Normal, nil)
	q.Enqueue([]byte{3}, Normal, nil)

	assert.ErrorIs(t, first, ErrEvicted)

	sim.Advance(time.Second)
	assert.Equal(t, [][]byte{{2}, {3}}, c.bytes())
}

func TestFlush_DrainsInOrder(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := newCapture()
	q := NewQueue(sim, sim, c.sendFn(sim))

	q.Enqueue([]byte{1}, Bulk, nil)
	q.Enqueue([]byte{2}, Normal, nil)

	flushed := make(chan error, 1)
	go func() { flushed <- q.Flush(context.Background()) }()

	// Flush must not complete while messages remain.
	select {
	case <-flushed:
		t.Fatal("flush returned before drain")
	case <-time.After(10 * time.Millisecond):
	}

	sim.Advance(time.Second)

	select {
	case err := <-flushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("flush did not return after drain")
	}
	assert.Equal(t, [][]byte{{2}, {1}}, c.bytes())
}

func TestFlush_EmptyQueueReturnsImmediately(t *testing.T) {
	sim := testutil.NewSim(t0)
	q := NewQueue(sim, sim, newCapture().sendFn(sim))
	require.NoError(t, q.Flush(context.Background()))
}

func TestFlush_ContextCancel(t *testing.T) {
	sim := testutil.NewSim(t0)
	q := NewQueue(sim, sim, newCapture().sendFn(sim))
	q.Enqueue([]byte{1}, Bulk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Flush(ctx), context.Canceled)
}

func TestClear_CompletesCallbacks(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := newCapture()
	q := NewQueue(sim, sim, c.sendFn(sim))

	var got error
	q.Enqueue([]byte{1}, Bulk, func(err error) { got = err })
	q.Clear()

	assert.ErrorIs(t, got, ErrCleared)
	assert.Equal(t, 0, q.Len())

	sim.Advance(time.Second)
	assert.Empty(t, c.frames, "cleared messages never send")
}

func TestSendFailure_DoesNotStopDrain(t *testing.T) {
	sim := testutil.NewSim(t0)
	sent := [][]byte{}
	send := func(b []byte) error {
		sent = append(sent, b)
		if b[0] == 1 {
			return assert.AnError
		}
		return nil
	}
	q := NewQueue(sim, sim, send)

	var errs []error
	q.Enqueue([]byte{1}, Normal, func(err error) { errs = append(errs, err) })
	q.Enqueue([]byte{2}, Normal, func(err error) { errs = append(errs, err) })

	sim.Advance(time.Second)

	require.Len(t, sent, 2, "second message still delivered")
	require.Len(t, errs, 2)
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
}
