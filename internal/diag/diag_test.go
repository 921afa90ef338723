package diag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/lifecycle"
	"github.com/quillaudio/microtune/internal/testutil"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func inputNote(key uint8) event.Note {
	return event.Note{SourceID: "kb", Kind: event.KindNoteOn, Channel: 1, Key: key, Velocity: 100}
}

func TestCollector_SessionToken(t *testing.T) {
	sim := testutil.NewSim(t0)
	a := NewCollector(sim, sim)
	b := NewCollector(sim, sim)
	assert.NotEmpty(t, a.SessionID())
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}

func TestCollector_CountersAndRecent(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := NewCollector(sim, sim)

	c.RecordInput(inputNote(60))
	c.RecordOutput("d1", 2, 61, event.KindNoteOn, 100)
	c.RecordLoopbackHit()

	snap := c.Snapshot()
	assert.Equal(t, uint64(1), snap.Inputs)
	assert.Equal(t, uint64(1), snap.Outputs)
	assert.Equal(t, uint64(1), snap.LoopbackHits)
	require.Len(t, snap.Recent, 2)
	assert.Equal(t, DirIn, snap.Recent[0].Direction)
	assert.Equal(t, "kb", snap.Recent[0].SourceID)
	assert.Equal(t, DirOut, snap.Recent[1].Direction)
	assert.Equal(t, "d1", snap.Recent[1].DestID)
}

func TestCollector_EventRingBounded(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := NewCollector(sim, sim, WithRings(4, 2))

	for key := uint8(0); key < 10; key++ {
		c.RecordInput(inputNote(key))
	}
	snap := c.Snapshot()
	require.Len(t, snap.Recent, 4)
	assert.Equal(t, uint8(6), snap.Recent[0].Key, "oldest entries evicted")
	assert.Equal(t, uint8(9), snap.Recent[3].Key)
	assert.Equal(t, uint64(10), snap.Inputs, "counter unaffected by ring size")
}

func TestCollector_DebouncedSnapshots(t *testing.T) {
	sim := testutil.NewSim(t0)
	var published []Snapshot
	c := NewCollector(sim, sim, WithSnapshotSink(func(s Snapshot) {
		published = append(published, s)
	}))

	// A burst of records arms exactly one emit.
	c.RecordInput(inputNote(60))
	c.RecordInput(inputNote(62))
	c.RecordInput(inputNote(64))
	assert.Empty(t, published)

	sim.Advance(DefaultDebounce)
	require.Len(t, published, 1)
	assert.Equal(t, uint64(3), published[0].Inputs)

	// Quiet period: nothing more fires.
	sim.Advance(time.Second)
	assert.Len(t, published, 1)

	// The next record re-arms.
	c.RecordInput(inputNote(65))
	sim.Advance(DefaultDebounce)
	require.Len(t, published, 2)
	assert.Equal(t, uint64(4), published[1].Inputs)
}

func TestCollector_StateSink(t *testing.T) {
	sim := testutil.NewSim(t0)
	c := NewCollector(sim, sim, WithRings(8, 2))
	sink := c.StateSink()

	sink(lifecycle.StateChange{Dest: "d1", From: lifecycle.StateDisconnected, To: lifecycle.StateConnecting, At: t0})
	sink(lifecycle.StateChange{Dest: "d1", From: lifecycle.StateConnecting, To: lifecycle.StatePreflighting, At: t0})
	sink(lifecycle.StateChange{Dest: "d1", From: lifecycle.StatePreflighting, To: lifecycle.StateReady, At: t0})

	snap := c.Snapshot()
	require.Len(t, snap.Transitions, 2, "transition ring bounded")
	assert.Equal(t, lifecycle.StateReady, snap.Transitions[1].To)
}

type fakeStatuses struct{ sts []lifecycle.Status }

func (f *fakeStatuses) Statuses() []lifecycle.Status { return f.sts }

func TestCollector_SnapshotIncludesStatuses(t *testing.T) {
	sim := testutil.NewSim(t0)
	src := &fakeStatuses{sts: []lifecycle.Status{{ID: "d1", State: lifecycle.StateReady}}}
	c := NewCollector(sim, sim, WithStatusSource(src))

	snap := c.Snapshot()
	require.Len(t, snap.Statuses, 1)
	assert.Equal(t, "d1", snap.Statuses[0].ID)
}
