package voice

import (
	"sort"
	"time"
)

// ID identifies one voice for its lifetime. Ids are never reused.
type ID int64

// Voice is one active sounding instance, bound to the input event that
// created it and the output key/channel it occupies.
type Voice struct {
	ID            ID
	InputKey      uint8
	InputChannel  uint8
	OutputKey     uint8
	OutputChannel uint8 // 1..16
	TargetHz      float64
	Bend          uint16
	Velocity      uint8
	CreatedSeq    int64
	CreatedAt     time.Time
	SourceID      string
	DestID        string
}

// noteKey identifies an input (key, channel) pair for the note stack.
type noteKey struct {
	key uint8
	ch  uint8
}

// channelState tracks one output channel's occupancy and bend.
type channelState struct {
	active      map[ID]struct{}
	bend        uint16
	lastUsedSeq int64
}

// AllocateParams carries the inputs for a new voice.
type AllocateParams struct {
	InputKey      uint8
	InputChannel  uint8
	OutputKey     uint8
	OutputChannel uint8 // 1..16
	TargetHz      float64
	Bend          uint16
	Velocity      uint8
	SourceID      string
	DestID        string
}

// Allocator owns all voice and channel state for one destination.
// It is not safe for concurrent use; the engine serializes access.
type Allocator struct {
	clock    *Clock
	now      func() time.Time
	voices   map[ID]*Voice
	stack    map[noteKey][]ID
	channels [17]channelState // indexed 1..16, slot 0 unused
}

// NewAllocator creates an empty allocator. now may be nil, in which case
// wall time stamps use time.Now.
func NewAllocator(now func() time.Time) *Allocator {
	if now == nil {
		now = time.Now
	}
	a := &Allocator{
		clock:  NewClock(),
		now:    now,
		voices: make(map[ID]*Voice),
		stack:  make(map[noteKey][]ID),
	}
	for ch := 1; ch <= 16; ch++ {
		a.channels[ch] = channelState{
			active: make(map[ID]struct{}),
			bend:   centerBend,
		}
	}
	return a
}

const centerBend uint16 = 8192

// Allocate creates a new voice and marks its output channel used.
func (a *Allocator) Allocate(p AllocateParams) *Voice {
	seq := a.clock.Next()
	v := &Voice{
		ID:            ID(seq),
		InputKey:      p.InputKey,
		InputChannel:  p.InputChannel,
		OutputKey:     p.OutputKey,
		OutputChannel: p.OutputChannel,
		TargetHz:      p.TargetHz,
		Bend:          p.Bend,
		Velocity:      p.Velocity,
		CreatedSeq:    seq,
		CreatedAt:     a.now(),
		SourceID:      p.SourceID,
		DestID:        p.DestID,
	}
	a.voices[v.ID] = v

	k := noteKey{key: p.InputKey, ch: p.InputChannel}
	a.stack[k] = append(a.stack[k], v.ID)

	ch := &a.channels[v.OutputChannel]
	ch.active[v.ID] = struct{}{}
	ch.lastUsedSeq = seq
	return v
}

// Release pops the most recently allocated voice for the input (key,
// channel) pair. A missing pair is not an error: it returns (nil, false)
// and alters no state. The second return reports whether the released
// voice's output channel is now empty, so the caller can recenter pitch
// bend.
func (a *Allocator) Release(inputKey, inputChannel uint8) (*Voice, bool) {
	k := noteKey{key: inputKey, ch: inputChannel}
	ids := a.stack[k]
	if len(ids) == 0 {
		return nil, false
	}
	id := ids[len(ids)-1]
	return a.ReleaseByID(id)
}

// ReleaseByID removes a specific voice. Returns (nil, false) for unknown
// ids.
func (a *Allocator) ReleaseByID(id ID) (*Voice, bool) {
	v, ok := a.voices[id]
	if !ok {
		return nil, false
	}
	delete(a.voices, id)

	k := noteKey{key: v.InputKey, ch: v.InputChannel}
	ids := a.stack[k]
	for i := len(ids) - 1; i >= 0; i-- {
		if ids[i] == id {
			a.stack[k] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(a.stack[k]) == 0 {
		delete(a.stack, k)
	}

	ch := &a.channels[v.OutputChannel]
	delete(ch.active, id)
	return v, len(ch.active) == 0
}

// StealOldest releases and returns the voice with the earliest creation,
// so the caller can emit its note-off before reusing the channel.
func (a *Allocator) StealOldest() (*Voice, bool) {
	return a.stealOldestWhere(func(*Voice) bool { return true })
}

// StealOldestInChannel steals the oldest voice on one output channel.
func (a *Allocator) StealOldestInChannel(ch uint8) (*Voice, bool) {
	return a.stealOldestWhere(func(v *Voice) bool { return v.OutputChannel == ch })
}

// StealOldestInRange steals the oldest voice within an inclusive output
// channel range.
func (a *Allocator) StealOldestInRange(start, end uint8) (*Voice, bool) {
	return a.stealOldestWhere(func(v *Voice) bool {
		return v.OutputChannel >= start && v.OutputChannel <= end
	})
}

func (a *Allocator) stealOldestWhere(match func(*Voice) bool) (*Voice, bool) {
	var victim *Voice
	for _, v := range a.voices {
		if !match(v) {
			continue
		}
		if victim == nil || v.CreatedSeq < victim.CreatedSeq {
			victim = v
		}
	}
	if victim == nil {
		return nil, false
	}
	released, _ := a.ReleaseByID(victim.ID)
	return released, true
}

// StealQuietest releases and returns the lowest-velocity voice; age breaks
// velocity ties.
func (a *Allocator) StealQuietest() (*Voice, bool) {
	var victim *Voice
	for _, v := range a.voices {
		switch {
		case victim == nil:
			victim = v
		case v.Velocity < victim.Velocity:
			victim = v
		case v.Velocity == victim.Velocity && v.CreatedSeq < victim.CreatedSeq:
			victim = v
		}
	}
	if victim == nil {
		return nil, false
	}
	released, _ := a.ReleaseByID(victim.ID)
	return released, true
}

// StealQuietestInRange is StealQuietest restricted to a channel range.
func (a *Allocator) StealQuietestInRange(start, end uint8) (*Voice, bool) {
	var victim *Voice
	for _, v := range a.voices {
		if v.OutputChannel < start || v.OutputChannel > end {
			continue
		}
		switch {
		case victim == nil:
			victim = v
		case v.Velocity < victim.Velocity:
			victim = v
		case v.Velocity == victim.Velocity && v.CreatedSeq < victim.CreatedSeq:
			victim = v
		}
	}
	if victim == nil {
		return nil, false
	}
	released, _ := a.ReleaseByID(victim.ID)
	return released, true
}

// FindFreeChannel returns the lowest channel in [start, end] with no
// active voices, or false if every channel in the range is occupied.
func (a *Allocator) FindFreeChannel(start, end uint8) (uint8, bool) {
	for ch := start; ch >= 1 && ch <= end && ch <= 16; ch++ {
		if len(a.channels[ch].active) == 0 {
			return ch, true
		}
	}
	return 0, false
}

// FindLeastUsedChannel returns the channel in [start, end] with the
// fewest active voices; the lower channel wins ties.
func (a *Allocator) FindLeastUsedChannel(start, end uint8) uint8 {
	best := start
	for ch := start; ch >= 1 && ch <= end && ch <= 16; ch++ {
		if len(a.channels[ch].active) < len(a.channels[best].active) {
			best = ch
		}
	}
	return best
}

// FindOldestUsedChannel returns the occupied channel in [start, end] whose
// last use is oldest, or false when no channel in the range is occupied.
func (a *Allocator) FindOldestUsedChannel(start, end uint8) (uint8, bool) {
	var best uint8
	found := false
	for ch := start; ch >= 1 && ch <= end && ch <= 16; ch++ {
		st := &a.channels[ch]
		if len(st.active) == 0 {
			continue
		}
		if !found || st.lastUsedSeq < a.channels[best].lastUsedSeq {
			best = ch
			found = true
		}
	}
	return best, found
}

// ChannelBend returns the current pitch-bend value of a channel.
func (a *Allocator) ChannelBend(ch uint8) uint16 {
	return a.channels[ch].bend
}

// SetChannelBend records the bend value last sent on a channel.
func (a *Allocator) SetChannelBend(ch uint8, bend uint16) {
	a.channels[ch].bend = bend
}

// ChannelEmpty reports whether a channel has no active voices.
func (a *Allocator) ChannelEmpty(ch uint8) bool {
	return len(a.channels[ch].active) == 0
}

// ActiveCount returns the number of active voices.
func (a *Allocator) ActiveCount() int {
	return len(a.voices)
}

// Voices returns all active voices ordered oldest first.
func (a *Allocator) Voices() []*Voice {
	out := make([]*Voice, 0, len(a.voices))
	for _, v := range a.voices {
		out = append(out, v)
	}
	sortVoices(out)
	return out
}

// VoicesOnChannel returns the active voices of one channel, oldest first.
func (a *Allocator) VoicesOnChannel(ch uint8) []*Voice {
	var out []*Voice
	for _, v := range a.voices {
		if v.OutputChannel == ch {
			out = append(out, v)
		}
	}
	sortVoices(out)
	return out
}

func sortVoices(vs []*Voice) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].CreatedSeq < vs[j].CreatedSeq })
}

// Clear releases every voice and recenters all channel bends. The
// released voices are returned oldest first so the caller can emit their
// note-offs.
func (a *Allocator) Clear() []*Voice {
	out := a.Voices()
	a.voices = make(map[ID]*Voice)
	a.stack = make(map[noteKey][]ID)
	for ch := 1; ch <= 16; ch++ {
		a.channels[ch].active = make(map[ID]struct{})
		a.channels[ch].bend = centerBend
		a.channels[ch].lastUsedSeq = 0
	}
	return out
}
