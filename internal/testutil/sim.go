// Package testutil provides the simulated time source package tests run
// on, so queue pacing, ramps, and preflight timeouts execute in virtual
// time with deterministic ordering.
package testutil

import (
	"sort"
	"sync"
	"time"
)

// Sim is a simulated clock and scheduler. It satisfies both
// delivery.Clock and delivery.Scheduler.
//
// Timers fire only inside Advance, in due-time order, with the clock set
// to each timer's due time as it fires. Callbacks scheduled while
// advancing (timer chains) fire in the same Advance when they fall inside
// the window.
type Sim struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	timers []*simTimer
}

type simTimer struct {
	id  int64
	due time.Time
	fn  func()
}

// NewSim creates a simulated clock at the given start time.
func NewSim(start time.Time) *Sim {
	return &Sim{now: start}
}

// Now returns the current simulated time.
func (s *Sim) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// After registers a callback to fire once the clock advances past d.
func (s *Sim) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &simTimer{id: s.nextID, due: s.now.Add(d), fn: fn}
	s.timers = append(s.timers, t)
	id := t.id
	return func() { s.cancel(id) }
}

func (s *Sim) cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.timers {
		if t.id == id {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d, firing every due timer in order.
func (s *Sim) Advance(d time.Duration) {
	s.mu.Lock()
	deadline := s.now.Add(d)
	for {
		t := s.popDueLocked(deadline)
		if t == nil {
			break
		}
		if t.due.After(s.now) {
			s.now = t.due
		}
		s.mu.Unlock()
		t.fn()
		s.mu.Lock()
	}
	s.now = deadline
	s.mu.Unlock()
}

// popDueLocked removes and returns the earliest timer due at or before
// deadline; registration order breaks ties.
func (s *Sim) popDueLocked(deadline time.Time) *simTimer {
	if len(s.timers) == 0 {
		return nil
	}
	sort.SliceStable(s.timers, func(i, j int) bool {
		if !s.timers[i].due.Equal(s.timers[j].due) {
			return s.timers[i].due.Before(s.timers[j].due)
		}
		return s.timers[i].id < s.timers[j].id
	})
	if s.timers[0].due.After(deadline) {
		return nil
	}
	t := s.timers[0]
	s.timers = s.timers[1:]
	return t
}

// Pending returns the number of armed timers.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
