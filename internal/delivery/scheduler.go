package delivery

import "time"

// Clock supplies the current time. The core never calls time.Now
// directly so tests can run on a simulated clock.
type Clock interface {
	Now() time.Time
}

// Scheduler defers a callback. The returned cancel function stops the
// callback from firing; cancelling an already-fired timer is a no-op.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

// systemClock reads wall time.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-time clock.
func SystemClock() Clock { return systemClock{} }

// systemScheduler defers through the runtime timer heap.
type systemScheduler struct{}

func (systemScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// SystemScheduler returns the wall-time scheduler.
func SystemScheduler() Scheduler { return systemScheduler{} }
