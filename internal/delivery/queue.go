package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Priority classifies an outbound message.
type Priority uint8

const (
	// Realtime messages bypass the queue and are sent synchronously.
	Realtime Priority = iota
	// Normal messages queue with a small minimum gap.
	Normal
	// Bulk messages queue with a larger gap, for configuration payloads.
	Bulk
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case Realtime:
		return "realtime"
	case Normal:
		return "normal"
	case Bulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// Defaults for queue tuning.
const (
	DefaultNormalGap = 5 * time.Millisecond
	DefaultBulkGap   = 20 * time.Millisecond
	DefaultMaxSize   = 256
)

var (
	// ErrEvicted completes a message dropped under backpressure.
	ErrEvicted = errors.New("delivery: evicted under backpressure")
	// ErrCleared completes a message dropped by Clear (panic path).
	ErrCleared = errors.New("delivery: queue cleared")
)

// SendFunc delivers raw protocol bytes to the transport.
type SendFunc func(b []byte) error

// message is one queued entry.
type message struct {
	id         int64
	bytes      []byte
	priority   Priority
	enqueuedAt time.Time
	done       func(error)
}

// Queue is the priority delivery queue for one destination.
//
// All state is guarded by mu; timer callbacks re-enter through pump.
type Queue struct {
	mu     sync.Mutex
	clock  Clock
	sched  Scheduler
	send   SendFunc
	log    *zap.Logger
	items  []*message
	nextID int64

	maxSize   int
	normalGap time.Duration
	bulkGap   time.Duration

	lastSend    time.Time
	cancelTimer func()
	waiters     []chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxSize caps the number of queued messages.
func WithMaxSize(n int) Option {
	return func(q *Queue) { q.maxSize = n }
}

// WithGaps overrides the per-class minimum inter-message gaps.
func WithGaps(normal, bulk time.Duration) Option {
	return func(q *Queue) { q.normalGap, q.bulkGap = normal, bulk }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// NewQueue creates a queue that delivers through send.
func NewQueue(clock Clock, sched Scheduler, send SendFunc, opts ...Option) *Queue {
	q := &Queue{
		clock:     clock,
		sched:     sched,
		send:      send,
		log:       zap.NewNop(),
		maxSize:   DefaultMaxSize,
		normalGap: DefaultNormalGap,
		bulkGap:   DefaultBulkGap,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) gap(p Priority) time.Duration {
	switch p {
	case Normal:
		return q.normalGap
	case Bulk:
		return q.bulkGap
	default:
		return 0
	}
}

// Enqueue submits a message. Realtime messages are sent synchronously and
// never buffered; their error (if any) is reported through done and the
// return value. Queued messages always return nil here and report through
// done on delivery. done may be nil.
func (q *Queue) Enqueue(b []byte, p Priority, done func(error)) error {
	if p == Realtime {
		err := q.send(b)
		if err != nil {
			q.log.Warn("realtime send failed", zap.Error(err))
		}
		if done != nil {
			done(err)
		}
		return err
	}

	q.mu.Lock()
	if len(q.items) >= q.maxSize {
		q.evictLocked()
	}
	q.nextID++
	m := &message{
		id:         q.nextID,
		bytes:      b,
		priority:   p,
		enqueuedAt: q.clock.Now(),
		done:       done,
	}
	idx := sort.Search(len(q.items), func(i int) bool { return less(m, q.items[i]) })
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = m
	q.scheduleLocked()
	q.mu.Unlock()
	return nil
}

// less orders by (priority, enqueue time, id).
func less(a, b *message) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if !a.enqueuedAt.Equal(b.enqueuedAt) {
		return a.enqueuedAt.Before(b.enqueuedAt)
	}
	return a.id < b.id
}

// evictLocked drops the oldest Bulk entry if any exist, otherwise the
// oldest entry regardless of class. FIFO within the evicted class.
func (q *Queue) evictLocked() {
	victim := -1
	for i, m := range q.items {
		if m.priority == Bulk {
			if victim < 0 || less(q.items[i], q.items[victim]) {
				victim = i
			}
		}
	}
	if victim < 0 {
		oldest := 0
		for i := 1; i < len(q.items); i++ {
			m := q.items[i]
			o := q.items[oldest]
			if m.enqueuedAt.Before(o.enqueuedAt) || (m.enqueuedAt.Equal(o.enqueuedAt) && m.id < o.id) {
				oldest = i
			}
		}
		victim = oldest
	}
	m := q.items[victim]
	q.items = append(q.items[:victim], q.items[victim+1:]...)
	q.log.Debug("queue overflow, evicting",
		zap.Int64("id", m.id),
		zap.String("priority", m.priority.String()))
	if m.done != nil {
		m.done(ErrEvicted)
	}
}

// scheduleLocked arms the timer for exactly the head message's remaining
// gap. Already-armed timers are replaced so a higher-priority arrival can
// shorten the wait.
func (q *Queue) scheduleLocked() {
	if len(q.items) == 0 {
		return
	}
	if q.cancelTimer != nil {
		q.cancelTimer()
		q.cancelTimer = nil
	}
	wait := q.lastSend.Add(q.gap(q.items[0].priority)).Sub(q.clock.Now())
	if wait < 0 {
		wait = 0
	}
	q.cancelTimer = q.sched.After(wait, q.pump)
}

// pump sends every due message, then re-arms for the next one.
func (q *Queue) pump() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelTimer = nil

	for len(q.items) > 0 {
		m := q.items[0]
		now := q.clock.Now()
		if due := q.lastSend.Add(q.gap(m.priority)); now.Before(due) {
			q.scheduleLocked()
			return
		}
		q.items = q.items[1:]
		err := q.send(m.bytes)
		q.lastSend = now
		if err != nil {
			q.log.Warn("queued send failed",
				zap.Int64("id", m.id),
				zap.String("priority", m.priority.String()),
				zap.Error(err))
		}
		if m.done != nil {
			m.done(err)
		}
	}
	q.notifyDrainedLocked()
}

func (q *Queue) notifyDrainedLocked() {
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}

// Flush waits until every queued message has been delivered, with the
// per-class gaps honored between sends. Preflight relies on this to
// guarantee configuration completed before a destination is marked ready.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	q.waiters = append(q.waiters, w)
	q.scheduleLocked()
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w:
		return nil
	}
}

// Clear drops every queued message, completing callbacks with ErrCleared.
// Used by the panic path; reset traffic goes out-of-band as Realtime.
func (q *Queue) Clear() {
	q.mu.Lock()
	if q.cancelTimer != nil {
		q.cancelTimer()
		q.cancelTimer = nil
	}
	dropped := q.items
	q.items = nil
	q.notifyDrainedLocked()
	q.mu.Unlock()

	for _, m := range dropped {
		if m.done != nil {
			m.done(ErrCleared)
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
