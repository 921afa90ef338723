// Package dispatch is the input front door: every incoming note event
// passes the loopback guard, resolves through the route table, and is
// handed to each bound destination with that route's overrides applied.
package dispatch

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/lifecycle"
	"github.com/quillaudio/microtune/internal/loopback"
	"github.com/quillaudio/microtune/internal/retune"
	"github.com/quillaudio/microtune/internal/route"
)

// Dispatcher owns the guard, the router, and the destination registry.
type Dispatcher struct {
	gmu   sync.Mutex // serializes the loopback guard
	guard *loopback.Guard

	router *route.Router
	log    *zap.Logger

	mu       sync.RWMutex
	dests    map[string]*lifecycle.Destination
	noRoute  uint64
	notFound uint64
}

// NewDispatcher creates a dispatcher. log may be nil.
func NewDispatcher(guard *loopback.Guard, router *route.Router, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		guard:  guard,
		router: router,
		log:    log,
		dests:  make(map[string]*lifecycle.Destination),
	}
}

// Register adds a destination, replacing any destination with the same id.
func (d *Dispatcher) Register(dest *lifecycle.Destination) {
	d.mu.Lock()
	d.dests[dest.ID()] = dest
	d.mu.Unlock()
}

// Unregister removes a destination.
func (d *Dispatcher) Unregister(id string) {
	d.mu.Lock()
	delete(d.dests, id)
	d.mu.Unlock()
}

// Destination looks up a registered destination.
func (d *Dispatcher) Destination(id string) (*lifecycle.Destination, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dest, ok := d.dests[id]
	return dest, ok
}

// OutputHook returns the observer engines must be constructed with, so
// emitted notes feed the guard's output log.
func (d *Dispatcher) OutputHook() retune.OutputHook {
	return func(ch, key uint8, kind event.Kind, velocity uint8) {
		d.gmu.Lock()
		d.guard.RecordOutput(ch, key, kind, velocity)
		d.gmu.Unlock()
	}
}

// HandleInput routes one input event. Loopback echoes and events with no
// matching route are dropped; per-destination failures are logged and do
// not block delivery to the other bindings.
func (d *Dispatcher) HandleInput(ev event.Note) {
	d.gmu.Lock()
	drop := d.guard.ShouldDropInput(ev)
	d.gmu.Unlock()
	if drop {
		d.log.Debug("loopback echo dropped",
			zap.Uint8("channel", ev.Channel),
			zap.Uint8("key", ev.Key))
		return
	}

	bindings := d.router.Resolve(ev)
	if len(bindings) == 0 {
		d.mu.Lock()
		d.noRoute++
		d.mu.Unlock()
		d.log.Debug("no route for event",
			zap.String("source", ev.SourceID),
			zap.Uint8("channel", ev.Channel),
			zap.Uint8("key", ev.Key))
		return
	}

	for _, b := range bindings {
		dest, ok := d.Destination(b.DestID)
		if !ok {
			d.mu.Lock()
			d.notFound++
			d.mu.Unlock()
			d.log.Warn("route references unknown destination",
				zap.String("route", b.RouteID),
				zap.String("dest", b.DestID))
			continue
		}
		if b.ModeOverride != nil || b.BendRangeOverride != nil {
			if err := dest.Engine().ApplyOverrides(b.ModeOverride, b.BendRangeOverride); err != nil {
				d.log.Warn("route override rejected",
					zap.String("route", b.RouteID),
					zap.String("dest", b.DestID),
					zap.Error(err))
				continue
			}
		}
		if err := dest.HandleNote(ev); err != nil {
			d.log.Warn("note delivery failed",
				zap.String("dest", b.DestID),
				zap.Error(err))
		}
	}
}

// PanicAll silences every registered destination.
func (d *Dispatcher) PanicAll() {
	d.mu.RLock()
	dests := make([]*lifecycle.Destination, 0, len(d.dests))
	for _, dest := range d.dests {
		dests = append(dests, dest)
	}
	d.mu.RUnlock()
	for _, dest := range dests {
		dest.Panic()
	}
}

// Statuses snapshots every destination, sorted by id.
func (d *Dispatcher) Statuses() []lifecycle.Status {
	d.mu.RLock()
	out := make([]lifecycle.Status, 0, len(d.dests))
	for _, dest := range d.dests {
		out = append(out, dest.Status())
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoopbackHits returns how many inputs the guard has dropped.
func (d *Dispatcher) LoopbackHits() uint64 {
	d.gmu.Lock()
	defer d.gmu.Unlock()
	return d.guard.Hits()
}

// NoRouteDrops returns how many events matched no enabled route.
func (d *Dispatcher) NoRouteDrops() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.noRoute
}

// UnknownDestDrops returns how many bindings referenced an unregistered
// destination.
func (d *Dispatcher) UnknownDestDrops() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.notFound
}
