// Package route matches input events to destinations. Routes are
// evaluated in ascending priority; filters narrow by source, input
// channel, and key range; and per-route overrides let one destination
// be driven differently by different routes.
package route

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/midiwire"
	"github.com/quillaudio/microtune/internal/retune"
)

// ChannelMode selects how a filter constrains the input channel.
type ChannelMode uint8

const (
	// ChannelAll matches any channel.
	ChannelAll ChannelMode = iota
	// ChannelRange matches ChannelStart..ChannelEnd inclusive.
	ChannelRange
	// ChannelList matches an explicit channel list.
	ChannelList
)

// KeyRange bounds matching keys, inclusive.
type KeyRange struct {
	Low  uint8
	High uint8
}

// Filter narrows which events a route matches. Zero-value fields match
// everything for their dimension.
type Filter struct {
	// Sources restricts matching to these source ids; empty matches all.
	Sources []string

	ChannelMode  ChannelMode
	ChannelStart uint8
	ChannelEnd   uint8
	Channels     []uint8

	// Keys, when non-nil, restricts matching keys.
	Keys *KeyRange
}

// Route sends matching events to one or more destinations.
type Route struct {
	ID       string
	Enabled  bool
	Priority int
	Filter   Filter

	// Destinations are destination ids, all driven when the route is used.
	Destinations []string

	// FanOut on any matched route makes Resolve use every matched route
	// instead of only the highest-priority one.
	FanOut bool

	// ModeOverride and BendRangeOverride, when non-nil, override the
	// destination's configured values for events carried by this route.
	ModeOverride      *retune.Mode
	BendRangeOverride *uint8
}

// Validate rejects malformed routes before they are installed.
func (r Route) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("route has no id")
	}
	if len(r.Destinations) == 0 {
		return fmt.Errorf("route %s has no destinations", r.ID)
	}
	f := r.Filter
	switch f.ChannelMode {
	case ChannelAll:
	case ChannelRange:
		if err := midiwire.ValidateChannel(int(f.ChannelStart)); err != nil {
			return fmt.Errorf("route %s channel range start: %w", r.ID, err)
		}
		if err := midiwire.ValidateChannel(int(f.ChannelEnd)); err != nil {
			return fmt.Errorf("route %s channel range end: %w", r.ID, err)
		}
		if f.ChannelStart > f.ChannelEnd {
			return fmt.Errorf("route %s channel range %d..%d is empty", r.ID, f.ChannelStart, f.ChannelEnd)
		}
	case ChannelList:
		if len(f.Channels) == 0 {
			return fmt.Errorf("route %s channel list is empty", r.ID)
		}
		for _, ch := range f.Channels {
			if err := midiwire.ValidateChannel(int(ch)); err != nil {
				return fmt.Errorf("route %s channel list: %w", r.ID, err)
			}
		}
	default:
		return fmt.Errorf("route %s has unknown channel mode %d", r.ID, f.ChannelMode)
	}
	if f.Keys != nil && f.Keys.Low > f.Keys.High {
		return fmt.Errorf("route %s key range %d..%d is empty", r.ID, f.Keys.Low, f.Keys.High)
	}
	if r.BendRangeOverride != nil {
		if v := *r.BendRangeOverride; v == 0 || v > 96 {
			return fmt.Errorf("route %s bend-range override %d out of range 1..96", r.ID, v)
		}
	}
	return nil
}

// Matches reports whether the filter accepts the event.
func (f Filter) Matches(ev event.Note) bool {
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if s == ev.SourceID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	switch f.ChannelMode {
	case ChannelRange:
		if ev.Channel < f.ChannelStart || ev.Channel > f.ChannelEnd {
			return false
		}
	case ChannelList:
		found := false
		for _, ch := range f.Channels {
			if ch == ev.Channel {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Keys != nil && (ev.Key < f.Keys.Low || ev.Key > f.Keys.High) {
		return false
	}
	return true
}

// Binding is one resolved delivery target: a destination id plus the
// overrides of the route that selected it.
type Binding struct {
	RouteID           string
	DestID            string
	ModeOverride      *retune.Mode
	BendRangeOverride *uint8
}

// Router holds the installed route table.
type Router struct {
	mu     sync.RWMutex
	routes []Route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// SetRoutes validates and installs a full route table, replacing the
// previous one. Routes are kept sorted by ascending priority; equal
// priorities keep their given order.
func (r *Router) SetRoutes(routes []Route) error {
	for _, rt := range routes {
		if err := rt.Validate(); err != nil {
			return err
		}
	}
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	r.mu.Lock()
	r.routes = sorted
	r.mu.Unlock()
	return nil
}

// Routes returns a copy of the installed table in priority order.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Resolve returns the bindings an event should be delivered to, in
// priority order. An event matching no enabled route resolves to nil
// and is dropped by the caller. When every matched route has fan-out
// off, only the highest-priority match is used; one matched route with
// fan-out on pulls in all of them. A used route yields its full
// destination list, each destination appearing at most once with the
// highest-priority route claiming it.
func (r *Router) Resolve(ev event.Note) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Route
	fanOut := false
	for _, rt := range r.routes {
		if !rt.Enabled || !rt.Filter.Matches(ev) {
			continue
		}
		matched = append(matched, rt)
		if rt.FanOut {
			fanOut = true
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if !fanOut {
		matched = matched[:1]
	}

	var out []Binding
	claimed := make(map[string]bool)
	for _, rt := range matched {
		for _, id := range rt.Destinations {
			if claimed[id] {
				continue
			}
			claimed[id] = true
			out = append(out, Binding{
				RouteID:           rt.ID,
				DestID:            id,
				ModeOverride:      rt.ModeOverride,
				BendRangeOverride: rt.BendRangeOverride,
			})
		}
	}
	return out
}
