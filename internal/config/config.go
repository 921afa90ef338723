// Package config loads the YAML configuration file. The raw document is
// unified with an embedded CUE schema before decoding, so structural and
// range errors fail fast with file positions; semantic checks (route
// references, per-mode channel requirements) run on the decoded values.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"

	"github.com/quillaudio/microtune/internal/lifecycle"
	"github.com/quillaudio/microtune/internal/loopback"
	"github.com/quillaudio/microtune/internal/retune"
	"github.com/quillaudio/microtune/internal/route"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded configuration file.
type Config struct {
	ReferenceHz  float64             `json:"reference_hz" yaml:"reference_hz"`
	Loopback     LoopbackConfig      `json:"loopback" yaml:"loopback"`
	Destinations []DestinationConfig `json:"destinations" yaml:"destinations"`
	Routes       []RouteConfig       `json:"routes" yaml:"routes"`
}

// LoopbackConfig configures the echo guard.
type LoopbackConfig struct {
	Mode     string `json:"mode" yaml:"mode"`
	WindowMs int    `json:"window_ms" yaml:"window_ms"`
}

// ZoneConfig configures an MPE zone.
type ZoneConfig struct {
	Manager     uint8 `json:"manager" yaml:"manager"`
	MemberStart uint8 `json:"member_start" yaml:"member_start"`
	MemberEnd   uint8 `json:"member_end" yaml:"member_end"`
}

// DestinationConfig declares one output destination.
type DestinationConfig struct {
	ID                 string      `json:"id" yaml:"id"`
	Transport          string      `json:"transport" yaml:"transport"`
	PortName           string      `json:"port_name" yaml:"port_name"`
	Mode               string      `json:"mode" yaml:"mode"`
	Channel            uint8       `json:"channel" yaml:"channel"`
	ChannelStart       uint8       `json:"channel_start" yaml:"channel_start"`
	ChannelEnd         uint8       `json:"channel_end" yaml:"channel_end"`
	BendRange          uint8       `json:"bend_range" yaml:"bend_range"`
	Zone               *ZoneConfig `json:"zone" yaml:"zone"`
	Steal              string      `json:"steal" yaml:"steal"`
	Mono               string      `json:"mono" yaml:"mono"`
	Retune             string      `json:"retune" yaml:"retune"`
	RampSteps          int         `json:"ramp_steps" yaml:"ramp_steps"`
	RampDurationMs     int         `json:"ramp_duration_ms" yaml:"ramp_duration_ms"`
	NotePolicy         string      `json:"note_policy" yaml:"note_policy"`
	PreflightTimeoutMs int         `json:"preflight_timeout_ms" yaml:"preflight_timeout_ms"`
	BufferMaxAgeMs     int         `json:"buffer_max_age_ms" yaml:"buffer_max_age_ms"`
}

// RouteConfig declares one route table entry.
type RouteConfig struct {
	ID                string   `json:"id" yaml:"id"`
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	Priority          int      `json:"priority" yaml:"priority"`
	Sources           []string `json:"sources" yaml:"sources"`
	ChannelMode       string   `json:"channel_mode" yaml:"channel_mode"`
	ChannelStart      uint8    `json:"channel_start" yaml:"channel_start"`
	ChannelEnd        uint8    `json:"channel_end" yaml:"channel_end"`
	Channels          []uint8  `json:"channels" yaml:"channels"`
	KeyLow            *uint8   `json:"key_low" yaml:"key_low"`
	KeyHigh           *uint8   `json:"key_high" yaml:"key_high"`
	Destinations      []string `json:"destinations" yaml:"destinations"`
	FanOut            bool     `json:"fan_out" yaml:"fan_out"`
	ModeOverride      string   `json:"mode_override" yaml:"mode_override"`
	BendRangeOverride *uint8   `json:"bend_range_override" yaml:"bend_range_override"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates raw YAML against the schema and decodes it. filename
// is used in error positions only.
func Parse(filename string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return nil, fmt.Errorf("schema has no #Config definition")
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("build config: %s", cueerrors.Details(err, nil))
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, fmt.Errorf("invalid config:\n%s", cueerrors.Details(err, nil))
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs the semantic checks the schema cannot express.
func (c *Config) Validate() error {
	if _, _, err := c.GuardSettings(); err != nil {
		return err
	}
	ids := make(map[string]bool, len(c.Destinations))
	for _, d := range c.Destinations {
		if ids[d.ID] {
			return fmt.Errorf("duplicate destination id %q", d.ID)
		}
		ids[d.ID] = true
		if _, err := d.Settings(c.ReferenceHz); err != nil {
			return fmt.Errorf("destination %s: %w", d.ID, err)
		}
		if d.Transport == "port" && d.PortName == "" {
			return fmt.Errorf("destination %s: port transport needs port_name", d.ID)
		}
	}
	routeIDs := make(map[string]bool, len(c.Routes))
	for _, r := range c.Routes {
		if routeIDs[r.ID] {
			return fmt.Errorf("duplicate route id %q", r.ID)
		}
		routeIDs[r.ID] = true
		rt, err := r.Route()
		if err != nil {
			return err
		}
		if err := rt.Validate(); err != nil {
			return err
		}
		for _, dest := range r.Destinations {
			if !ids[dest] {
				return fmt.Errorf("route %s references undeclared destination %q", r.ID, dest)
			}
		}
	}
	return nil
}

// GuardSettings converts the loopback section.
func (c *Config) GuardSettings() (loopback.Mode, time.Duration, error) {
	var mode loopback.Mode
	switch c.Loopback.Mode {
	case "off":
		mode = loopback.ModeOff
	case "", "normal":
		mode = loopback.ModeNormal
	case "strict":
		mode = loopback.ModeStrict
	default:
		return 0, 0, fmt.Errorf("unknown loopback mode %q", c.Loopback.Mode)
	}
	window := time.Duration(c.Loopback.WindowMs) * time.Millisecond
	return mode, window, nil
}

// Settings converts a destination declaration to engine settings.
func (d DestinationConfig) Settings(referenceHz float64) (retune.Settings, error) {
	s := retune.DefaultSettings()
	mode, err := retune.ParseMode(d.Mode)
	if err != nil {
		return s, err
	}
	s.Mode = mode
	s.ReferenceHz = referenceHz
	if d.Channel != 0 {
		s.Channel = d.Channel
	}
	if d.ChannelStart != 0 {
		s.ChannelStart = d.ChannelStart
	}
	if d.ChannelEnd != 0 {
		s.ChannelEnd = d.ChannelEnd
	}
	if d.BendRange != 0 {
		s.BendRange = d.BendRange
	}
	if d.Zone != nil {
		s.Zone = retune.Zone{
			Manager:     d.Zone.Manager,
			MemberStart: d.Zone.MemberStart,
			MemberEnd:   d.Zone.MemberEnd,
		}
	}
	switch d.Steal {
	case "", "oldest":
		s.Steal = retune.StealOldest
	case "quietest":
		s.Steal = retune.StealQuietest
	default:
		return s, fmt.Errorf("unknown steal policy %q", d.Steal)
	}
	switch d.Mono {
	case "", "steal":
		s.Mono = retune.MonoSteal
	case "legato":
		s.Mono = retune.MonoLegato
	default:
		return s, fmt.Errorf("unknown mono behavior %q", d.Mono)
	}
	switch d.Retune {
	case "", "new-notes-only":
		s.Retune = retune.RetuneNewNotesOnly
	case "immediate":
		s.Retune = retune.RetuneImmediate
	case "ramp":
		s.Retune = retune.RetuneRamp
	default:
		return s, fmt.Errorf("unknown retune policy %q", d.Retune)
	}
	if d.RampSteps != 0 {
		s.RampSteps = d.RampSteps
	}
	if d.RampDurationMs != 0 {
		s.RampDuration = time.Duration(d.RampDurationMs) * time.Millisecond
	}
	return s, s.Validate()
}

// LifecycleOptions converts per-destination lifecycle tuning.
func (d DestinationConfig) LifecycleOptions() ([]lifecycle.Option, error) {
	var opts []lifecycle.Option
	switch d.NotePolicy {
	case "", "queue":
		opts = append(opts, lifecycle.WithNotePolicy(lifecycle.NotePolicyQueue))
	case "drop":
		opts = append(opts, lifecycle.WithNotePolicy(lifecycle.NotePolicyDrop))
	default:
		return nil, fmt.Errorf("unknown note policy %q", d.NotePolicy)
	}
	if d.PreflightTimeoutMs != 0 {
		opts = append(opts, lifecycle.WithPreflightTimeout(time.Duration(d.PreflightTimeoutMs)*time.Millisecond))
	}
	if d.BufferMaxAgeMs != 0 {
		opts = append(opts, lifecycle.WithBufferMaxAge(time.Duration(d.BufferMaxAgeMs)*time.Millisecond))
	}
	return opts, nil
}

// Route converts a route declaration.
func (r RouteConfig) Route() (route.Route, error) {
	rt := route.Route{
		ID:           r.ID,
		Enabled:      r.Enabled,
		Priority:     r.Priority,
		Destinations: r.Destinations,
		FanOut:       r.FanOut,
	}
	rt.Filter.Sources = r.Sources
	switch r.ChannelMode {
	case "", "all":
		rt.Filter.ChannelMode = route.ChannelAll
	case "range":
		rt.Filter.ChannelMode = route.ChannelRange
		rt.Filter.ChannelStart = r.ChannelStart
		rt.Filter.ChannelEnd = r.ChannelEnd
	case "list":
		rt.Filter.ChannelMode = route.ChannelList
		rt.Filter.Channels = r.Channels
	default:
		return rt, fmt.Errorf("route %s: unknown channel mode %q", r.ID, r.ChannelMode)
	}
	if r.KeyLow != nil || r.KeyHigh != nil {
		keys := route.KeyRange{Low: 0, High: 127}
		if r.KeyLow != nil {
			keys.Low = *r.KeyLow
		}
		if r.KeyHigh != nil {
			keys.High = *r.KeyHigh
		}
		rt.Filter.Keys = &keys
	}
	if r.ModeOverride != "" {
		mode, err := retune.ParseMode(r.ModeOverride)
		if err != nil {
			return rt, fmt.Errorf("route %s: %w", r.ID, err)
		}
		rt.ModeOverride = &mode
	}
	rt.BendRangeOverride = r.BendRangeOverride
	return rt, nil
}

// BuildRoutes converts every declared route; the router sorts them on
// install.
func (c *Config) BuildRoutes() ([]route.Route, error) {
	out := make([]route.Route, 0, len(c.Routes))
	for _, r := range c.Routes {
		rt, err := r.Route()
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}
