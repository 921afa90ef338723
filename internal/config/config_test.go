package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillaudio/microtune/internal/loopback"
	"github.com/quillaudio/microtune/internal/retune"
	"github.com/quillaudio/microtune/internal/route"
)

const fullConfig = `
reference_hz: 442
loopback:
  mode: strict
  window_ms: 50
destinations:
  - id: synth
    transport: port
    port_name: "IAC Driver Bus 1"
    mode: multichannel
    channel_start: 2
    channel_end: 9
    bend_range: 2
    steal: quietest
    retune: ramp
    ramp_steps: 4
    ramp_duration_ms: 40
    note_policy: drop
    preflight_timeout_ms: 1000
    buffer_max_age_ms: 500
  - id: mpe-synth
    transport: port
    port_name: "Surge"
    mode: mpe
    zone: {manager: 1, member_start: 2, member_end: 8}
routes:
  - id: main
    priority: 1
    sources: [keyboard]
    channel_mode: range
    channel_start: 1
    channel_end: 4
    key_low: 21
    key_high: 108
    destinations: [synth, mpe-synth]
    fan_out: true
    bend_range_override: 12
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse("test.yaml", []byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, 442.0, cfg.ReferenceHz)

	mode, window, err := cfg.GuardSettings()
	require.NoError(t, err)
	assert.Equal(t, loopback.ModeStrict, mode)
	assert.Equal(t, 50*time.Millisecond, window)

	require.Len(t, cfg.Destinations, 2)
	s, err := cfg.Destinations[0].Settings(cfg.ReferenceHz)
	require.NoError(t, err)
	assert.Equal(t, retune.ModeMulti, s.Mode)
	assert.Equal(t, uint8(2), s.ChannelStart)
	assert.Equal(t, uint8(9), s.ChannelEnd)
	assert.Equal(t, uint8(2), s.BendRange)
	assert.Equal(t, retune.StealQuietest, s.Steal)
	assert.Equal(t, retune.RetuneRamp, s.Retune)
	assert.Equal(t, 4, s.RampSteps)
	assert.Equal(t, 40*time.Millisecond, s.RampDuration)
	assert.Equal(t, 442.0, s.ReferenceHz)
	assert.Equal(t, 1000, cfg.Destinations[0].PreflightTimeoutMs)
	assert.Equal(t, 500, cfg.Destinations[0].BufferMaxAgeMs)

	mpe, err := cfg.Destinations[1].Settings(cfg.ReferenceHz)
	require.NoError(t, err)
	assert.Equal(t, retune.ModeMPE, mpe.Mode)
	assert.Equal(t, retune.Zone{Manager: 1, MemberStart: 2, MemberEnd: 8}, mpe.Zone)
	assert.Equal(t, uint8(48), mpe.BendRange, "schema default applies")

	routes, err := cfg.BuildRoutes()
	require.NoError(t, err)
	require.Len(t, routes, 1)
	rt := routes[0]
	assert.True(t, rt.Enabled, "enabled defaults true")
	assert.Equal(t, 1, rt.Priority)
	assert.Equal(t, route.ChannelRange, rt.Filter.ChannelMode)
	require.NotNil(t, rt.Filter.Keys)
	assert.Equal(t, uint8(21), rt.Filter.Keys.Low)
	assert.True(t, rt.FanOut)
	require.NotNil(t, rt.BendRangeOverride)
	assert.Equal(t, uint8(12), *rt.BendRangeOverride)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse("test.yaml", []byte(`
destinations:
  - id: synth
    port_name: "Out"
    mode: single-channel
    channel: 1
routes:
  - id: main
    destinations: [synth]
`))
	require.NoError(t, err)
	assert.Equal(t, 440.0, cfg.ReferenceHz)

	mode, window, err := cfg.GuardSettings()
	require.NoError(t, err)
	assert.Equal(t, loopback.ModeNormal, mode)
	assert.Equal(t, 30*time.Millisecond, window)

	opts, err := cfg.Destinations[0].LifecycleOptions()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
}

func TestParse_RejectsBadChannel(t *testing.T) {
	_, err := Parse("test.yaml", []byte(`
destinations:
  - id: synth
    port_name: "Out"
    mode: single-channel
    channel: 17
routes: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestParse_RejectsBadModeString(t *testing.T) {
	_, err := Parse("test.yaml", []byte(`
destinations:
  - id: synth
    port_name: "Out"
    mode: polyphonic-ish
routes: []
`))
	require.Error(t, err)
}

func TestParse_RejectsNegativePriority(t *testing.T) {
	_, err := Parse("test.yaml", []byte(`
destinations:
  - id: synth
    port_name: "Out"
    mode: single-channel
    channel: 1
routes:
  - id: main
    priority: -1
    destinations: [synth]
`))
	require.Error(t, err)
}

func TestParse_RejectsUnknownDestinationReference(t *testing.T) {
	_, err := Parse("test.yaml", []byte(`
destinations:
  - id: synth
    port_name: "Out"
    mode: single-channel
    channel: 1
routes:
  - id: main
    destinations: [ghost]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared destination")
}

func TestParse_RejectsPortWithoutName(t *testing.T) {
	_, err := Parse("test.yaml", []byte(`
destinations:
  - id: synth
    mode: single-channel
    channel: 1
routes: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port_name")
}

func TestParse_RejectsDuplicateDestinationIDs(t *testing.T) {
	_, err := Parse("test.yaml", []byte(`
destinations:
  - id: synth
    port_name: "A"
    mode: single-channel
    channel: 1
  - id: synth
    port_name: "B"
    mode: single-channel
    channel: 2
routes: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate destination")
}

func TestParse_RejectsMalformedYAML(t *testing.T) {
	_, err := Parse("test.yaml", []byte("destinations: ["))
	require.Error(t, err)
}
