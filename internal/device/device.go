// Package device resolves MIDI port names to ports. Matching is
// case-folded and falls back to substring search, so "iac" finds
// "IAC Driver Bus 1" but an ambiguous fragment is rejected rather than
// silently picking a port.
package device

import (
	"fmt"
	"strings"

	midi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"golang.org/x/text/cases"
)

// Fold normalizes a port name for comparison.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Match finds the index of the port name matching query: an exact
// case-folded match wins, otherwise a unique case-folded substring
// match. Ambiguity and absence are distinct errors.
func Match(names []string, query string) (int, error) {
	q := Fold(query)
	if q == "" {
		return -1, fmt.Errorf("empty port name")
	}
	for i, n := range names {
		if Fold(n) == q {
			return i, nil
		}
	}
	var hits []int
	for i, n := range names {
		if strings.Contains(Fold(n), q) {
			hits = append(hits, i)
		}
	}
	switch len(hits) {
	case 1:
		return hits[0], nil
	case 0:
		return -1, fmt.Errorf("no MIDI port matching %q (available: %s)", query, strings.Join(names, ", "))
	default:
		matched := make([]string, len(hits))
		for i, h := range hits {
			matched[i] = names[h]
		}
		return -1, fmt.Errorf("port name %q is ambiguous: %s", query, strings.Join(matched, ", "))
	}
}

// Registry enumerates the system's MIDI ports.
type Registry struct{}

// OutNames lists output port names in driver order.
func (Registry) OutNames() []string {
	ports := midi.GetOutPorts()
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return names
}

// InNames lists input port names in driver order.
func (Registry) InNames() []string {
	ports := midi.GetInPorts()
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return names
}

// FindOut resolves an output port by name.
func (r Registry) FindOut(name string) (drivers.Out, error) {
	ports := midi.GetOutPorts()
	idx, err := Match(r.OutNames(), name)
	if err != nil {
		return nil, err
	}
	return ports[idx], nil
}

// FindIn resolves an input port by name.
func (r Registry) FindIn(name string) (drivers.In, error) {
	ports := midi.GetInPorts()
	idx, err := Match(r.InNames(), name)
	if err != nil {
		return nil, err
	}
	return ports[idx], nil
}
