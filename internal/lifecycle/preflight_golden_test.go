package lifecycle

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/quillaudio/microtune/internal/retune"
)

// formatFrames renders one wire frame per line as hex bytes.
func formatFrames(frames [][]byte) []byte {
	var b strings.Builder
	for _, f := range frames {
		for i, by := range f {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%02X", by)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func preflightFrames(t *testing.T, s retune.Settings) [][]byte {
	t.Helper()
	r := newRigSettings(t, s, nil)
	errCh := r.ensureReadyAsync()
	r.advanceUntil(t, func() bool { return r.dest.State() == StateReady })
	require.NoError(t, <-errCh)
	return r.cap.Frames()
}

func TestPreflight_Golden_Multichannel(t *testing.T) {
	s := retune.DefaultSettings()
	s.ChannelStart, s.ChannelEnd = 2, 3
	g := goldie.New(t)
	g.Assert(t, "preflight_multichannel", formatFrames(preflightFrames(t, s)))
}

func TestPreflight_Golden_MPE(t *testing.T) {
	s := retune.DefaultSettings()
	s.Mode = retune.ModeMPE
	s.Zone = retune.Zone{Manager: 1, MemberStart: 2, MemberEnd: 3}
	g := goldie.New(t)
	g.Assert(t, "preflight_mpe", formatFrames(preflightFrames(t, s)))
}
