package retune

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// fingerprintDomain separates this hash from any other use of the same
// digest; the version suffix allows the layout to change later.
const fingerprintDomain = "microtune/destconfig/v1"

// Fingerprint hashes the configuration-relevant parts of the settings
// together with the destination id. An unchanged fingerprint means the
// destination's setup messages do not need to be re-sent.
//
// Only fields that change the wire-level configuration participate:
// mode, pitch-bend range, zone layout, channel selection, and the
// destination identity. Steal and retune policies are engine-local and
// deliberately excluded.
func Fingerprint(destID string, s Settings) string {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0x00})
	fmt.Fprintf(h, "dest=%s|mode=%d|bend=%d|ch=%d|range=%d-%d|zone=%d:%d-%d",
		destID, s.Mode, s.BendRange, s.Channel,
		s.ChannelStart, s.ChannelEnd,
		s.Zone.Manager, s.Zone.MemberStart, s.Zone.MemberEnd)
	return hex.EncodeToString(h.Sum(nil))
}
