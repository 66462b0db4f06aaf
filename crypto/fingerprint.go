package crypto

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"
)

// fingerprintLabel domain-separates the fingerprint hash from key derivation.
const fingerprintLabel = "ghostlink_fingerprint"

// Fingerprint computes the short authentication string for a session.
//
// The hash covers the lexicographically sorted pair of ephemeral public keys,
// so both peers render the identical string and can compare it out of band to
// rule out a man in the middle. Format: six groups of four uppercase hex
// digits, e.g. "AB12 CD34 EF56 0789 ABCD EF01".
func Fingerprint(localPublic, peerPublic [32]byte) string {
	first, second := localPublic, peerPublic
	if bytes.Compare(second[:], first[:]) < 0 {
		first, second = second, first
	}

	hasher := sha256.New()
	hasher.Write([]byte(fingerprintLabel))
	hasher.Write(first[:])
	hasher.Write(second[:])
	digest := hasher.Sum(nil)

	groups := make([]string, 6)
	for i := 0; i < 6; i++ {
		groups[i] = fmt.Sprintf("%02X%02X", digest[2*i], digest[2*i+1])
	}
	return strings.Join(groups, " ")
}
