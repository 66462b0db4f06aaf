package crypto

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fingerprintPattern = regexp.MustCompile(`^[0-9A-F]{4}( [0-9A-F]{4}){5}$`)

func TestFingerprintSymmetry(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	fromAlice := Fingerprint(alice.Public, bob.Public)
	fromBob := Fingerprint(bob.Public, alice.Public)

	assert.Equal(t, fromAlice, fromBob, "both peers must render the same fingerprint")
}

func TestFingerprintFormat(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	fp := Fingerprint(alice.Public, bob.Public)
	assert.Regexp(t, fingerprintPattern, fp, "six groups of four uppercase hex digits")
}

func TestFingerprintDistinctSessions(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)
	carol, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t,
		Fingerprint(alice.Public, bob.Public),
		Fingerprint(alice.Public, carol.Public),
		"different peers must produce different fingerprints")
}
