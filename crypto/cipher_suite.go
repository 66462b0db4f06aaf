package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherSuite identifies an AEAD algorithm negotiated during the handshake.
// Suites are advertised as a bitmask in the Hello frame.
type CipherSuite uint8

const (
	// SuiteChaCha20Poly1305 is the default suite.
	SuiteChaCha20Poly1305 CipherSuite = 1 << 0
	// SuiteAES256GCM is offered when configured and used only if both peers
	// advertise it.
	SuiteAES256GCM CipherSuite = 1 << 1
)

// preferenceOrder lists suites from most to least preferred when negotiating.
var preferenceOrder = []CipherSuite{SuiteChaCha20Poly1305, SuiteAES256GCM}

// String returns the canonical suite name.
func (s CipherSuite) String() string {
	switch s {
	case SuiteChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	case SuiteAES256GCM:
		return "AES-256-GCM"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(s))
	}
}

// NewAEAD constructs the AEAD cipher for this suite from a 32-byte key.
func (s CipherSuite) NewAEAD(key [32]byte) (cipher.AEAD, error) {
	switch s {
	case SuiteChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key[:])
		if err != nil {
			return nil, fmt.Errorf("chacha20poly1305 init failed: %w", err)
		}
		return aead, nil

	case SuiteAES256GCM:
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return nil, fmt.Errorf("aes init failed: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("gcm init failed: %w", err)
		}
		return aead, nil

	default:
		return nil, fmt.Errorf("unsupported cipher suite 0x%02x", uint8(s))
	}
}

// NegotiateSuite picks the best suite present in both bitmasks, preferring
// ChaCha20-Poly1305. It fails when the masks do not overlap.
func NegotiateSuite(local, remote CipherSuite) (CipherSuite, error) {
	for _, suite := range preferenceOrder {
		if local&suite != 0 && remote&suite != 0 {
			return suite, nil
		}
	}
	return 0, fmt.Errorf("no compatible cipher suite (local 0x%02x, remote 0x%02x)", uint8(local), uint8(remote))
}

// ValidateSuite checks that exactly one known suite is set.
func ValidateSuite(s CipherSuite) error {
	switch s {
	case SuiteChaCha20Poly1305, SuiteAES256GCM:
		return nil
	default:
		return fmt.Errorf("unsupported cipher suite 0x%02x", uint8(s))
	}
}
