package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) [32]byte {
	t.Helper()
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	return key
}

func TestNegotiateSuite(t *testing.T) {
	tests := []struct {
		name    string
		local   CipherSuite
		remote  CipherSuite
		want    CipherSuite
		wantErr bool
	}{
		{
			name:   "both chacha only",
			local:  SuiteChaCha20Poly1305,
			remote: SuiteChaCha20Poly1305,
			want:   SuiteChaCha20Poly1305,
		},
		{
			name:   "chacha preferred over aes when both overlap",
			local:  SuiteChaCha20Poly1305 | SuiteAES256GCM,
			remote: SuiteChaCha20Poly1305 | SuiteAES256GCM,
			want:   SuiteChaCha20Poly1305,
		},
		{
			name:   "aes only overlap",
			local:  SuiteChaCha20Poly1305 | SuiteAES256GCM,
			remote: SuiteAES256GCM,
			want:   SuiteAES256GCM,
		},
		{
			name:    "no overlap",
			local:   SuiteChaCha20Poly1305,
			remote:  SuiteAES256GCM,
			wantErr: true,
		},
		{
			name:    "empty remote mask",
			local:   SuiteChaCha20Poly1305,
			remote:  0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NegotiateSuite(tt.local, tt.remote)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAEADRoundTrip(t *testing.T) {
	for _, suite := range []CipherSuite{SuiteChaCha20Poly1305, SuiteAES256GCM} {
		t.Run(suite.String(), func(t *testing.T) {
			aead, err := suite.NewAEAD(randomKey(t))
			require.NoError(t, err)
			require.Equal(t, NonceSize, aead.NonceSize())

			nonce := MakeNonce(RoleTagInitiator, 0)
			plaintext := []byte("hello ghostlink")

			ciphertext := aead.Seal(nil, nonce[:], plaintext, nil)
			assert.NotEqual(t, plaintext, ciphertext)

			decrypted, err := aead.Open(nil, nonce[:], ciphertext, nil)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)
		})
	}
}

func TestAEADTamperDetection(t *testing.T) {
	aead, err := SuiteChaCha20Poly1305.NewAEAD(randomKey(t))
	require.NoError(t, err)

	nonce := MakeNonce(RoleTagResponder, 7)
	ciphertext := aead.Seal(nil, nonce[:], []byte("payload"), nil)
	ciphertext[0] ^= 0x01

	_, err = aead.Open(nil, nonce[:], ciphertext, nil)
	assert.Error(t, err, "flipped byte must fail authentication")
}

func TestValidateSuite(t *testing.T) {
	assert.NoError(t, ValidateSuite(SuiteChaCha20Poly1305))
	assert.NoError(t, ValidateSuite(SuiteAES256GCM))
	assert.Error(t, ValidateSuite(0))
	assert.Error(t, ValidateSuite(SuiteChaCha20Poly1305|SuiteAES256GCM))
}
