// Package crypto implements the cryptographic primitives for GhostLink.
//
// This package handles ephemeral X25519 key agreement, HKDF session-key
// derivation, AEAD suite selection, nonce discipline with replay rejection,
// and the short-authentication-string fingerprint shown to users.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/curve25519"
)

// KeyPair represents an ephemeral X25519 key pair. A fresh pair is generated
// per session and wiped when the session ends; nothing is ever persisted.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var private [32]byte
	if _, err := rand.Read(private[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		ZeroBytes(private[:])
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	keyPair := &KeyPair{Private: private}
	copy(keyPair.Public[:], public)
	ZeroBytes(private[:])

	return keyPair, nil
}

// DeriveSharedSecret computes the X25519 shared secret between the local
// private key and the peer's public key.
func DeriveSharedSecret(peerPublicKey, privateKey [32]byte) ([32]byte, error) {
	if isZeroKey(peerPublicKey) {
		return [32]byte{}, errors.New("invalid peer public key: all zeros")
	}

	sharedSecret, err := curve25519.X25519(privateKey[:], peerPublicKey[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	var result [32]byte
	copy(result[:], sharedSecret)
	ZeroBytes(sharedSecret)

	return result, nil
}

// SecureWipe overwrites the contents of a byte slice holding sensitive data.
// It returns an error if the slice is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)
	runtime.KeepAlive(data)

	return nil
}

// ZeroBytes erases a byte slice holding sensitive data, ignoring errors.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// Wipe erases the private half of the key pair. Call when the session ends.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	ZeroBytes(kp.Private[:])
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
