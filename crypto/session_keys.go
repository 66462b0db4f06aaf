package crypto

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this protocol version.
const hkdfInfo = "ghostlink_v1_session"

// SessionKeys holds the directional AEAD keys for one session.
//
// Both peers expand the same 64 bytes of HKDF output and split it by public
// key order: the first 32 bytes are the send key of whichever peer holds the
// lexicographically lower public key. Each side's send key therefore equals
// the other side's receive key.
type SessionKeys struct {
	Send [32]byte
	Recv [32]byte
}

// DeriveSessionKeys derives the directional session keys from an X25519
// exchange.
//
// The salt is the concatenation of the initiator's and responder's handshake
// nonce salts, identical on both sides. localPublic and peerPublic decide
// which half of the key material belongs to which direction.
func DeriveSessionKeys(privateKey [32]byte, localPublic, peerPublic [32]byte, salt []byte) (*SessionKeys, error) {
	sharedSecret, err := DeriveSharedSecret(peerPublic, privateKey)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(sharedSecret[:])

	reader := hkdf.New(sha256.New, sharedSecret[:], salt, []byte(hkdfInfo))
	keyMaterial := make([]byte, 64)
	if _, err := io.ReadFull(reader, keyMaterial); err != nil {
		return nil, fmt.Errorf("HKDF expansion failed: %w", err)
	}
	defer ZeroBytes(keyMaterial)

	keys := &SessionKeys{}
	if bytes.Compare(localPublic[:], peerPublic[:]) < 0 {
		copy(keys.Send[:], keyMaterial[:32])
		copy(keys.Recv[:], keyMaterial[32:])
	} else {
		copy(keys.Send[:], keyMaterial[32:])
		copy(keys.Recv[:], keyMaterial[:32])
	}

	logrus.WithFields(logrus.Fields{
		"function":          "DeriveSessionKeys",
		"local_key_prefix":  fmt.Sprintf("%x", localPublic[:4]),
		"remote_key_prefix": fmt.Sprintf("%x", peerPublic[:4]),
	}).Debug("Session keys derived")

	return keys, nil
}

// Wipe erases both directional keys.
func (sk *SessionKeys) Wipe() {
	if sk == nil {
		return
	}
	ZeroBytes(sk.Send[:])
	ZeroBytes(sk.Recv[:])
}
