package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// NonceSize is the AEAD nonce length shared by both supported suites.
const NonceSize = 12

// Role tags occupy the first four bytes of every nonce, tying each direction
// of the session to a distinct nonce space. A frame reflected back at its
// sender lands in the wrong direction and is rejected as a replay.
const (
	RoleTagInitiator uint32 = 0x00000001
	RoleTagResponder uint32 = 0x00000002
)

// ErrNonceExhausted is returned when the 64-bit send counter would wrap.
var ErrNonceExhausted = errors.New("nonce counter exhausted")

// ErrReplay is returned for frames whose counter does not advance past the
// highest previously accepted counter in that direction.
var ErrReplay = errors.New("replayed or out-of-order nonce counter")

// MakeNonce builds a 12-byte nonce: 4-byte role tag followed by an 8-byte
// big-endian counter.
func MakeNonce(roleTag uint32, counter uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint32(nonce[:4], roleTag)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// NonceSequence issues strictly increasing send nonces for one direction.
type NonceSequence struct {
	mu      sync.Mutex
	roleTag uint32
	next    uint64
}

// NewNonceSequence creates a sequence for the given role tag, starting at 0.
func NewNonceSequence(roleTag uint32) *NonceSequence {
	return &NonceSequence{roleTag: roleTag}
}

// Next returns the nonce for the next outbound frame and advances the
// counter. The same counter value is never issued twice.
func (ns *NonceSequence) Next() ([NonceSize]byte, uint64, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.next == ^uint64(0) {
		return [NonceSize]byte{}, 0, ErrNonceExhausted
	}

	counter := ns.next
	ns.next++
	return MakeNonce(ns.roleTag, counter), counter, nil
}

// ReplayGuard tracks the highest accepted counter for the receive direction
// and rejects anything at or below it. State is memory-only; it dies with
// the session.
type ReplayGuard struct {
	mu       sync.Mutex
	roleTag  uint32
	highest  uint64
	accepted bool
}

// NewReplayGuard creates a guard for frames carrying the given role tag
// (the peer's tag, not ours).
func NewReplayGuard(peerRoleTag uint32) *ReplayGuard {
	return &ReplayGuard{roleTag: peerRoleTag}
}

// Accept validates an inbound counter. On success the guard advances and the
// matching nonce is returned; on replay it returns ErrReplay.
func (rg *ReplayGuard) Accept(counter uint64) ([NonceSize]byte, error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	if rg.accepted && counter <= rg.highest {
		logrus.WithFields(logrus.Fields{
			"function": "ReplayGuard.Accept",
			"counter":  counter,
			"highest":  rg.highest,
		}).Warn("Replay detected: counter did not advance")
		return [NonceSize]byte{}, fmt.Errorf("counter %d not above %d: %w", counter, rg.highest, ErrReplay)
	}

	rg.highest = counter
	rg.accepted = true
	return MakeNonce(rg.roleTag, counter), nil
}

// Highest reports the highest accepted counter and whether any frame has
// been accepted yet.
func (rg *ReplayGuard) Highest() (uint64, bool) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.highest, rg.accepted
}
