package crypto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeNonceLayout(t *testing.T) {
	nonce := MakeNonce(RoleTagInitiator, 0x0102030405060708)

	assert.Equal(t, RoleTagInitiator, binary.BigEndian.Uint32(nonce[:4]))
	assert.Equal(t, uint64(0x0102030405060708), binary.BigEndian.Uint64(nonce[4:]))
}

func TestNonceSequenceMonotonic(t *testing.T) {
	seq := NewNonceSequence(RoleTagInitiator)

	var prev uint64
	for i := 0; i < 100; i++ {
		_, counter, err := seq.Next()
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, prev+1, counter, "counters must advance by one")
		}
		prev = counter
	}
}

func TestNonceDirectionsDisjoint(t *testing.T) {
	initiator := MakeNonce(RoleTagInitiator, 42)
	responder := MakeNonce(RoleTagResponder, 42)

	assert.NotEqual(t, initiator, responder, "same counter in opposite directions must differ")
}

func TestReplayGuardAcceptsIncreasing(t *testing.T) {
	guard := NewReplayGuard(RoleTagResponder)

	for _, counter := range []uint64{0, 1, 2, 10, 11} {
		_, err := guard.Accept(counter)
		require.NoError(t, err, "counter %d should be accepted", counter)
	}

	highest, any := guard.Highest()
	assert.True(t, any)
	assert.Equal(t, uint64(11), highest)
}

func TestReplayGuardRejectsReplay(t *testing.T) {
	guard := NewReplayGuard(RoleTagResponder)

	_, err := guard.Accept(5)
	require.NoError(t, err)

	_, err = guard.Accept(5)
	assert.ErrorIs(t, err, ErrReplay, "same counter twice is a replay")

	_, err = guard.Accept(3)
	assert.ErrorIs(t, err, ErrReplay, "older counter is a replay")

	_, err = guard.Accept(6)
	assert.NoError(t, err, "guard must keep working after rejections")
}

func TestReplayGuardAcceptsZeroFirst(t *testing.T) {
	guard := NewReplayGuard(RoleTagInitiator)

	_, err := guard.Accept(0)
	assert.NoError(t, err, "counter 0 is the first legal frame")

	_, err = guard.Accept(0)
	assert.ErrorIs(t, err, ErrReplay)
}
