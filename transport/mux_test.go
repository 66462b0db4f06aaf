package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMux(t *testing.T) *Mux {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	mux := NewMux(conn)
	t.Cleanup(func() { _ = mux.Close() })
	return mux
}

func TestMuxDeliversProbes(t *testing.T) {
	receiver := newTestMux(t)
	sender := newTestMux(t)

	require.NoError(t, sender.SendProbe(receiver.LocalAddr(), 0xCAFEBABE))

	select {
	case probe := <-receiver.Probes():
		assert.Equal(t, uint32(0xCAFEBABE), probe.ConvID)
		assert.Equal(t, sender.LocalAddr().Port, probe.Addr.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("probe was not delivered")
	}
}

func TestMuxDropsGarbage(t *testing.T) {
	receiver := newTestMux(t)
	sender := newTestMux(t)

	require.NoError(t, sender.WriteTo([]byte{0xFF, 0x00, 0xFF}, receiver.LocalAddr()))

	select {
	case <-receiver.Probes():
		t.Fatal("garbage must not surface as a probe")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMuxStreamRoundTrip(t *testing.T) {
	muxA := newTestMux(t)
	muxB := newTestMux(t)

	convID := ConversationID(muxA.LocalAddr(), muxB.LocalAddr())

	streamA, err := muxA.OpenStream(convID, muxB.LocalAddr())
	require.NoError(t, err)
	defer streamA.Close()

	streamB, err := muxB.OpenStream(convID, muxA.LocalAddr())
	require.NoError(t, err)
	defer streamB.Close()

	payload := []byte("ordered reliable bytes over udp")
	_, err = streamA.Write(payload)
	require.NoError(t, err)

	require.NoError(t, streamB.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, len(payload))
	n, err := streamB.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	// And the reverse direction.
	reply := []byte("ack")
	_, err = streamB.Write(reply)
	require.NoError(t, err)

	require.NoError(t, streamA.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf = make([]byte, len(reply))
	n, err = streamA.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, reply, buf[:n])
}

func TestMuxSecondStreamRejected(t *testing.T) {
	mux := newTestMux(t)
	peer := udpAddr("127.0.0.1", 50000)

	stream, err := mux.OpenStream(1, peer)
	require.NoError(t, err)
	defer stream.Close()

	_, err = mux.OpenStream(2, peer)
	assert.ErrorIs(t, err, ErrStreamOpen)
}

func TestMuxStreamReleasedOnClose(t *testing.T) {
	mux := newTestMux(t)
	peer := udpAddr("127.0.0.1", 50000)

	stream, err := mux.OpenStream(1, peer)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	// A new session can be opened after the previous one is torn down.
	next, err := mux.OpenStream(2, peer)
	require.NoError(t, err)
	assert.NoError(t, next.Close())
}

func TestMuxCloseIdempotent(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	mux := NewMux(conn)
	require.NoError(t, mux.Close())
	assert.NoError(t, mux.Close())
}
