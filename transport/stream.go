package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	kcp "github.com/xtaci/kcp-go/v5"
)

// ErrStreamOpen is returned when a second stream is requested while one is
// active; GhostLink carries exactly one peer session at a time.
var ErrStreamOpen = errors.New("a transport stream is already open")

// ErrMuxClosed is returned for operations on a closed mux.
var ErrMuxClosed = errors.New("mux is closed")

// Stream is the ordered reliable bytestream to the peer, carried by KCP over
// the shared socket. Closing the stream releases the socket view but leaves
// the socket itself bound for the next session.
type Stream struct {
	*kcp.UDPSession
	view *streamConn
}

// Close tears down the KCP session and unregisters the socket view.
func (s *Stream) Close() error {
	err := s.UDPSession.Close()
	s.view.Close()
	return err
}

// OpenStream builds the reliable stream to the peer using the agreed
// conversation ID. Both sides call this with the same ID after punching.
func (m *Mux) OpenStream(convID uint32, peer *net.UDPAddr) (*Stream, error) {
	view, err := m.openStreamConn(peer)
	if err != nil {
		return nil, err
	}

	sess, err := kcp.NewConn3(convID, peer, nil, 0, 0, view)
	if err != nil {
		view.Close()
		return nil, fmt.Errorf("failed to open KCP session: %w", err)
	}
	tuneSession(sess)

	logrus.WithFields(logrus.Fields{
		"function": "Mux.OpenStream",
		"conv":     convID,
		"peer":     peer.String(),
	}).Info("Reliable stream opened")

	return &Stream{UDPSession: sess, view: view}, nil
}

// tuneSession applies interactive-latency KCP settings.
//
// nodelay=1   — enable nodelay mode
// interval=10 — internal update timer 10ms
// resend=2    — fast retransmit after 2 duplicate ACKs
// nc=1        — no congestion window
func tuneSession(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetWindowSize(256, 256)
	sess.SetMtu(1200)
	sess.SetACKNoDelay(true)
	sess.SetWriteDelay(false)
}

// streamConn is the per-session net.PacketConn view handed to kcp-go. It
// receives only transport segments from the fixed peer; closing it unblocks
// kcp's reader without touching the shared socket.
type streamConn struct {
	mux     *Mux
	peer    *net.UDPAddr
	segCh   chan []byte
	die     chan struct{}
	dieOnce sync.Once
}

// openStreamConn registers the view as the mux's transport consumer.
func (m *Mux) openStreamConn(peer *net.UDPAddr) (*streamConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMuxClosed
	}
	if m.stream != nil {
		return nil, ErrStreamOpen
	}

	view := &streamConn{
		mux:   m,
		peer:  peer,
		segCh: make(chan []byte, 256),
		die:   make(chan struct{}),
	}
	m.stream = view
	return view, nil
}

// deliver queues one inbound segment, dropping under backpressure; KCP
// retransmits anything the receiver misses.
func (c *streamConn) deliver(data []byte, addr *net.UDPAddr) {
	select {
	case c.segCh <- data:
	case <-c.die:
	default:
	}
}

// ReadFrom blocks until a segment from the peer arrives or the view closes.
func (c *streamConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case data := <-c.segCh:
		n := copy(p, data)
		return n, c.peer, nil
	case <-c.die:
		return 0, nil, net.ErrClosed
	}
}

// WriteTo sends a segment through the shared socket.
func (c *streamConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected address type %T", addr)
	}
	if err := c.mux.WriteTo(p, udpAddr); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close unregisters the view from the mux and unblocks readers.
func (c *streamConn) Close() error {
	c.mux.mu.Lock()
	if c.mux.stream == c {
		c.mux.stream = nil
	}
	c.mux.mu.Unlock()

	c.dieOnce.Do(func() { close(c.die) })
	return nil
}

// LocalAddr returns the shared socket's bound endpoint.
func (c *streamConn) LocalAddr() net.Addr {
	return c.mux.LocalAddr()
}

// Deadlines are managed by the KCP session, not the packet view.

func (c *streamConn) SetDeadline(t time.Time) error      { return nil }
func (c *streamConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return nil }
