// Package transport implements the network layer of GhostLink: the shared
// UDP socket multiplexer, the STUN client, NAT classification, hole-punch
// probes, and the reliable KCP stream carried between two peers.
//
// A single bound UDP socket serves every phase. STUN's reflexive-address
// mapping is per-source-port, so discovery, punching, and transport must all
// originate from the same port; the Mux demultiplexes inbound datagrams by
// packet content and routes each to the right consumer.
package transport

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/pion/stun/v3"
	"github.com/sirupsen/logrus"
)

// maxDatagram is the receive buffer size for a single UDP datagram.
const maxDatagram = 2048

// stunMagicCookie is the fixed RFC 5389 cookie at offset 4 of every STUN
// message.
const stunMagicCookie = 0x2112A442

// kcpHeaderSize is the minimum KCP segment size; anything shorter cannot be
// a transport segment.
const kcpHeaderSize = 24

// Probe is one inbound hole-punch datagram: who sent it and which
// conversation ID they propose.
type Probe struct {
	Addr   *net.UDPAddr
	ConvID uint32
}

// Mux owns the process's one UDP socket. Its read loop classifies every
// datagram as a STUN message, a punch probe, or a transport segment, and
// hands it to the registered consumer. Unrecognised datagrams are dropped.
type Mux struct {
	conn *net.UDPConn

	mu          sync.Mutex
	stunWaiters map[[stun.TransactionIDSize]byte]chan *stun.Message
	stream      *streamConn
	closed      bool

	probeCh chan Probe
	done    chan struct{}
}

// NewMux wraps an already bound UDP socket and starts the read loop. The mux
// takes ownership of the socket.
func NewMux(conn *net.UDPConn) *Mux {
	m := &Mux{
		conn:        conn,
		stunWaiters: make(map[[stun.TransactionIDSize]byte]chan *stun.Message),
		probeCh:     make(chan Probe, 16),
		done:        make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// LocalAddr returns the bound local endpoint.
func (m *Mux) LocalAddr() *net.UDPAddr {
	return m.conn.LocalAddr().(*net.UDPAddr)
}

// Probes returns the channel of inbound hole-punch probes. The channel is
// never closed; it simply goes quiet once the mux shuts down.
func (m *Mux) Probes() <-chan Probe {
	return m.probeCh
}

// WriteTo sends a raw datagram from the shared socket.
func (m *Mux) WriteTo(data []byte, addr *net.UDPAddr) error {
	_, err := m.conn.WriteToUDP(data, addr)
	return err
}

// Close shuts down the read loop, the socket, and any open stream view.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stream := m.stream
	m.mu.Unlock()

	close(m.done)
	if stream != nil {
		stream.Close()
	}
	return m.conn.Close()
}

// registerSTUN routes replies carrying the transaction ID to ch until
// unregistered.
func (m *Mux) registerSTUN(id [stun.TransactionIDSize]byte, ch chan *stun.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stunWaiters[id] = ch
}

// unregisterSTUN removes a transaction from the demux table.
func (m *Mux) unregisterSTUN(id [stun.TransactionIDSize]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stunWaiters, id)
}

// readLoop pulls datagrams off the socket and dispatches them by content.
func (m *Mux) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.done:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "Mux.readLoop",
					"error":    err.Error(),
				}).Debug("Socket read failed, stopping read loop")
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		m.dispatch(data, addr)
	}
}

// dispatch classifies one datagram and routes it.
func (m *Mux) dispatch(data []byte, addr *net.UDPAddr) {
	switch classify(data) {
	case kindSTUN:
		m.dispatchSTUN(data, addr)
	case kindProbe:
		convID, ok := DecodeProbe(data)
		if !ok {
			return
		}
		select {
		case m.probeCh <- Probe{Addr: addr, ConvID: convID}:
		default:
			// Probe floods are harmless; the punch loop only needs one.
		}
	case kindTransport:
		m.dispatchTransport(data, addr)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Mux.dispatch",
			"from":     addr.String(),
			"bytes":    len(data),
		}).Debug("Dropping unclassifiable datagram")
	}
}

// dispatchSTUN parses a STUN message and resolves the waiting transaction.
// Malformed messages are dropped.
func (m *Mux) dispatchSTUN(data []byte, addr *net.UDPAddr) {
	msg := &stun.Message{Raw: data}
	if err := msg.Decode(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mux.dispatchSTUN",
			"from":     addr.String(),
			"error":    err.Error(),
		}).Debug("Dropping malformed STUN message")
		return
	}

	m.mu.Lock()
	ch, ok := m.stunWaiters[msg.TransactionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- msg:
	default:
	}
}

// dispatchTransport forwards a KCP segment to the open stream view, if the
// sender is the expected peer.
func (m *Mux) dispatchTransport(data []byte, addr *net.UDPAddr) {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()

	if stream == nil || !sameEndpoint(stream.peer, addr) {
		return
	}
	stream.deliver(data, addr)
}

// packetKind is the result of content-based classification.
type packetKind int

const (
	kindUnknown packetKind = iota
	kindSTUN
	kindProbe
	kindTransport
)

// classify decides what a datagram is by inspecting its bytes. STUN frames
// start with two zero bits and carry the magic cookie at offset 4; punch
// probes are exactly probeSize bytes behind the probe magic; anything at
// least a KCP header long is a transport segment.
func classify(data []byte) packetKind {
	if len(data) >= 20 && data[0]&0xC0 == 0 &&
		binary.BigEndian.Uint32(data[4:8]) == stunMagicCookie {
		return kindSTUN
	}
	if len(data) == probeSize && binary.BigEndian.Uint64(data[:8]) == ProbeMagic {
		return kindProbe
	}
	if len(data) >= kcpHeaderSize {
		return kindTransport
	}
	return kindUnknown
}

// sameEndpoint compares two UDP endpoints by IP and port.
func sameEndpoint(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
