package transport

import (
	"encoding/binary"
	"net"
)

// ProbeMagic is the 8-byte marker opening every hole-punch probe datagram.
const ProbeMagic uint64 = 0xC0DE0BA5E0C0DE01

// probeSize is the exact probe length: magic plus the 4-byte conversation-ID
// candidate. Anything else at the punching phase is dropped.
const probeSize = 12

// EncodeProbe builds a punch probe carrying the conversation-ID candidate.
func EncodeProbe(convID uint32) []byte {
	data := make([]byte, probeSize)
	binary.BigEndian.PutUint64(data[:8], ProbeMagic)
	binary.BigEndian.PutUint32(data[8:], convID)
	return data
}

// DecodeProbe extracts the conversation-ID candidate from a probe datagram.
// It returns false when the datagram is not a well-formed probe.
func DecodeProbe(data []byte) (uint32, bool) {
	if len(data) != probeSize {
		return 0, false
	}
	if binary.BigEndian.Uint64(data[:8]) != ProbeMagic {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[8:]), true
}

// SendProbe transmits one punch probe to the peer through the shared socket.
func (m *Mux) SendProbe(peer *net.UDPAddr, convID uint32) error {
	return m.WriteTo(EncodeProbe(convID), peer)
}
