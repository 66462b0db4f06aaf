// Package state holds the shared connection-state model that bridges the
// GhostLink engine to any front-end.
//
// A single Store owns the AppState value. The session manager is the only
// writer; observers take read snapshots and subscribe to a broadcast event
// stream. Subscription atomically delivers the current snapshot followed by
// every later event, so an observer never sees a gap.
package state

import (
	"encoding/json"
	"net"
)

// Status is the coarse connection status shown to users.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusPunching
	StatusConnected
)

// String returns the wire token for the status.
func (s Status) String() string {
	switch s {
	case StatusPunching:
		return "PUNCHING"
	case StatusConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// MarshalJSON renders the status as its wire token.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// NATType classifies the NAT in front of this node. Probing resolves only
// the coarse Cone/Symmetric axis; the finer cone subtypes exist for
// completeness but are never synthesized without a third probe step.
type NATType uint8

const (
	NATUnknown NATType = iota
	NATOpenInternet
	NATCone
	NATFullCone
	NATRestrictedCone
	NATPortRestrictedCone
	NATSymmetric
)

// String returns the wire token for the NAT type.
func (n NATType) String() string {
	switch n {
	case NATOpenInternet:
		return "OpenInternet"
	case NATCone:
		return "Cone"
	case NATFullCone:
		return "FullCone"
	case NATRestrictedCone:
		return "RestrictedCone"
	case NATPortRestrictedCone:
		return "PortRestrictedCone"
	case NATSymmetric:
		return "Symmetric"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders the NAT type as its wire token.
func (n NATType) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

// AppState is the process-wide connection state. The session manager is its
// single writer. Invariants: Fingerprint is non-empty iff Status is
// Connected; PeerAddr is non-nil iff Status is Punching or Connected.
type AppState struct {
	// PublicAddr is the reflexive endpoint reported by STUN, nil until
	// discovery succeeds.
	PublicAddr *net.UDPAddr

	// LocalAddr is the locally bound endpoint.
	LocalAddr *net.UDPAddr

	// PeerAddr is the peer endpoint, nil until a connect is in flight.
	PeerAddr *net.UDPAddr

	// NATType is derived once at startup.
	NATType NATType

	// Status is the connection status.
	Status Status

	// Fingerprint is the session SAS, empty unless connected.
	Fingerprint string

	// Alias is an optional human-readable name for this node.
	Alias string
}

// appStateWire is the JSON shape served over /api/state and inside events.
type appStateWire struct {
	PublicIP    *string `json:"public_ip"`
	LocalIP     *string `json:"local_ip"`
	PeerIP      *string `json:"peer_ip"`
	NATType     NATType `json:"nat_type"`
	Status      Status  `json:"status"`
	Fingerprint *string `json:"fingerprint,omitempty"`
	Alias       *string `json:"alias,omitempty"`
}

// MarshalJSON renders endpoints as "a.b.c.d:port" strings with nulls for
// unset values.
func (s AppState) MarshalJSON() ([]byte, error) {
	wire := appStateWire{
		PublicIP: addrString(s.PublicAddr),
		LocalIP:  addrString(s.LocalAddr),
		PeerIP:   addrString(s.PeerAddr),
		NATType:  s.NATType,
		Status:   s.Status,
	}
	if s.Fingerprint != "" {
		wire.Fingerprint = &s.Fingerprint
	}
	if s.Alias != "" {
		wire.Alias = &s.Alias
	}
	return json.Marshal(wire)
}

func addrString(addr *net.UDPAddr) *string {
	if addr == nil {
		return nil
	}
	str := addr.String()
	return &str
}
