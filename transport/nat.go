package transport

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/srujaniyengar/GhostLink/state"
)

// DiscoveryResult is the outcome of startup discovery: the reflexive
// endpoint (nil when every probe failed) and the NAT classification.
type DiscoveryResult struct {
	Public  *net.UDPAddr
	NATType state.NATType
}

// Discover resolves the public endpoint and classifies the NAT with the
// classical two-server probe, downgraded to the coarse Cone/Symmetric axis:
//
//   - reflexive endpoint equals the local endpoint → OpenInternet
//   - two servers report the same reflexive endpoint → Cone
//   - the reports differ → Symmetric
//
// Probe failures degrade the classification to Unknown; discovery failure is
// never fatal to the session.
func (c *STUNClient) Discover(ctx context.Context, local *net.UDPAddr) DiscoveryResult {
	log := logrus.WithField("function", "STUNClient.Discover")

	if len(c.servers) == 0 {
		log.Warn("No STUN servers configured; skipping discovery")
		return DiscoveryResult{NATType: state.NATUnknown}
	}

	first, err := c.Query(ctx, c.servers[0])
	if err != nil {
		log.WithError(err).Warn("STUN discovery failed; node may not be reachable")
		return DiscoveryResult{NATType: state.NATUnknown}
	}

	if len(c.servers) < 2 {
		log.Info("Single STUN server configured; NAT type left Unknown")
		return DiscoveryResult{Public: first, NATType: classifyOne(local, first)}
	}

	second, err := c.Query(ctx, c.servers[1])
	if err != nil {
		log.WithError(err).Warn("Second STUN probe failed; NAT type left Unknown")
		return DiscoveryResult{Public: first, NATType: classifyOne(local, first)}
	}

	natType := Classify(local, first, second)
	log.WithFields(logrus.Fields{
		"public":   first.String(),
		"nat_type": natType.String(),
	}).Info("NAT classification complete")

	return DiscoveryResult{Public: first, NATType: natType}
}

// Classify maps two reflexive observations onto the coarse NAT axis.
func Classify(local, first, second *net.UDPAddr) state.NATType {
	if sameEndpoint(local, first) && sameEndpoint(local, second) {
		return state.NATOpenInternet
	}
	if sameEndpoint(first, second) {
		return state.NATCone
	}
	return state.NATSymmetric
}

// classifyOne is the single-observation downgrade: only the open-internet
// case is decidable.
func classifyOne(local, reflexive *net.UDPAddr) state.NATType {
	if sameEndpoint(local, reflexive) {
		return state.NATOpenInternet
	}
	return state.NATUnknown
}
