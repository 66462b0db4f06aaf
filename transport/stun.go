package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"
	"github.com/sirupsen/logrus"
)

// Retransmission schedule for a single Binding Request, per RFC 5389
// exponential backoff, bounded by the overall transaction deadline.
var stunRetransmitSchedule = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// stunTransactionTimeout bounds one Binding Request end to end.
const stunTransactionTimeout = 5 * time.Second

// ErrSTUNTimeout is returned when no valid response arrives before the
// transaction deadline.
var ErrSTUNTimeout = errors.New("STUN transaction timed out")

// STUNClient issues RFC 5389 Binding Requests over the shared socket and
// extracts the reflexive endpoint from XOR-MAPPED-ADDRESS. Replies are
// demultiplexed by transaction ID because the socket carries punching and
// transport traffic at the same time.
type STUNClient struct {
	mux     *Mux
	servers []string
}

// NewSTUNClient creates a client that queries the given servers in order.
func NewSTUNClient(mux *Mux, servers []string) *STUNClient {
	return &STUNClient{mux: mux, servers: servers}
}

// Servers returns the configured server list.
func (c *STUNClient) Servers() []string {
	return c.servers
}

// DiscoverPublicAddress queries the configured servers until one returns a
// reflexive endpoint.
func (c *STUNClient) DiscoverPublicAddress(ctx context.Context) (*net.UDPAddr, error) {
	if len(c.servers) == 0 {
		return nil, errors.New("no STUN servers configured")
	}

	var lastErr error
	for _, server := range c.servers {
		addr, err := c.Query(ctx, server)
		if err == nil {
			return addr, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return nil, fmt.Errorf("all STUN servers failed, last error: %w", lastErr)
}

// Query runs one Binding Request transaction against a single server.
func (c *STUNClient) Query(ctx context.Context, server string) (*net.UDPAddr, error) {
	serverAddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve STUN server %s: %w", server, err)
	}

	msg, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to build binding request: %w", err)
	}

	replyCh := make(chan *stun.Message, 1)
	c.mux.registerSTUN(msg.TransactionID, replyCh)
	defer c.mux.unregisterSTUN(msg.TransactionID)

	ctx, cancel := context.WithTimeout(ctx, stunTransactionTimeout)
	defer cancel()

	logrus.WithFields(logrus.Fields{
		"function": "STUNClient.Query",
		"server":   server,
	}).Debug("Sending STUN binding request")

	for attempt := 0; ; attempt++ {
		if err := c.mux.WriteTo(msg.Raw, serverAddr); err != nil {
			return nil, fmt.Errorf("failed to send STUN request: %w", err)
		}

		var wait time.Duration
		if attempt < len(stunRetransmitSchedule) {
			wait = stunRetransmitSchedule[attempt]
		} else {
			return nil, fmt.Errorf("%s: %w", server, ErrSTUNTimeout)
		}

		timer := time.NewTimer(wait)
		select {
		case reply := <-replyCh:
			timer.Stop()
			return parseBindingResponse(reply, server)
		case <-timer.C:
			// Retransmit.
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%s: %w", server, ErrSTUNTimeout)
		}
	}
}

// parseBindingResponse validates the message class and extracts the
// XOR-MAPPED-ADDRESS attribute.
func parseBindingResponse(msg *stun.Message, server string) (*net.UDPAddr, error) {
	if msg.Type != stun.BindingSuccess {
		return nil, fmt.Errorf("unexpected STUN response %s from %s", msg.Type, server)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(msg); err != nil {
		return nil, fmt.Errorf("STUN response from %s lacks XOR-MAPPED-ADDRESS: %w", server, err)
	}

	reflexive := &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}
	logrus.WithFields(logrus.Fields{
		"function":  "parseBindingResponse",
		"server":    server,
		"reflexive": reflexive.String(),
	}).Info("Reflexive endpoint resolved")

	return reflexive, nil
}
