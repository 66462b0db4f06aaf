package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srujaniyengar/GhostLink/state"
)

func TestClassifyNAT(t *testing.T) {
	local := udpAddr("192.0.2.10", 40000)
	public := udpAddr("203.0.113.1", 40000)
	otherMapping := udpAddr("203.0.113.1", 40555)

	tests := []struct {
		name          string
		local, r1, r2 *net.UDPAddr
		want          state.NATType
	}{
		{"open internet", local, local, local, state.NATOpenInternet},
		{"cone: both servers agree", local, public, public, state.NATCone},
		{"symmetric: mappings differ", local, public, otherMapping, state.NATSymmetric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.local, tt.r1, tt.r2))
		})
	}
}

func TestDiscoverDegradesToUnknownOnFailure(t *testing.T) {
	mux := newTestMux(t)

	// Unreachable server: nothing listens on loopback port 1.
	client := NewSTUNClient(mux, []string{"127.0.0.1:1"})

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()

	result := client.Discover(ctx, mux.LocalAddr())
	assert.Nil(t, result.Public)
	assert.Equal(t, state.NATUnknown, result.NATType)
}

func TestDiscoverClassifiesConeWithTwoAgreeingServers(t *testing.T) {
	mux := newTestMux(t)
	reflexive := udpAddr("203.0.113.50", 42000)

	serverA := mockSTUNServer(t, reflexive, nil)
	serverB := mockSTUNServer(t, reflexive, nil)

	client := NewSTUNClient(mux, []string{serverA.String(), serverB.String()})
	result := client.Discover(context.Background(), mux.LocalAddr())

	require.NotNil(t, result.Public)
	assert.Equal(t, state.NATCone, result.NATType)
}

func TestDiscoverClassifiesSymmetricWithDisagreeingServers(t *testing.T) {
	mux := newTestMux(t)

	serverA := mockSTUNServer(t, udpAddr("203.0.113.50", 42000), nil)
	serverB := mockSTUNServer(t, udpAddr("203.0.113.50", 42999), nil)

	client := NewSTUNClient(mux, []string{serverA.String(), serverB.String()})
	result := client.Discover(context.Background(), mux.LocalAddr())

	require.NotNil(t, result.Public)
	assert.Equal(t, state.NATSymmetric, result.NATType)
}

func TestDiscoverSingleServerLeavesNATUnknown(t *testing.T) {
	mux := newTestMux(t)
	server := mockSTUNServer(t, udpAddr("203.0.113.50", 42000), nil)

	client := NewSTUNClient(mux, []string{server.String()})
	result := client.Discover(context.Background(), mux.LocalAddr())

	require.NotNil(t, result.Public)
	assert.Equal(t, state.NATUnknown, result.NATType)
}
