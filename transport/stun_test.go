package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSTUNServer answers Binding Requests with the given reflexive address,
// optionally mangling the reply.
func mockSTUNServer(t *testing.T, reflexive *net.UDPAddr, mangle func(*stun.Message) *stun.Message) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, client, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}

			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}

			resp, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: reflexive.IP, Port: reflexive.Port},
			)
			if err != nil {
				continue
			}
			if mangle != nil {
				resp = mangle(resp)
				if resp == nil {
					continue
				}
			}
			_, _ = conn.WriteToUDP(resp.Raw, client)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

func TestSTUNQueryResolvesReflexiveAddress(t *testing.T) {
	mux := newTestMux(t)
	reflexive := udpAddr("203.0.113.9", 40123)
	server := mockSTUNServer(t, reflexive, nil)

	client := NewSTUNClient(mux, []string{server.String()})
	addr, err := client.Query(context.Background(), server.String())
	require.NoError(t, err)

	assert.True(t, addr.IP.Equal(reflexive.IP))
	assert.Equal(t, reflexive.Port, addr.Port)
}

func TestSTUNQueryIgnoresMismatchedTransaction(t *testing.T) {
	mux := newTestMux(t)
	server := mockSTUNServer(t, udpAddr("203.0.113.9", 40123), func(resp *stun.Message) *stun.Message {
		// Corrupt the transaction ID; the client must never accept it.
		bad, err := stun.Build(
			stun.NewTransactionIDSetter([stun.TransactionIDSize]byte{1, 2, 3}),
			stun.BindingSuccess,
			&stun.XORMappedAddress{IP: net.IPv4(203, 0, 113, 9), Port: 40123},
		)
		if err != nil {
			return nil
		}
		return bad
	})

	client := NewSTUNClient(mux, []string{server.String()})

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	_, err := client.Query(ctx, server.String())
	assert.Error(t, err, "a mismatched transaction ID must not resolve the query")
}

func TestSTUNQueryTimesOutAgainstSilentServer(t *testing.T) {
	mux := newTestMux(t)

	// A bound socket that never answers.
	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = silent.Close() })

	client := NewSTUNClient(mux, nil)

	start := time.Now()
	_, err = client.Query(context.Background(), silent.LocalAddr().String())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 8*time.Second, "transaction must respect its deadline")
}

func TestDiscoverPublicAddressFallsThroughServers(t *testing.T) {
	mux := newTestMux(t)

	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = silent.Close() })

	reflexive := udpAddr("198.51.100.7", 41000)
	answering := mockSTUNServer(t, reflexive, nil)

	client := NewSTUNClient(mux, []string{
		silent.LocalAddr().String(),
		answering.String(),
	})

	addr, err := client.DiscoverPublicAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reflexive.Port, addr.Port)
}

func TestDiscoverPublicAddressNoServers(t *testing.T) {
	mux := newTestMux(t)
	client := NewSTUNClient(mux, nil)

	_, err := client.DiscoverPublicAddress(context.Background())
	assert.Error(t, err)
}
