// Command ghostlink runs a serverless peer-to-peer messaging node.
//
// On startup the node binds one UDP socket, discovers its public endpoint
// and NAT type via STUN, and serves the local web surface. Users exchange
// public addresses out of band, hole-punch toward each other, and chat over
// an end-to-end encrypted channel.
//
// Exit codes: 0 normal, 2 bad configuration, 3 socket bind failure.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/srujaniyengar/GhostLink/config"
	"github.com/srujaniyengar/GhostLink/crypto"
	"github.com/srujaniyengar/GhostLink/session"
	"github.com/srujaniyengar/GhostLink/state"
	"github.com/srujaniyengar/GhostLink/transport"
	"github.com/srujaniyengar/GhostLink/web"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghostlink: bad configuration: %v\n", err)
		return config.ExitBadConfig
	}

	logrus.SetLevel(cfg.LogLevel)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.Info("GhostLink starting")

	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(cfg.UDPPort)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghostlink: failed to bind UDP port %d: %v\n", cfg.UDPPort, err)
		return config.ExitBindFailed
	}

	httpListener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.HTTPPort))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghostlink: failed to bind HTTP port %d: %v\n", cfg.HTTPPort, err)
		_ = udpConn.Close()
		return config.ExitBindFailed
	}

	mux := transport.NewMux(udpConn)
	defer mux.Close()

	stunClient := transport.NewSTUNClient(mux, cfg.STUNServers)
	store := state.NewStore(state.AppState{Alias: cfg.Alias})

	manager := session.NewManager(mux, stunClient, store, session.Options{
		PunchTimeout: cfg.PunchTimeout,
		Suites:       suitesFor(cfg.Cipher),
		Alias:        cfg.Alias,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go manager.Run(ctx)

	server := web.NewServer(store, manager)
	go func() {
		logrus.WithField("addr", httpListener.Addr().String()).
			Info("Web UI available")
		if err := server.Serve(httpListener); err != nil {
			logrus.WithError(err).Debug("HTTP server stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"udp_port":  mux.LocalAddr().Port,
		"http_port": cfg.HTTPPort,
	}).Info("GhostLink ready")

	<-ctx.Done()
	logrus.Info("Shutting down")
	_ = httpListener.Close()

	return config.ExitOK
}

// suitesFor maps the configured cipher preference to the handshake bitmask.
// The default advertises both suites and lets negotiation prefer ChaCha20;
// aes256 pins AES-256-GCM.
func suitesFor(cipher config.Cipher) crypto.CipherSuite {
	if cipher == config.CipherAES256 {
		return crypto.SuiteAES256GCM
	}
	return crypto.SuiteChaCha20Poly1305 | crypto.SuiteAES256GCM
}
