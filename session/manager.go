// Package session implements the GhostLink connection state machine.
//
// The Manager owns the shared UDP socket (through the transport mux) and is
// the single writer of the application state. It consumes commands from the
// control surface, drives discovery, hole punching, the handshake, and the
// encrypted channel, and guarantees exactly one Disconnected event per
// terminated session.
package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srujaniyengar/GhostLink/crypto"
	"github.com/srujaniyengar/GhostLink/handshake"
	"github.com/srujaniyengar/GhostLink/state"
	"github.com/srujaniyengar/GhostLink/transport"
)

// Disconnect reasons surfaced to observers.
const (
	ReasonAborted   = "aborted"
	ReasonPunchOut  = "punch timeout"
	ReasonHandshake = "handshake failed"
	ReasonIntegrity = "integrity violation"
	ReasonLinkLost  = "link lost"
	ReasonRequested = "disconnected"
)

const (
	probeInterval     = 500 * time.Millisecond
	heartbeatIdle     = 30 * time.Second
	linkDeadAfter     = 90 * time.Second
	livenessTick      = 1 * time.Second
	disconnectDrain   = 2 * time.Second
	discoveryDeadline = 15 * time.Second
	commandQueue      = 32
	outboundQueue     = 64
)

// Options configures a Manager.
type Options struct {
	// PunchTimeout bounds one hole-punching attempt.
	PunchTimeout time.Duration

	// Suites is the cipher-suite bitmask advertised in the handshake.
	Suites crypto.CipherSuite

	// Alias is an optional display name placed in the state snapshot.
	Alias string
}

// command is the closed set of control-plane requests.
type command interface{ isCommand() }

type connectCmd struct{ peer *net.UDPAddr }
type disconnectCmd struct{}
type sendCmd struct{ text string }

func (connectCmd) isCommand()    {}
func (disconnectCmd) isCommand() {}
func (sendCmd) isCommand()       {}

// Manager orchestrates Disconnected → Punching → Handshaking → Connected and
// every path back.
type Manager struct {
	mux   *transport.Mux
	stun  *transport.STUNClient
	store *state.Store
	opts  Options

	commands chan command

	active *activeSession
	wg     sync.WaitGroup
}

// activeSession is the per-connection bookkeeping held while punching,
// handshaking, or connected.
type activeSession struct {
	peer     *net.UDPAddr
	cancel   context.CancelFunc
	outbound chan string
	done     chan struct{}
}

// NewManager wires the state machine to its collaborators. Run must be
// called before commands have any effect.
func NewManager(mux *transport.Mux, stun *transport.STUNClient, store *state.Store, opts Options) *Manager {
	if opts.PunchTimeout <= 0 {
		opts.PunchTimeout = 30 * time.Second
	}
	if opts.Suites == 0 {
		opts.Suites = crypto.SuiteChaCha20Poly1305 | crypto.SuiteAES256GCM
	}
	return &Manager{
		mux:      mux,
		stun:     stun,
		store:    store,
		opts:     opts,
		commands: make(chan command, commandQueue),
	}
}

// Connect requests a connection to the peer endpoint. Invalid in any state
// but Disconnected; the manager drops misplaced requests.
func (m *Manager) Connect(peer *net.UDPAddr) {
	m.enqueue(connectCmd{peer: peer})
}

// Disconnect aborts punching or tears down the connected session. A no-op
// when already disconnected.
func (m *Manager) Disconnect() {
	m.enqueue(disconnectCmd{})
}

// Send queues one outbound chat message. Requires a connected session.
func (m *Manager) Send(text string) {
	m.enqueue(sendCmd{text: text})
}

func (m *Manager) enqueue(cmd command) {
	select {
	case m.commands <- cmd:
	default:
		logrus.WithField("function", "Manager.enqueue").
			Warn("Command queue full, dropping command")
	}
}

// Run performs startup discovery and then serves commands until the context
// is cancelled. It blocks; run it in its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	m.discover(ctx)

	for {
		select {
		case <-ctx.Done():
			m.stopSession()
			m.wg.Wait()
			return
		case cmd := <-m.commands:
			m.handle(ctx, cmd)
		}
	}
}

// discover populates the local, public, and NAT-type fields once at startup.
// Failure degrades the state rather than aborting.
func (m *Manager) discover(ctx context.Context) {
	local := m.mux.LocalAddr()
	m.store.Update(func(s *state.AppState) {
		s.LocalAddr = local
		s.Alias = m.opts.Alias
	})

	dctx, cancel := context.WithTimeout(ctx, discoveryDeadline)
	defer cancel()

	result := m.stun.Discover(dctx, local)
	m.store.Update(func(s *state.AppState) {
		s.PublicAddr = result.Public
		s.NATType = result.NATType
	})
	m.store.Publish(state.Disconnected{State: m.store.Snapshot()})

	logrus.WithFields(logrus.Fields{
		"function": "Manager.discover",
		"local":    local.String(),
		"nat_type": result.NATType.String(),
	}).Info("Discovery finished")
}

// reap clears the bookkeeping for a session that terminated on its own
// (punch timeout, handshake failure, link death).
func (m *Manager) reap() {
	if m.active == nil {
		return
	}
	select {
	case <-m.active.done:
		m.active = nil
	default:
	}
}

// handle dispatches one command against the current state.
func (m *Manager) handle(ctx context.Context, cmd command) {
	m.reap()

	switch c := cmd.(type) {
	case connectCmd:
		if m.active != nil {
			logrus.WithField("function", "Manager.handle").
				Warn("Connect ignored: session already in progress")
			return
		}
		m.startSession(ctx, c.peer)

	case disconnectCmd:
		// Idempotent: disconnecting while disconnected is a no-op.
		m.stopSession()

	case sendCmd:
		m.deliverOutbound(c.text)
	}
}

// startSession transitions to Punching and launches the session goroutine.
func (m *Manager) startSession(ctx context.Context, peer *net.UDPAddr) {
	sessCtx, cancel := context.WithCancel(ctx)
	sess := &activeSession{
		peer:     peer,
		cancel:   cancel,
		outbound: make(chan string, outboundQueue),
		done:     make(chan struct{}),
	}
	m.active = sess

	m.store.Update(func(s *state.AppState) {
		s.Status = state.StatusPunching
		s.PeerAddr = peer
	}, state.ChatCleared{})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runSession(sessCtx, sess)
	}()
}

// stopSession cancels the active session, if any, and waits for it to
// finish its teardown (bounded by the session's own drain logic).
func (m *Manager) stopSession() {
	if m.active == nil {
		return
	}
	m.active.cancel()
	<-m.active.done
	m.active = nil
}

// deliverOutbound echoes the message to observers and hands it to the
// session writer. Messages outside a connected session are dropped; the
// control surface validates before submitting.
func (m *Manager) deliverOutbound(text string) {
	if m.active == nil || m.store.Snapshot().Status != state.StatusConnected {
		logrus.WithField("function", "Manager.deliverOutbound").
			Warn("Dropping message outside a connected session")
		return
	}

	// Echo at submission time so the local UI shows intent immediately.
	m.store.Publish(state.Message{Content: text, FromMe: true})

	select {
	case m.active.outbound <- text:
	default:
		logrus.WithField("function", "Manager.deliverOutbound").
			Warn("Outbound queue full, dropping message")
	}
}

// runSession drives one connection attempt from punching to teardown and
// emits exactly one Disconnected event on the way out.
func (m *Manager) runSession(ctx context.Context, sess *activeSession) {
	reason := ReasonRequested
	defer func() {
		m.finishSession(sess, reason)
	}()

	convID, err := m.punch(ctx, sess)
	if err != nil {
		reason = punchFailureReason(ctx, err)
		return
	}

	stream, err := m.mux.OpenStream(convID, sess.peer)
	if err != nil {
		logrus.WithError(err).Error("Failed to open reliable stream")
		reason = ReasonHandshake
		return
	}
	defer stream.Close()

	// A Disconnect during the handshake must not wait out the handshake
	// deadline; closing the stream unblocks it immediately.
	hsDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-hsDone:
		}
	}()

	result, err := handshake.Run(stream, m.role(sess.peer), m.opts.Suites)
	close(hsDone)
	if err != nil {
		logrus.WithError(err).Warn("Handshake failed")
		reason = ReasonHandshake
		if ctx.Err() != nil {
			reason = ReasonAborted
		}
		return
	}
	defer result.Channel.Close()

	m.store.Update(func(s *state.AppState) {
		s.Status = state.StatusConnected
		s.Fingerprint = result.Fingerprint
	})
	m.store.Publish(state.Connected{Fingerprint: result.Fingerprint})

	reason = m.converse(ctx, sess, result.Channel)
}

// finishSession publishes the single Disconnected event and resets state.
func (m *Manager) finishSession(sess *activeSession, reason string) {
	sess.cancel()
	m.store.Update(func(s *state.AppState) {
		s.Status = state.StatusDisconnected
		s.PeerAddr = nil
		s.Fingerprint = ""
	})
	m.store.Publish(state.Disconnected{Reason: reason, State: m.store.Snapshot()})
	close(sess.done)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.finishSession",
		"reason":   reason,
	}).Info("Session terminated")
}

// punchFailureReason separates user cancellation from a genuine timeout.
func punchFailureReason(ctx context.Context, err error) string {
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return ReasonAborted
	}
	return ReasonPunchOut
}

// punch sends probe datagrams to the peer every 500ms while accepting
// inbound probes, until one arrives from the expected endpoint or the
// punching budget runs out. It returns the agreed conversation ID.
func (m *Manager) punch(ctx context.Context, sess *activeSession) (uint32, error) {
	// Stale probes from an earlier attempt must not satisfy this one.
	for drained := false; !drained; {
		select {
		case <-m.mux.Probes():
		default:
			drained = true
		}
	}

	localRef := m.referenceEndpoint()
	candidate := transport.ConversationID(localRef, sess.peer)

	deadline := time.Now().Add(m.opts.PunchTimeout)
	probeTicker := time.NewTicker(probeInterval)
	defer probeTicker.Stop()
	countdown := time.NewTicker(time.Second)
	defer countdown.Stop()

	m.store.Publish(state.Punching{
		TimeoutSecs: int(m.opts.PunchTimeout / time.Second),
		Message:     "PROBING...",
	})

	if err := m.mux.SendProbe(sess.peer, candidate); err != nil {
		logrus.WithError(err).Debug("Probe send failed")
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()

		case probe := <-m.mux.Probes():
			if !sameEndpoint(probe.Addr, sess.peer) {
				logrus.WithFields(logrus.Fields{
					"function": "Manager.punch",
					"from":     probe.Addr.String(),
				}).Debug("Ignoring probe from unexpected sender")
				continue
			}

			// Answer immediately so the peer unblocks too, then settle
			// the conversation ID: lower candidate wins.
			_ = m.mux.SendProbe(sess.peer, candidate)
			convID := candidate
			if probe.ConvID < convID {
				convID = probe.ConvID
			}

			m.store.Publish(state.Punching{
				TimeoutSecs: remainingSeconds(deadline),
				Message:     "RESPONSE RECEIVED",
			})
			return convID, nil

		case <-probeTicker.C:
			if err := m.mux.SendProbe(sess.peer, candidate); err != nil {
				logrus.WithError(err).Debug("Probe send failed")
			}

		case <-countdown.C:
			remaining := remainingSeconds(deadline)
			if remaining <= 0 {
				return 0, errors.New("punching timed out")
			}
			m.store.Publish(state.Punching{
				TimeoutSecs: remaining,
				Message:     "PROBING...",
			})
		}
	}
}

// converse runs the connected phase: a reader goroutine surfaces inbound
// messages while the main loop writes outbound traffic, keeps the link
// alive, and watches for death. It returns the disconnect reason.
func (m *Manager) converse(ctx context.Context, sess *activeSession, channel *handshake.Channel) string {
	readErr := make(chan error, 1)
	go func() {
		for {
			plaintext, err := channel.Recv()
			if err != nil {
				readErr <- err
				return
			}
			m.store.Publish(state.Message{Content: string(plaintext), FromMe: false})
		}
	}()

	liveness := time.NewTicker(livenessTick)
	defer liveness.Stop()
	lastSend := time.Now()

	for {
		select {
		case <-ctx.Done():
			m.drainOutbound(sess, channel)
			return ReasonRequested

		case text := <-sess.outbound:
			if err := channel.Send([]byte(text)); err != nil {
				logrus.WithError(err).Warn("Send failed, terminating session")
				return ReasonLinkLost
			}
			lastSend = time.Now()

		case err := <-readErr:
			if errors.Is(err, handshake.ErrAuthentication) {
				logrus.WithField("function", "Manager.converse").
					Error("Authenticated peer sent tampered data")
				return ReasonIntegrity
			}
			return ReasonLinkLost

		case <-liveness.C:
			if time.Since(channel.LastRecv()) > linkDeadAfter {
				return ReasonLinkLost
			}
			if time.Since(lastSend) > heartbeatIdle {
				if err := channel.Heartbeat(); err != nil {
					return ReasonLinkLost
				}
				lastSend = time.Now()
			}
		}
	}
}

// drainOutbound flushes queued messages for up to two seconds before a
// graceful shutdown.
func (m *Manager) drainOutbound(sess *activeSession, channel *handshake.Channel) {
	deadline := time.Now().Add(disconnectDrain)
	for time.Now().Before(deadline) {
		select {
		case text := <-sess.outbound:
			if err := channel.Send([]byte(text)); err != nil {
				return
			}
		default:
			return
		}
	}
}

// role decides initiator vs responder: the side whose own endpoint compares
// lexicographically lower speaks first, so two simultaneous connects cannot
// both play initiator.
func (m *Manager) role(peer *net.UDPAddr) handshake.Role {
	local := m.referenceEndpoint()
	if bytes.Compare([]byte(local.String()), []byte(peer.String())) < 0 {
		return handshake.RoleInitiator
	}
	return handshake.RoleResponder
}

// referenceEndpoint is the endpoint the peer is expected to see: the
// reflexive address when discovery succeeded, the local one otherwise.
func (m *Manager) referenceEndpoint() *net.UDPAddr {
	snapshot := m.store.Snapshot()
	if snapshot.PublicAddr != nil {
		return snapshot.PublicAddr
	}
	return m.mux.LocalAddr()
}

func remainingSeconds(deadline time.Time) int {
	remaining := int(time.Until(deadline).Round(time.Second) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
