// Package handshake implements the authenticated key exchange that runs over
// the reliable stream, and the encrypted framed channel that carries
// application messages afterwards.
//
// The handshake is three frames: Hello (initiator), HelloAck (responder),
// Confirm (initiator, the first AEAD frame proving key possession). Both
// sides then derive directional session keys and the shared fingerprint.
package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srujaniyengar/GhostLink/crypto"
)

// Version is the handshake protocol version carried in every Hello.
const Version = 1

// Timeout bounds the whole exchange from first Hello to validated Confirm.
const Timeout = 10 * time.Second

const (
	saltSize  = 16
	helloSize = 1 + 1 + 32 + saltSize
)

// Handshake failures. The session manager maps any of them to a single
// Disconnected event with reason "handshake failed".
var (
	ErrVersionMismatch = errors.New("unsupported handshake version")
	ErrNoCommonSuite   = errors.New("no common cipher suite")
	ErrBadConfirm      = errors.New("confirm frame failed authentication")
)

// Role distinguishes the two ends of the exchange. The initiator speaks
// first and owns nonce direction tag 0x00000001.
type Role uint8

const (
	RoleInitiator Role = iota
	RoleResponder
)

// String names the role for logs.
func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// sendTag returns the nonce direction tag this role writes with.
func (r Role) sendTag() uint32 {
	if r == RoleInitiator {
		return crypto.RoleTagInitiator
	}
	return crypto.RoleTagResponder
}

// recvTag returns the peer's direction tag.
func (r Role) recvTag() uint32 {
	if r == RoleInitiator {
		return crypto.RoleTagResponder
	}
	return crypto.RoleTagInitiator
}

// Result is a completed handshake: the open channel plus the fingerprint to
// display for out-of-band verification.
type Result struct {
	Channel     *Channel
	Suite       crypto.CipherSuite
	Fingerprint string
}

// Run executes the handshake in the given role over an established reliable
// stream. The stream deadline is held for the duration and cleared on
// success; any failure leaves the stream for the caller to tear down.
func Run(conn net.Conn, role Role, suites crypto.CipherSuite) (*Result, error) {
	if err := conn.SetDeadline(time.Now().Add(Timeout)); err != nil {
		return nil, fmt.Errorf("failed to arm handshake deadline: %w", err)
	}

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer keys.Wipe()

	var result *Result
	if role == RoleInitiator {
		result, err = runInitiator(conn, keys, suites)
	} else {
		result, err = runResponder(conn, keys, suites)
	}
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		result.Channel.Close()
		return nil, fmt.Errorf("failed to clear stream deadline: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "handshake.Run",
		"role":        role.String(),
		"suite":       result.Suite.String(),
		"fingerprint": result.Fingerprint,
	}).Info("Handshake complete")

	return result, nil
}

// hello is the decoded form of both Hello and HelloAck: one suite byte (a
// bitmask outbound, a single choice inbound), an ephemeral public key, and a
// nonce salt contributed to key derivation.
type hello struct {
	version   uint8
	suiteByte uint8
	public    [32]byte
	salt      [saltSize]byte
}

func (h *hello) encode() []byte {
	buf := make([]byte, helloSize)
	buf[0] = h.version
	buf[1] = h.suiteByte
	copy(buf[2:34], h.public[:])
	copy(buf[34:], h.salt[:])
	return buf
}

func parseHello(payload []byte) (*hello, error) {
	if len(payload) != helloSize {
		return nil, fmt.Errorf("hello frame is %d bytes, want %d", len(payload), helloSize)
	}
	h := &hello{version: payload[0], suiteByte: payload[1]}
	copy(h.public[:], payload[2:34])
	copy(h.salt[:], payload[34:])
	if h.version != Version {
		return nil, fmt.Errorf("%w: got %d", ErrVersionMismatch, h.version)
	}
	return h, nil
}

func newHello(suiteByte uint8, public [32]byte) (*hello, error) {
	h := &hello{version: Version, suiteByte: suiteByte, public: public}
	if _, err := rand.Read(h.salt[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce salt: %w", err)
	}
	return h, nil
}

// runInitiator sends Hello, consumes HelloAck, and proves key possession
// with the Confirm frame.
func runInitiator(conn net.Conn, keys *crypto.KeyPair, suites crypto.CipherSuite) (*Result, error) {
	ours, err := newHello(uint8(suites), keys.Public)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, ours.encode()); err != nil {
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}

	payload, err := readFrame(conn, helloSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read hello ack: %w", err)
	}
	ack, err := parseHello(payload)
	if err != nil {
		return nil, err
	}

	chosen := crypto.CipherSuite(ack.suiteByte)
	if err := crypto.ValidateSuite(chosen); err != nil {
		return nil, fmt.Errorf("%w: responder chose 0x%02x", ErrNoCommonSuite, ack.suiteByte)
	}
	if suites&chosen == 0 {
		// A suite outside our advertised bitmask is a malformed reply.
		return nil, fmt.Errorf("%w: responder chose unadvertised %s", ErrNoCommonSuite, chosen)
	}

	channel, fingerprint, err := buildChannel(conn, RoleInitiator, keys, ack.public, chosen, ours.salt, ack.salt)
	if err != nil {
		return nil, err
	}

	if err := channel.heartbeat(); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to send confirm: %w", err)
	}

	return &Result{Channel: channel, Suite: chosen, Fingerprint: fingerprint}, nil
}

// runResponder consumes Hello, answers with HelloAck, and validates the
// Confirm frame before reporting success.
func runResponder(conn net.Conn, keys *crypto.KeyPair, suites crypto.CipherSuite) (*Result, error) {
	payload, err := readFrame(conn, helloSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read hello: %w", err)
	}
	offer, err := parseHello(payload)
	if err != nil {
		return nil, err
	}

	chosen, err := crypto.NegotiateSuite(suites, crypto.CipherSuite(offer.suiteByte))
	if err != nil {
		return nil, fmt.Errorf("%w: offered 0x%02x", ErrNoCommonSuite, offer.suiteByte)
	}

	ours, err := newHello(uint8(chosen), keys.Public)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, ours.encode()); err != nil {
		return nil, fmt.Errorf("failed to send hello ack: %w", err)
	}

	channel, fingerprint, err := buildChannel(conn, RoleResponder, keys, offer.public, chosen, offer.salt, ours.salt)
	if err != nil {
		return nil, err
	}

	// The Confirm is the initiator's first AEAD frame; a failed tag here
	// means the peer does not hold the derived key.
	if err := channel.expectConfirm(); err != nil {
		channel.Close()
		return nil, err
	}

	return &Result{Channel: channel, Suite: chosen, Fingerprint: fingerprint}, nil
}

// buildChannel derives the session keys and opens the framed channel. The
// HKDF salt is the initiator's salt followed by the responder's, identical
// on both sides.
func buildChannel(conn net.Conn, role Role, keys *crypto.KeyPair, peerPublic [32]byte,
	suite crypto.CipherSuite, initiatorSalt, responderSalt [saltSize]byte,
) (*Channel, string, error) {
	salt := make([]byte, 0, 2*saltSize)
	salt = append(salt, initiatorSalt[:]...)
	salt = append(salt, responderSalt[:]...)

	sessionKeys, err := crypto.DeriveSessionKeys(keys.Private, keys.Public, peerPublic, salt)
	if err != nil {
		return nil, "", err
	}

	channel, err := newChannel(conn, suite, sessionKeys, role)
	if err != nil {
		sessionKeys.Wipe()
		return nil, "", err
	}

	return channel, crypto.Fingerprint(keys.Public, peerPublic), nil
}

// writeFrame emits one length-prefixed frame.
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame, rejecting anything longer than
// maxLen.
func readFrame(r io.Reader, maxLen int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if int(length) > maxLen {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", length, maxLen)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
