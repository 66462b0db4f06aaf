package handshake

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srujaniyengar/GhostLink/crypto"
)

// MaxPlaintext is the largest application message the channel will carry.
const MaxPlaintext = 16 * 1024

// aeadOverhead is the authentication tag length for both supported suites.
const aeadOverhead = 16

// counterSize prefixes every encrypted frame with its 8-byte nonce counter.
const counterSize = 8

// maxFramePayload bounds a frame read: counter + ciphertext + tag.
const maxFramePayload = counterSize + MaxPlaintext + aeadOverhead

// ErrAuthentication reports an AEAD tag failure on an inbound frame. A peer
// under our authenticated channel has sent tampered data; the session must
// be treated as compromised and terminated.
var ErrAuthentication = errors.New("frame failed authentication")

// ErrMessageTooLarge rejects oversized outbound messages.
var ErrMessageTooLarge = fmt.Errorf("message exceeds %d bytes", MaxPlaintext)

// ErrChannelClosed is returned once the underlying stream is gone.
var ErrChannelClosed = errors.New("secure channel closed")

// Channel is the encrypted framed message channel running over the reliable
// stream. Frames are length-prefixed; each carries its nonce counter and the
// AEAD ciphertext. Replayed counters are dropped silently, tampered frames
// kill the session.
type Channel struct {
	conn net.Conn

	sendMu   sync.Mutex
	sendAEAD cipher.AEAD
	sendSeq  *crypto.NonceSequence

	recvAEAD  cipher.AEAD
	recvGuard *crypto.ReplayGuard

	keys *crypto.SessionKeys

	lastRecv atomic.Int64
}

// newChannel builds the channel from negotiated material. Ownership of the
// session keys passes to the channel, which wipes them on Close.
func newChannel(conn net.Conn, suite crypto.CipherSuite, keys *crypto.SessionKeys, role Role) (*Channel, error) {
	sendAEAD, err := suite.NewAEAD(keys.Send)
	if err != nil {
		return nil, err
	}
	recvAEAD, err := suite.NewAEAD(keys.Recv)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		conn:      conn,
		sendAEAD:  sendAEAD,
		sendSeq:   crypto.NewNonceSequence(role.sendTag()),
		recvAEAD:  recvAEAD,
		recvGuard: crypto.NewReplayGuard(role.recvTag()),
		keys:      keys,
	}
	c.lastRecv.Store(time.Now().UnixNano())
	return c, nil
}

// Send encrypts and writes one application message.
func (c *Channel) Send(plaintext []byte) error {
	if len(plaintext) == 0 {
		return errors.New("empty message")
	}
	return c.seal(plaintext)
}

// Heartbeat writes an encrypted zero-length frame to keep the link (and its
// NAT mapping) alive. Receivers consume it silently.
func (c *Channel) Heartbeat() error {
	return c.heartbeat()
}

func (c *Channel) heartbeat() error {
	return c.seal(nil)
}

// seal encrypts plaintext under the next send nonce and writes the frame:
// [len u32][counter u64][ciphertext||tag].
func (c *Channel) seal(plaintext []byte) error {
	if len(plaintext) > MaxPlaintext {
		return ErrMessageTooLarge
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, counter, err := c.sendSeq.Next()
	if err != nil {
		return err
	}

	ciphertext := c.sendAEAD.Seal(nil, nonce[:], plaintext, nil)

	payload := make([]byte, counterSize+len(ciphertext))
	binary.BigEndian.PutUint64(payload[:counterSize], counter)
	copy(payload[counterSize:], ciphertext)

	if err := writeFrame(c.conn, payload); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Recv blocks for the next application message. Heartbeats and replays are
// consumed internally; an authentication failure surfaces as
// ErrAuthentication and no plaintext ever escapes a bad frame.
func (c *Channel) Recv() ([]byte, error) {
	for {
		payload, err := readFrame(c.conn, maxFramePayload)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil, ErrChannelClosed
			}
			return nil, err
		}
		if len(payload) < counterSize+aeadOverhead {
			return nil, fmt.Errorf("%w: frame too short", ErrAuthentication)
		}

		counter := binary.BigEndian.Uint64(payload[:counterSize])
		nonce, err := c.recvGuard.Accept(counter)
		if err != nil {
			// Replayed counter: drop silently, session stays up.
			logrus.WithFields(logrus.Fields{
				"function": "Channel.Recv",
				"counter":  counter,
			}).Warn("Dropping replayed frame")
			continue
		}

		plaintext, err := c.recvAEAD.Open(nil, nonce[:], payload[counterSize:], nil)
		if err != nil {
			return nil, ErrAuthentication
		}

		c.lastRecv.Store(time.Now().UnixNano())

		if len(plaintext) == 0 {
			// Heartbeat or the handshake Confirm; nothing to deliver.
			continue
		}
		return plaintext, nil
	}
}

// expectConfirm validates the initiator's Confirm frame: counter 0 carrying
// an authenticated empty payload.
func (c *Channel) expectConfirm() error {
	payload, err := readFrame(c.conn, maxFramePayload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadConfirm, err)
	}
	if len(payload) < counterSize+aeadOverhead {
		return ErrBadConfirm
	}

	counter := binary.BigEndian.Uint64(payload[:counterSize])
	nonce, err := c.recvGuard.Accept(counter)
	if err != nil {
		return ErrBadConfirm
	}

	plaintext, err := c.recvAEAD.Open(nil, nonce[:], payload[counterSize:], nil)
	if err != nil || len(plaintext) != 0 {
		return ErrBadConfirm
	}

	c.lastRecv.Store(time.Now().UnixNano())
	return nil
}

// LastRecv reports when the peer was last heard from, heartbeats included.
func (c *Channel) LastRecv() time.Time {
	return time.Unix(0, c.lastRecv.Load())
}

// Close wipes the session keys. The underlying stream is closed by its
// owner, not the channel.
func (c *Channel) Close() {
	c.keys.Wipe()
}
