package client

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/torpydo/torpydo/tpdp"
)

const maxHostnameLen = 255

// handshakeNewHop runs the client side of a TPDP/0.1 handshake (spec.md
// §4.1 steps 1-9) against the node most recently reached, tunneling
// every byte through the hops already established. For the first hop
// (len(c.hops) == 0) nothing is tunneled: the bytes go straight to the
// freshly dialed connection.
func (c *Client) handshakeNewHop() (*tpdp.CipherPair, error) {
	if err := c.tunnelWriteHello(); err != nil {
		return nil, fmt.Errorf("write hello: %w", err)
	}
	if err := c.tunnelReadHello(); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}

	priv, pub, err := tpdp.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	if err := c.wrapWrite(nil, pub[:]); err != nil {
		clear(priv[:])
		return nil, fmt.Errorf("write public key: %w", err)
	}

	peerPub, err := c.unwrapRead(32)
	if err != nil {
		clear(priv[:])
		return nil, fmt.Errorf("read peer public key: %w", err)
	}

	key, err := tpdp.SharedSecret(priv, [32]byte(peerPub))
	clear(priv[:])
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}

	nonce, err := tpdp.GenerateNonce()
	if err != nil {
		clear(key[:])
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	if err := c.wrapWrite(nil, nonce[:]); err != nil {
		clear(key[:])
		return nil, fmt.Errorf("write nonce: %w", err)
	}

	cp, err := tpdp.NewCipherPair(tpdp.HopKey{Key: key, Nonce: nonce})
	clear(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher pair: %w", err)
	}

	if err := c.tunnelReadAck(); err != nil {
		return nil, fmt.Errorf("read ack: %w", err)
	}

	return cp, nil
}

// announceDestination runs steps 10-14: it tells the just-handshaked
// hop (cp, not yet appended to c.hops) the destination it should
// connect onward to, then waits for ETB or an error code.
func (c *Client) announceDestination(cp *tpdp.CipherPair, dest tpdp.NodeEndpoint) error {
	if len(dest.Host) == 0 || len(dest.Host) > maxHostnameLen {
		return fmt.Errorf("invalid destination hostname %q", dest.Host)
	}

	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(dest.Host)))
	if err := c.wrapWrite(cp, lenBuf); err != nil {
		return fmt.Errorf("write hostname length: %w", err)
	}
	if err := c.wrapWrite(cp, []byte(dest.Host)); err != nil {
		return fmt.Errorf("write hostname: %w", err)
	}

	if err := c.tunnelReadAck(); err != nil {
		return fmt.Errorf("read ack after hostname: %w", err)
	}

	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, dest.Port)
	if err := c.wrapWrite(cp, portBuf); err != nil {
		return fmt.Errorf("write port: %w", err)
	}

	return c.tunnelReadOutcome()
}

// tunnelWriteHello writes the plaintext hello bytes, encrypted through
// every established hop in reverse order (outermost hop's cipher
// applied last, so the first hop's cipher peels off first).
func (c *Client) tunnelWriteHello() error {
	return c.wrapWrite(nil, []byte(tpdp.HelloMessage))
}

func (c *Client) tunnelReadHello() error {
	got, err := c.unwrapRead(len(tpdp.HelloMessage))
	if err != nil {
		return err
	}
	if string(got) != tpdp.HelloMessage {
		return fmt.Errorf("%w: unexpected hello bytes", tpdp.ErrCodeProtocol)
	}
	return nil
}

func (c *Client) tunnelReadAck() error {
	got, err := c.unwrapRead(2)
	if err != nil {
		return err
	}
	if !tpdp.IsAck(got) {
		return fmt.Errorf("%w: expected ack, got %x", tpdp.ErrCodeProtocol, got)
	}
	return nil
}

// tunnelReadOutcome reads the final ACK/ETB/error byte sequence for a
// destination announcement, unwrapping through every established hop.
func (c *Client) tunnelReadOutcome() error {
	first, err := c.unwrapRead(1)
	if err != nil {
		return err
	}
	return tpdp.ParseOutcome(first[0], func() (byte, error) {
		b, err := c.unwrapRead(1)
		if err != nil {
			return 0, err
		}
		return b[0], nil
	})
}

// wrapWrite encrypts data through every established hop, outermost
// last, and optionally through newHop's own Encrypt cipher as the
// innermost layer before that (used while a hop's handshake/destination
// exchange is still in flight, before it's appended to c.hops). It then
// writes the result to the underlying connection.
func (c *Client) wrapWrite(newHop *tpdp.CipherPair, data []byte) error {
	buf := append([]byte(nil), data...)
	if newHop != nil {
		newHop.Encrypt.XORKeyStream(buf, buf)
	}
	for i := len(c.hops) - 1; i >= 0; i-- {
		c.hops[i].Encrypt.XORKeyStream(buf, buf)
	}
	_, err := c.conn.Write(buf)
	return err
}

// unwrapRead reads exactly n bytes from the underlying connection and
// decrypts through every established hop, outermost (first hop) first.
// It never applies a not-yet-established hop's cipher: a hop's own
// ACK/ETB/error replies during its handshake are sent in the clear with
// respect to that hop's own cipher (spec.md §6.1), so the newest hop
// being handshaked is excluded here by construction — only hops already
// appended to c.hops are unwrapped.
func (c *Client) unwrapRead(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, err
	}
	for _, hop := range c.hops {
		hop.Decrypt.XORKeyStream(buf, buf)
	}
	return buf, nil
}
