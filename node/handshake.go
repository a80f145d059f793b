package node

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/torpydo/torpydo/tpdp"
)

const maxHostnameLen = 255

// writeGrace is the extra time allowed to write a single error byte once
// the handshake itself has already failed or timed out. Without it, a
// write on an already-expired deadline fails silently and the peer never
// sees the error code at all — just the connection closing.
const writeGrace = 5 * time.Second

// acceptHandshake runs the server side of a TPDP/0.1 handshake (spec.md
// §4.1 steps 1-14) on conn and, on success, dials the negotiated
// destination. A failed or timed-out read, an invalid value from the
// source, or a failed destination dial writes the matching single-byte
// error code to conn before returning; local failures (key generation,
// cipher setup, a failed write) return without one.
func (n *Node) acceptHandshake(conn net.Conn) (*tpdp.CipherPair, net.Conn, tpdp.NodeEndpoint, error) {
	deadline := time.Now().Add(n.handshakeTimeout)
	_ = conn.SetDeadline(deadline)

	if err := tpdp.ReadHello(conn); err != nil {
		n.abortHandshake(conn, err)
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("read hello: %w", err)
	}
	if err := tpdp.WriteHello(conn); err != nil {
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("write hello: %w", err)
	}

	priv, pub, err := tpdp.GenerateKeyPair()
	if err != nil {
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("generate key pair: %w", err)
	}

	var peerPub [32]byte
	if _, err := io.ReadFull(conn, peerPub[:]); err != nil {
		n.abortHandshake(conn, err)
		clear(priv[:])
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("read client public key: %w", err)
	}
	if _, err := conn.Write(pub[:]); err != nil {
		clear(priv[:])
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("write public key: %w", err)
	}

	key, err := tpdp.SharedSecret(priv, peerPub)
	clear(priv[:])
	if err != nil {
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("derive shared secret: %w", err)
	}

	var nonce [16]byte
	if _, err := io.ReadFull(conn, nonce[:]); err != nil {
		n.abortHandshake(conn, err)
		clear(key[:])
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("read nonce: %w", err)
	}

	hop, err := tpdp.NewCipherPair(tpdp.HopKey{Key: key, Nonce: nonce})
	clear(key[:])
	if err != nil {
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("init cipher pair: %w", err)
	}

	if err := tpdp.WriteAck(conn); err != nil {
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("write ack: %w", err)
	}

	hostLen, err := n.readDecryptedUint16(conn, hop.Decrypt)
	if err != nil {
		n.abortHandshake(conn, err)
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("read hostname length: %w", err)
	}
	if hostLen == 0 || hostLen > maxHostnameLen {
		werr := fmt.Errorf("%w: invalid hostname length %d", tpdp.ErrCodeProtocol, hostLen)
		n.abortHandshake(conn, werr)
		return nil, nil, tpdp.NodeEndpoint{}, werr
	}

	hostBuf, err := readDecrypted(conn, hop.Decrypt, int(hostLen))
	if err != nil {
		n.abortHandshake(conn, err)
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("read hostname: %w", err)
	}
	hostname := string(hostBuf)

	if err := tpdp.WriteAck(conn); err != nil {
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("write ack: %w", err)
	}

	port, err := n.readDecryptedUint16(conn, hop.Decrypt)
	if err != nil {
		n.abortHandshake(conn, err)
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("read port: %w", err)
	}

	destEndpoint := tpdp.NodeEndpoint{Host: hostname, Port: port}
	destConn, err := net.DialTimeout("tcp", net.JoinHostPort(hostname, strconv.Itoa(int(port))), n.dialTimeout)
	if err != nil {
		n.writeErrorCode(conn, tpdp.ErrCodeDestinationConnectionFail)
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("dial destination %s: %w", destEndpoint, err)
	}

	if err := tpdp.WriteETB(conn); err != nil {
		_ = destConn.Close()
		return nil, nil, tpdp.NodeEndpoint{}, fmt.Errorf("write etb: %w", err)
	}

	_ = conn.SetDeadline(time.Time{})
	return hop, destConn, destEndpoint, nil
}

// abortHandshake writes the error code matching err and lets the caller
// close conn. A read timeout yields TIMEOUT_ERROR; anything else during
// the handshake (bad hello, short read, unexpected EOF) yields
// PROTOCOL_ERROR.
func (n *Node) abortHandshake(conn net.Conn, cause error) {
	code := tpdp.ErrCodeProtocol
	var ne net.Error
	if errors.As(cause, &ne) && ne.Timeout() {
		code = tpdp.ErrCodeTimeout
	}
	n.writeErrorCode(conn, code)
}

// writeErrorCode writes a single handshake error byte, first granting the
// write its own fresh deadline. The handshake's overall deadline (set
// once in acceptHandshake) has typically just expired — on a stall or a
// slow destination dial — and writing on an already-expired deadline
// fails immediately without putting anything on the wire, leaving the
// peer to observe nothing but a closed socket instead of the error code
// spec.md §6.1/§7 require.
func (n *Node) writeErrorCode(conn net.Conn, code tpdp.ErrorCode) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeGrace))
	_ = tpdp.WriteError(conn, code)
}

func readDecrypted(conn net.Conn, dec cipher.Stream, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	dec.XORKeyStream(buf, buf)
	return buf, nil
}

func (n *Node) readDecryptedUint16(conn net.Conn, dec cipher.Stream) (uint16, error) {
	buf, err := readDecrypted(conn, dec, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}
