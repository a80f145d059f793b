// Package poolproto implements the wire protocol spoken between a TPDP
// Node or Client and a PoolIndex: a length-prefixed JSON request/response
// framing over TCP, grounded in the teacher pack's length-prefixed
// binary framing style (cell/io.go) and its directory fetch/cache JSON
// conventions (directory/cache.go).
package poolproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/torpydo/torpydo/tpdp"
)

// Opcode identifies the PoolIndex operation a request frame carries.
type Opcode byte

const (
	OpRegister Opcode = 1
	OpList     Opcode = 2
)

// Status identifies whether a response frame carries a payload or an
// error message.
type Status byte

const (
	StatusOK    Status = 0
	StatusError Status = 1
)

const maxFrameLen = 1 << 20 // 1 MiB safety cap against a hostile/broken peer

// RegisterRequest asks the PoolIndex to (re-)register a node endpoint,
// requesting a heartbeat interval in seconds.
type RegisterRequest struct {
	Endpoint       tpdp.NodeEndpoint `json:"endpoint"`
	RequestedDelay float64           `json:"requested_delay"`
	Token          string            `json:"token,omitempty"`
}

// RegisterResponse is the PoolIndex's reply to a registration: the
// interval it actually granted, and an opaque token the node should
// present on its next heartbeat to prove it owns the entry.
type RegisterResponse struct {
	GrantedDelay float64 `json:"granted_delay"`
	Token        string  `json:"token"`
}

// ListResponse enumerates the endpoints currently believed live.
type ListResponse struct {
	Entries []tpdp.NodeEndpoint `json:"entries"`
}

func writeFrame(w io.Writer, tag byte, payload []byte) error {
	if len(payload) > maxFrameLen {
		return fmt.Errorf("frame payload too large: %d bytes", len(payload))
	}
	header := make([]byte, 5)
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (tag byte, payload []byte, err error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameLen {
		return 0, nil, fmt.Errorf("frame payload too large: %d bytes", length)
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return header[0], payload, nil
}

// WriteRequest frames and writes a request with the given opcode and
// JSON-encodable body.
func WriteRequest(w io.Writer, op Opcode, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return writeFrame(w, byte(op), payload)
}

// ReadRequest reads a request frame, returning its opcode and raw
// payload for the caller to unmarshal according to that opcode.
func ReadRequest(r io.Reader) (Opcode, []byte, error) {
	tag, payload, err := readFrame(r)
	if err != nil {
		return 0, nil, err
	}
	return Opcode(tag), payload, nil
}

// WriteResponse frames and writes a successful response body.
func WriteResponse(w io.Writer, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return writeFrame(w, byte(StatusOK), payload)
}

// WriteErrorResponse frames and writes an error message.
func WriteErrorResponse(w io.Writer, msg string) error {
	return writeFrame(w, byte(StatusError), []byte(msg))
}

// ReadResponse reads a response frame and unmarshals it into out when
// the status is OK; otherwise it returns the server's error message.
func ReadResponse(r io.Reader, out any) error {
	tag, payload, err := readFrame(r)
	if err != nil {
		return err
	}
	if Status(tag) == StatusError {
		return fmt.Errorf("pool index error: %s", payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

const dialTimeout = 10 * time.Second

// Register is the client-side call that registers/heartbeats an
// endpoint with the PoolIndex at poolIndex. token should be the empty
// string on a node's first registration and the Token from the
// previous RegisterResponse on every heartbeat after that, so the
// PoolIndex can recognize repeat registrations from the same node
// (see poolindex's registry.register).
func Register(poolIndex, endpoint tpdp.NodeEndpoint, requestedDelay float64, token string) (*RegisterResponse, error) {
	conn, err := net.DialTimeout("tcp", poolIndex.String(), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial pool index %s: %w", poolIndex, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	req := RegisterRequest{Endpoint: endpoint, RequestedDelay: requestedDelay, Token: token}
	if err := WriteRequest(conn, OpRegister, req); err != nil {
		return nil, err
	}
	var resp RegisterResponse
	if err := ReadResponse(conn, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List is the client-side call that fetches the current live-node list
// from the PoolIndex at poolIndex.
func List(poolIndex tpdp.NodeEndpoint) ([]tpdp.NodeEndpoint, error) {
	conn, err := net.DialTimeout("tcp", poolIndex.String(), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial pool index %s: %w", poolIndex, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	if err := WriteRequest(conn, OpList, struct{}{}); err != nil {
		return nil, err
	}
	var resp ListResponse
	if err := ReadResponse(conn, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
