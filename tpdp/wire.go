package tpdp

import (
	"fmt"
	"io"
)

// HelloMessage is the literal 16-byte greeting exchanged at the start of
// every TPDP/0.1 handshake.
const HelloMessage = "Hello TPDP/0.1\r\n"

var (
	ackBytes = [2]byte{0x06, 0x06}
	etbBytes = [2]byte{0x17, 0x17}
)

// ErrorCode is a single-byte handshake failure code. A node that cannot
// continue the handshake writes the code and closes the connection
// immediately — no further bytes follow.
type ErrorCode byte

const (
	ErrCodeTimeout                   ErrorCode = 0x00
	ErrCodeProtocol                  ErrorCode = 0x01
	ErrCodeDestinationConnectionFail ErrorCode = 0x02
)

func (c ErrorCode) Error() string {
	switch c {
	case ErrCodeTimeout:
		return "TIMEOUT_ERROR"
	case ErrCodeProtocol:
		return "PROTOCOL_ERROR"
	case ErrCodeDestinationConnectionFail:
		return "DESTINATION_CONNECTION_ERROR"
	default:
		return fmt.Sprintf("unknown TPDP error code 0x%02x", byte(c))
	}
}

// WriteHello writes the literal TPDP/0.1 hello greeting.
func WriteHello(w io.Writer) error {
	_, err := w.Write([]byte(HelloMessage))
	return err
}

// ReadHello reads 16 bytes and verifies they match the TPDP/0.1 greeting.
func ReadHello(r io.Reader) error {
	var buf [len(HelloMessage)]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if string(buf[:]) != HelloMessage {
		return fmt.Errorf("%w: unrecognized hello greeting", ErrCodeProtocol)
	}
	return nil
}

// WriteAck writes the 2-byte ACK, sent in the clear per §6.1.
func WriteAck(w io.Writer) error {
	_, err := w.Write(ackBytes[:])
	return err
}

// WriteETB writes the 2-byte end-of-transmission-block marker that closes
// out a successful destination negotiation.
func WriteETB(w io.Writer) error {
	_, err := w.Write(etbBytes[:])
	return err
}

// WriteError writes a single error byte and leaves closing the connection
// to the caller.
func WriteError(w io.Writer, code ErrorCode) error {
	_, err := w.Write([]byte{byte(code)})
	return err
}

// IsAck reports whether buf holds exactly the 2-byte ACK sequence.
func IsAck(buf []byte) bool {
	return len(buf) == 2 && buf[0] == ackBytes[0] && buf[1] == ackBytes[1]
}

// ParseOutcome interprets the bytes a node sends after a destination
// announcement: either the two-byte ETB on success, or a single error
// byte followed by connection close. first is the byte already read;
// readNext is called at most once, to pull the second ETB byte when
// first looks like the start of one.
func ParseOutcome(first byte, readNext func() (byte, error)) error {
	switch ErrorCode(first) {
	case ErrCodeTimeout, ErrCodeProtocol, ErrCodeDestinationConnectionFail:
		return ErrorCode(first)
	}
	if first != etbBytes[0] {
		return fmt.Errorf("%w: unrecognized outcome byte 0x%02x", ErrCodeProtocol, first)
	}
	second, err := readNext()
	if err != nil {
		return fmt.Errorf("read etb: %w", err)
	}
	if second != etbBytes[1] {
		return fmt.Errorf("%w: malformed ETB", ErrCodeProtocol)
	}
	return nil
}
