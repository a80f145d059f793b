package tpdp

import (
	"bytes"
	"errors"
	"testing"
)

func TestHelloRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHello(&buf); err != nil {
		t.Fatalf("WriteHello: %v", err)
	}
	if err := ReadHello(&buf); err != nil {
		t.Fatalf("ReadHello: %v", err)
	}
}

func TestReadHelloRejectsGarbage(t *testing.T) {
	buf := bytes.NewBufferString("not a valid hello!")
	err := ReadHello(buf)
	if !errors.Is(err, ErrCodeProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestParseOutcomeETB(t *testing.T) {
	second := byte(0x17)
	err := ParseOutcome(0x17, func() (byte, error) { return second, nil })
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestParseOutcomeErrorCode(t *testing.T) {
	err := ParseOutcome(byte(ErrCodeDestinationConnectionFail), func() (byte, error) {
		t.Fatal("readNext should not be called for an error byte")
		return 0, nil
	})
	if !errors.Is(err, ErrCodeDestinationConnectionFail) {
		t.Fatalf("expected destination connection error, got %v", err)
	}
}

func TestIsAck(t *testing.T) {
	if !IsAck([]byte{0x06, 0x06}) {
		t.Fatal("expected ack bytes to be recognized")
	}
	if IsAck([]byte{0x06, 0x07}) {
		t.Fatal("did not expect mismatched bytes to be recognized as ack")
	}
}
