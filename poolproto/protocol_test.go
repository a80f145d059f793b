package poolproto

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/torpydo/torpydo/tpdp"
)

func TestRequestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := RegisterRequest{
		Endpoint:       tpdp.NodeEndpoint{Host: "10.0.0.1", Port: 9001},
		RequestedDelay: 30,
	}
	if err := WriteRequest(&buf, OpRegister, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	op, payload, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	if op != OpRegister {
		t.Fatalf("got opcode %v, want OpRegister", op)
	}
	var got RegisterRequest
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != req {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	resp := RegisterResponse{GrantedDelay: 45, Token: "abc"}
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("write response: %v", err)
	}

	var got RegisterResponse
	if err := ReadResponse(&buf, &got); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if got != resp {
		t.Fatalf("got %+v, want %+v", got, resp)
	}
}

func TestErrorResponseSurfacesMessage(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteErrorResponse(&buf, "missing endpoint"); err != nil {
		t.Fatalf("write error response: %v", err)
	}

	err := ReadResponse(&buf, &RegisterResponse{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestListResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	resp := ListResponse{Entries: []tpdp.NodeEndpoint{
		{Host: "10.0.0.1", Port: 1},
		{Host: "10.0.0.2", Port: 2},
	}}
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("write response: %v", err)
	}

	var got ListResponse
	if err := ReadResponse(&buf, &got); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(got.Entries))
	}
}
