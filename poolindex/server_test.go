package poolindex

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/torpydo/torpydo/poolproto"
	"github.com/torpydo/torpydo/tpdp"
)

// startTestPoolIndex reserves an ephemeral port, then starts a PoolIndex
// bound to it so the test knows the address to dial ahead of Start.
func startTestPoolIndex(t *testing.T) *PoolIndex {
	t.Helper()
	port := reserveEphemeralPort(t)
	p := New("127.0.0.1", port)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = p.Close() })
	go p.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	return p
}

func reserveEphemeralPort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve ephemeral port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return uint16(port)
}

func TestRegisterThenList(t *testing.T) {
	p := startTestPoolIndex(t)

	node := tpdp.NodeEndpoint{Host: "127.0.0.1", Port: 9001}
	resp, err := poolproto.Register(p.endpoint, node, 5, "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.GrantedDelay < defaultRequestedDelay.Seconds() {
		t.Fatalf("granted delay %v below floor", resp.GrantedDelay)
	}
	if resp.Token == "" {
		t.Fatalf("expected non-empty token")
	}

	entries, err := poolproto.List(p.endpoint)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0] != node {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestListEmptyRegistry(t *testing.T) {
	p := startTestPoolIndex(t)

	entries, err := poolproto.List(p.endpoint)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %+v", entries)
	}
}

func TestGarbageCollectionRemovesStaleEntries(t *testing.T) {
	p := startTestPoolIndex(t)
	p.SetDeprecationDelay(10 * time.Millisecond)

	node := tpdp.NodeEndpoint{Host: "127.0.0.1", Port: 9002}
	if _, err := poolproto.Register(p.endpoint, node, 1, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.reg.size() != 1 {
		t.Fatalf("expected 1 entry before gc")
	}

	removed := p.reg.gc(0)
	if removed != 1 {
		t.Fatalf("expected gc to remove 1 stale entry, removed %d", removed)
	}
	if p.reg.size() != 0 {
		t.Fatalf("expected empty registry after gc")
	}
}

func TestRegisterRejectsZeroEndpoint(t *testing.T) {
	p := startTestPoolIndex(t)

	_, err := poolproto.Register(p.endpoint, tpdp.NodeEndpoint{}, 5, "")
	if err == nil {
		t.Fatalf("expected error registering zero-value endpoint")
	}
}

func TestRegisterTokenMismatchRejected(t *testing.T) {
	p := startTestPoolIndex(t)

	node := tpdp.NodeEndpoint{Host: "127.0.0.1", Port: 9003}
	first, err := poolproto.Register(p.endpoint, node, 5, "")
	if err != nil {
		t.Fatalf("initial register: %v", err)
	}

	if _, err := poolproto.Register(p.endpoint, node, 5, "not-"+first.Token); err == nil {
		t.Fatalf("expected error reregistering with a mismatched token")
	}

	second, err := poolproto.Register(p.endpoint, node, 5, first.Token)
	if err != nil {
		t.Fatalf("reregister with correct token: %v", err)
	}
	if second.Token != first.Token {
		t.Fatalf("token changed across a valid heartbeat: %q != %q", second.Token, first.Token)
	}
}
