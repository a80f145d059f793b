package client

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/torpydo/torpydo/node"
	"github.com/torpydo/torpydo/tpdp"
)

func reservePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return uint16(port)
}

func startNode(t *testing.T) tpdp.NodeEndpoint {
	t.Helper()
	port := reservePort(t)
	n := node.New("127.0.0.1", port)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = n.Close() })
	go n.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	return n.Endpoint()
}

func startEchoServer(t *testing.T) tpdp.NodeEndpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen echo: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return tpdp.NodeEndpoint{Host: "127.0.0.1", Port: uint16(addr.Port)}
}

func TestConnectSingleHopEcho(t *testing.T) {
	hop := startNode(t)
	dest := startEchoServer(t)

	c := New()
	defer c.Close()

	if err := c.Connect(hop, dest); err != nil {
		t.Fatalf("connect: %v", err)
	}

	msg := []byte("hello through one hop")
	if err := c.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := c.ReceiveExactly(len(msg))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}
}

func TestConnectThreeHopEcho(t *testing.T) {
	hop1 := startNode(t)
	hop2 := startNode(t)
	hop3 := startNode(t)
	dest := startEchoServer(t)

	c := New()
	defer c.Close()

	if err := c.Connect(hop1, hop2); err != nil {
		t.Fatalf("connect hop1: %v", err)
	}
	if err := c.NextDestination(hop3); err != nil {
		t.Fatalf("extend to hop3: %v", err)
	}
	if err := c.NextDestination(dest); err != nil {
		t.Fatalf("extend to dest: %v", err)
	}
	if len(c.hops) != 3 {
		t.Fatalf("expected 3 hop keys, got %d", len(c.hops))
	}

	msg := []byte("hello through three hops")
	if err := c.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := c.ReceiveExactly(len(msg))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}
}

func TestConnectFailsOnUnreachableHop(t *testing.T) {
	c := New()
	defer c.Close()

	unreachable := tpdp.NodeEndpoint{Host: "127.0.0.1", Port: 1}
	err := c.Connect(unreachable, unreachable)
	if err == nil {
		t.Fatalf("expected error dialing unreachable hop")
	}
}

func TestNextDestinationBeforeConnectFails(t *testing.T) {
	c := New()
	defer c.Close()

	err := c.NextDestination(tpdp.NodeEndpoint{Host: "127.0.0.1", Port: 1})
	if err == nil {
		t.Fatalf("expected error extending an unconnected client")
	}
}

func TestRandomPathToDestinationUsesKnownNodes(t *testing.T) {
	hop1 := startNode(t)
	hop2 := startNode(t)
	dest := startEchoServer(t)

	c := New()
	defer c.Close()
	c.known[hop1] = struct{}{}
	c.known[hop2] = struct{}{}

	if err := c.RandomPathToDestination(dest, 2); err != nil {
		t.Fatalf("random path: %v", err)
	}
	if len(c.hops) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(c.hops))
	}

	msg := []byte("ping")
	if err := c.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := c.ReceiveExactly(len(msg))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}
}

func TestRandomPathToDestinationNotEnoughNodes(t *testing.T) {
	c := New()
	defer c.Close()

	err := c.RandomPathToDestination(tpdp.NodeEndpoint{Host: "127.0.0.1", Port: 1}, 3)
	if err == nil {
		t.Fatalf("expected error when fewer known nodes than path length")
	}
}
