// Package node implements the TPDP Node: a TCP listener that performs the
// server side of a TPDP/0.1 handshake with each incoming connection, then
// relays bytes bidirectionally between that connection and whatever
// destination the handshake negotiated.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/torpydo/torpydo/tpdp"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultDialTimeout      = 10 * time.Second
)

// Node listens for TPDP connections and relays each onto its negotiated
// destination. A single Node is both the TPDP/0.1 server and, for the
// duration of each session, a TCP client of whatever destination it was
// told to connect to.
type Node struct {
	mu sync.Mutex

	endpoint tpdp.NodeEndpoint
	logger   *slog.Logger
	level    *slog.LevelVar

	handshakeTimeout time.Duration
	dialTimeout      time.Duration

	poolIndex            tpdp.NodeEndpoint
	requestedDelay       float64
	heartbeatInitialWait time.Duration
	token                string

	ln net.Listener
}

// New constructs a Node bound to host:port. It does not start listening
// until Start is called.
func New(host string, port uint16) *Node {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	return &Node{
		endpoint:             tpdp.NodeEndpoint{Host: host, Port: port},
		level:                level,
		logger:               slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})),
		handshakeTimeout:     defaultHandshakeTimeout,
		dialTimeout:          defaultDialTimeout,
		requestedDelay:       30,
		heartbeatInitialWait: time.Second,
	}
}

// SetLogger overrides the default logger. Safe to call before Start.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logger = logger
}

// SetLog toggles verbose (Info-level) logging on or off; when disabled
// only Warn-and-above records are emitted. Satisfies the §6.4 set_log(flag)
// operation, resolved to a bool per spec.md §9's open question. It sets
// the level of the default logger only; a logger installed with SetLogger
// keeps its own level.
func (n *Node) SetLog(enabled bool) {
	if enabled {
		n.level.Set(slog.LevelInfo)
		return
	}
	n.level.Set(slog.LevelWarn)
}

// SetPoolIndex configures the PoolIndex this node heartbeats to. Calling
// it with a zero-value endpoint disables heartbeating.
func (n *Node) SetPoolIndex(host string, port uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.poolIndex = tpdp.NodeEndpoint{Host: host, Port: port}
}

// SetRequestedDelay sets the heartbeat interval, in seconds, this node
// asks the PoolIndex to honor for its entry (§6.4 set_requested_delay).
func (n *Node) SetRequestedDelay(seconds float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requestedDelay = seconds
}

// Endpoint returns the node's configured listen address.
func (n *Node) Endpoint() tpdp.NodeEndpoint {
	return n.endpoint
}

// Start listens on the node's endpoint and serves connections until ctx
// is cancelled. It blocks until the listener is closed.
func (n *Node) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.endpoint.String())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.endpoint, err)
	}
	n.mu.Lock()
	n.ln = ln
	poolIndex := n.poolIndex
	n.mu.Unlock()

	n.logger.Info("node listening", "addr", n.endpoint.String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	if !poolIndex.IsZero() {
		go n.heartbeatLoop(ctx)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go n.handleConn(conn)
	}
}

// Close stops the node's listener.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ln == nil {
		return nil
	}
	return n.ln.Close()
}

func (n *Node) handleConn(conn net.Conn) {
	hop, destConn, destEndpoint, err := n.acceptHandshake(conn)
	if err != nil {
		n.logger.Debug("handshake failed", "remote", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}

	n.logger.Info("session established", "remote", conn.RemoteAddr(), "destination", destEndpoint)
	sess := &session{
		source: conn,
		dest:   destConn,
		hop:    hop,
		logger: n.logger,
	}
	sess.run()
}
