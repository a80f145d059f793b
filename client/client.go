// Package client implements the TPDP Client: it builds a path of one or
// more TPDP nodes, one hop at a time, tunneling each subsequent
// handshake through the hops already established, and then exchanges
// application bytes with whatever destination the final hop connected
// to.
package client

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"sync"
	"time"

	"github.com/torpydo/torpydo/poolproto"
	"github.com/torpydo/torpydo/tpdp"
)

const defaultDialTimeout = 10 * time.Second

// ErrPathBuild wraps any failure encountered while extending the path
// by one hop, whether at the network, handshake, or destination level.
var ErrPathBuild = errors.New("path build failed")

// Client holds one TPDP path under construction or in use. It is not
// safe to share a Client across concurrent Connect/NextDestination/Send
// calls; Close may be called from any goroutine to unblock a pending
// Receive.
type Client struct {
	mu sync.Mutex

	logger *slog.Logger

	dialTimeout time.Duration

	conn          net.Conn
	hops          []*tpdp.CipherPair
	lastAnnounced tpdp.NodeEndpoint

	knownMu sync.Mutex
	known   map[tpdp.NodeEndpoint]struct{}
}

// New constructs an unconnected Client.
func New() *Client {
	return &Client{
		logger:      slog.New(slog.NewTextHandler(os.Stdout, nil)),
		dialTimeout: defaultDialTimeout,
		known:       make(map[tpdp.NodeEndpoint]struct{}),
	}
}

// SetLogger overrides the default logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// SyncNodesList fetches the current node list from the PoolIndex at
// host:port and merges it into the client's known-nodes set (§5.2
// sync_nodes_list).
func (c *Client) SyncNodesList(host string, port uint16) error {
	entries, err := poolproto.List(tpdp.NodeEndpoint{Host: host, Port: port})
	if err != nil {
		return fmt.Errorf("sync nodes list: %w", err)
	}
	c.knownMu.Lock()
	defer c.knownMu.Unlock()
	for _, e := range entries {
		c.known[e] = struct{}{}
	}
	return nil
}

// PurgeNodesList discards every previously synced node (§5.2
// purge_nodes_list).
func (c *Client) PurgeNodesList() {
	c.knownMu.Lock()
	defer c.knownMu.Unlock()
	c.known = make(map[tpdp.NodeEndpoint]struct{})
}

func (c *Client) knownNodes() []tpdp.NodeEndpoint {
	c.knownMu.Lock()
	defer c.knownMu.Unlock()
	out := make([]tpdp.NodeEndpoint, 0, len(c.known))
	for e := range c.known {
		out = append(out, e)
	}
	return out
}

// Connect dials hop directly and performs the TPDP handshake with it,
// announcing dest as the destination it should connect onward to. It
// must be the first call made against a fresh Client.
func (c *Client) Connect(hop, dest tpdp.NodeEndpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("%w: client already connected", ErrPathBuild)
	}

	conn, err := net.DialTimeout("tcp", hop.String(), c.dialTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrPathBuild, hop, err)
	}
	c.conn = conn

	cp, err := c.handshakeNewHop()
	if err != nil {
		_ = conn.Close()
		c.conn = nil
		return fmt.Errorf("%w: handshake with %s: %v", ErrPathBuild, hop, err)
	}
	if err := c.announceDestination(cp, dest); err != nil {
		_ = conn.Close()
		c.conn = nil
		return fmt.Errorf("%w: announce destination to %s: %v", ErrPathBuild, hop, err)
	}

	c.hops = append(c.hops, cp)
	c.lastAnnounced = dest
	c.logger.Info("connected", "hop", hop, "destination", dest, "pathLen", len(c.hops))
	return nil
}

// NextDestination tunnels a new handshake through every hop already
// established, reaching the node most recently announced as a
// destination, and announces dest as that node's next destination. It
// extends the path by exactly one hop.
func (c *Client) NextDestination(dest tpdp.NodeEndpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || len(c.hops) == 0 {
		return fmt.Errorf("%w: no established hop to extend from", ErrPathBuild)
	}

	cp, err := c.handshakeNewHop()
	if err != nil {
		return fmt.Errorf("%w: handshake with %s: %v", ErrPathBuild, c.lastAnnounced, err)
	}
	if err := c.announceDestination(cp, dest); err != nil {
		return fmt.Errorf("%w: announce destination to %s: %v", ErrPathBuild, c.lastAnnounced, err)
	}

	c.hops = append(c.hops, cp)
	c.lastAnnounced = dest
	c.logger.Info("extended path", "via", c.hops[len(c.hops)-2], "destination", dest, "pathLen", len(c.hops))
	return nil
}

// RandomPathToDestination builds an n-hop path out of the client's
// known nodes, chosen uniformly at random without replacement, with
// dest as the final destination reached by the last hop (§5.2
// random_path_to_destination).
func (c *Client) RandomPathToDestination(dest tpdp.NodeEndpoint, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: path length must be positive", ErrPathBuild)
	}
	candidates := c.knownNodes()
	if len(candidates) < n {
		return fmt.Errorf("%w: need %d known nodes, have %d", ErrPathBuild, n, len(candidates))
	}

	chosen, err := chooseDistinct(candidates, n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathBuild, err)
	}

	for i, hop := range chosen {
		next := dest
		if i < len(chosen)-1 {
			next = chosen[i+1]
		}
		if i == 0 {
			if err := c.Connect(hop, next); err != nil {
				return err
			}
			continue
		}
		if err := c.NextDestination(next); err != nil {
			return err
		}
	}
	return nil
}

// chooseDistinct picks k distinct entries from pool uniformly at
// random without replacement, via crypto/rand (mirrors pathselect's
// crypto/rand+math/big uniform-selection idiom, generalized here from
// weighted to unweighted selection since TPDP nodes carry no bandwidth
// weight).
func chooseDistinct(pool []tpdp.NodeEndpoint, k int) ([]tpdp.NodeEndpoint, error) {
	remaining := append([]tpdp.NodeEndpoint(nil), pool...)
	chosen := make([]tpdp.NodeEndpoint, 0, k)
	for i := 0; i < k; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(remaining))))
		if err != nil {
			return nil, fmt.Errorf("crypto/rand: %w", err)
		}
		n := int(idx.Int64())
		chosen = append(chosen, remaining[n])
		remaining[n] = remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]
	}
	return chosen, nil
}

// Close tears down the underlying connection, unblocking any pending
// Receive.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
