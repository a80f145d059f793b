package node

import (
	"context"
	"time"

	"github.com/torpydo/torpydo/poolproto"
)

// heartbeatLoop periodically re-registers this node with its configured
// PoolIndex so the node's entry does not age past the deprecation
// delay. A failed heartbeat is logged and retried on the next tick; it
// never tears down the node (spec.md §4.1, §7: heartbeat failures are
// non-fatal).
func (n *Node) heartbeatLoop(ctx context.Context) {
	n.mu.Lock()
	poolIndex := n.poolIndex
	wait := n.heartbeatInitialWait
	n.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		n.mu.Lock()
		requestedDelay := n.requestedDelay
		endpoint := n.endpoint
		token := n.token
		n.mu.Unlock()

		resp, err := poolproto.Register(poolIndex, endpoint, requestedDelay, token)
		if err != nil {
			n.logger.Warn("heartbeat to pool index failed", "poolIndex", poolIndex, "error", err)
			wait = n.heartbeatInitialWait
			continue
		}
		n.logger.Debug("heartbeat acknowledged", "poolIndex", poolIndex, "nextDelay", resp.GrantedDelay)
		n.mu.Lock()
		n.token = resp.Token
		n.mu.Unlock()
		wait = time.Duration(resp.GrantedDelay * float64(time.Second))
	}
}
