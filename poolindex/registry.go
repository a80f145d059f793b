package poolindex

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/torpydo/torpydo/tpdp"
)

// ErrTokenMismatch is returned by register when endpoint is already held
// by an entry whose token does not match the one presented.
var ErrTokenMismatch = errors.New("endpoint already registered under a different token")

// entry is one registered node's bookkeeping: when it last heartbeat,
// the delay it was granted, and the token it must present to renew.
type entry struct {
	endpoint     tpdp.NodeEndpoint
	token        string
	grantedDelay time.Duration
	lastSeen     time.Time
}

// registry is the in-memory node pool, guarded by a single mutex. It is
// intentionally process-local and unpersisted: a PoolIndex restart is
// equivalent to every node's entry aging out and re-registering on its
// next heartbeat.
type registry struct {
	mu      sync.Mutex
	entries map[tpdp.NodeEndpoint]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[tpdp.NodeEndpoint]*entry)}
}

// register inserts endpoint's entry on first sight, minting a fresh
// token for it, or refreshes an existing entry when token matches the
// one it was issued. A mismatched token is rejected with
// ErrTokenMismatch rather than silently honored: a well-behaved node
// caches the token it was granted and presents it on every subsequent
// heartbeat, so only that node can keep the entry alive; an endpoint
// with no entry is accepted whatever token is presented. This is
// trust-on-first-use, not authentication (spec.md §6.3 requires none):
// a PoolIndex restart clears the map, so the first registration after a
// restart always succeeds regardless of the token presented.
func (r *registry) register(endpoint tpdp.NodeEndpoint, token string, grantedDelay time.Duration) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[endpoint]
	if !ok {
		e = &entry{endpoint: endpoint, token: uuid.NewString()}
		r.entries[endpoint] = e
	} else if e.token != token {
		return nil, ErrTokenMismatch
	}
	e.grantedDelay = grantedDelay
	e.lastSeen = time.Now()
	return e, nil
}

// list returns every endpoint not yet past its deprecation delay.
func (r *registry) list(deprecationDelay time.Duration) []tpdp.NodeEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]tpdp.NodeEndpoint, 0, len(r.entries))
	cutoff := time.Now().Add(-deprecationDelay)
	for ep, e := range r.entries {
		if e.lastSeen.After(cutoff) {
			out = append(out, ep)
		}
	}
	return out
}

// gc removes entries whose last heartbeat is older than deprecationDelay.
// Returns the number removed.
func (r *registry) gc(deprecationDelay time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-deprecationDelay)
	removed := 0
	for ep, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			delete(r.entries, ep)
			removed++
		}
	}
	return removed
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
