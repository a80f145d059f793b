// Package poolindex implements the TPDP PoolIndex: a rendezvous service
// that nodes heartbeat into and clients query for candidate relay
// endpoints. It speaks the poolproto wire protocol over plain TCP,
// grounded in the teacher's directory package (directory/cache.go) for
// the overall shape of a fetch-and-cache registry, generalized here to
// an in-memory, actively-heartbeat-refreshed registry instead of a
// fetched consensus document.
package poolindex

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/torpydo/torpydo/poolproto"
	"github.com/torpydo/torpydo/tpdp"
)

const (
	defaultDeprecationDelay = 5 * time.Minute
	defaultGCCycle          = 30 * time.Second
	defaultRequestedDelay   = 10 * time.Second
)

// PoolIndex serves node registration/heartbeat and client list requests.
type PoolIndex struct {
	mu sync.Mutex

	endpoint tpdp.NodeEndpoint
	logger   *slog.Logger
	level    *slog.LevelVar

	deprecationDelay time.Duration
	gcCycle          time.Duration
	requestedDelay   time.Duration

	reg *registry
	ln  net.Listener
}

// New constructs a PoolIndex bound to host:port. It does not start
// listening until Start is called.
func New(host string, port uint16) *PoolIndex {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	return &PoolIndex{
		endpoint:         tpdp.NodeEndpoint{Host: host, Port: port},
		level:            level,
		logger:           slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})),
		deprecationDelay: defaultDeprecationDelay,
		gcCycle:          defaultGCCycle,
		requestedDelay:   defaultRequestedDelay,
		reg:              newRegistry(),
	}
}

// SetLogger overrides the default logger. Safe to call before Start.
func (p *PoolIndex) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// SetLog toggles verbose logging (§9.3 set_log). It sets the level of the
// default logger only; a logger installed with SetLogger keeps its own
// level.
func (p *PoolIndex) SetLog(enabled bool) {
	if enabled {
		p.level.Set(slog.LevelInfo)
		return
	}
	p.level.Set(slog.LevelWarn)
}

// SetRequestedDelay sets the floor applied to every node's requested
// heartbeat interval before it is granted (§9.3 set_requested_delay): a
// node asking for less than this is granted this instead.
func (p *PoolIndex) SetRequestedDelay(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestedDelay = time.Duration(seconds * float64(time.Second))
}

// SetDeprecationDelay sets how long an entry may go without a heartbeat
// before the garbage collector removes it (§6.4, §9.3).
func (p *PoolIndex) SetDeprecationDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deprecationDelay = d
}

// SetGarbageCollectorCycle sets how often the GC sweep runs. A cycle
// longer than the deprecation delay just means stale entries linger
// for up to one extra cycle before being swept; callers that need tight
// pruning should keep the cycle at or below the delay.
func (p *PoolIndex) SetGarbageCollectorCycle(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gcCycle = d
}

// Endpoint returns the configured listen address.
func (p *PoolIndex) Endpoint() tpdp.NodeEndpoint {
	return p.endpoint
}

// Start listens on the PoolIndex's endpoint and serves requests until
// ctx is cancelled. It blocks until the listener is closed.
func (p *PoolIndex) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.endpoint.String())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", p.endpoint, err)
	}
	p.mu.Lock()
	p.ln = ln
	gcCycle := p.gcCycle
	p.mu.Unlock()

	p.logger.Info("pool index listening", "addr", p.endpoint.String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go p.gcLoop(ctx, gcCycle)

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
		go p.handleConn(conn)
	}
}

// Close stops the PoolIndex's listener.
func (p *PoolIndex) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return nil
	}
	return p.ln.Close()
}

func (p *PoolIndex) gcLoop(ctx context.Context, cycle time.Duration) {
	p.mu.Lock()
	delay := p.deprecationDelay
	p.mu.Unlock()

	ticker := time.NewTicker(cycle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			delay = p.deprecationDelay
			p.mu.Unlock()
			if n := p.reg.gc(delay); n > 0 {
				p.logger.Debug("garbage collected stale entries", "count", n)
			}
		}
	}
}

func (p *PoolIndex) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	op, payload, err := poolproto.ReadRequest(conn)
	if err != nil {
		p.logger.Debug("read request failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	switch op {
	case poolproto.OpRegister:
		p.handleRegister(conn, payload)
	case poolproto.OpList:
		p.handleList(conn)
	default:
		_ = poolproto.WriteErrorResponse(conn, fmt.Sprintf("unknown opcode %d", op))
	}
}

func (p *PoolIndex) handleRegister(conn net.Conn, payload []byte) {
	var req poolproto.RegisterRequest
	if err := unmarshalJSON(payload, &req); err != nil {
		_ = poolproto.WriteErrorResponse(conn, err.Error())
		return
	}
	if req.Endpoint.IsZero() {
		_ = poolproto.WriteErrorResponse(conn, "missing endpoint")
		return
	}

	p.mu.Lock()
	minDelay := p.requestedDelay
	p.mu.Unlock()

	granted := time.Duration(req.RequestedDelay * float64(time.Second))
	if granted < minDelay {
		granted = minDelay
	}

	e, err := p.reg.register(req.Endpoint, req.Token, granted)
	if err != nil {
		p.logger.Warn("rejected registration", "endpoint", req.Endpoint, "error", err)
		_ = poolproto.WriteErrorResponse(conn, err.Error())
		return
	}
	p.logger.Info("registered node", "endpoint", req.Endpoint, "grantedDelay", granted)

	resp := poolproto.RegisterResponse{
		GrantedDelay: granted.Seconds(),
		Token:        e.token,
	}
	if err := poolproto.WriteResponse(conn, resp); err != nil {
		p.logger.Debug("write register response failed", "error", err)
	}
}

func (p *PoolIndex) handleList(conn net.Conn) {
	p.mu.Lock()
	delay := p.deprecationDelay
	p.mu.Unlock()

	resp := poolproto.ListResponse{Entries: p.reg.list(delay)}
	if err := poolproto.WriteResponse(conn, resp); err != nil {
		p.logger.Debug("write list response failed", "error", err)
	}
}
