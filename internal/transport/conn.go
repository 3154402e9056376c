// Package transport implements the orchestrator's two transports (spec §4.2):
// a Unix-domain-socket transport for out-of-process agents and an
// in-process transport for agents compiled into the same binary. Both
// implement Conn, so the registry, router, and executor never know which
// kind of agent they are talking to.
package transport

import (
	"context"
	"sync"

	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/wire"
)

// State is a connection's position in its lifecycle FSM (spec §4.2):
// New -> AuthPending -> Ready -> Draining -> Closed. New connections accept
// no frames but the first; AuthPending connections accept only the
// authenticating EVENT frame; Draining connections accept no new
// TASK_REQUESTs but still deliver in-flight responses.
type State int

const (
	StateNew State = iota
	StateAuthPending
	StateReady
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAuthPending:
		return "AUTH_PENDING"
	case StateReady:
		return "READY"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Conn is one logical connection to an agent, regardless of underlying
// transport.
type Conn interface {
	// Send enqueues m for delivery, returning BACKPRESSURE if the outbound
	// queue is full rather than blocking indefinitely.
	Send(ctx context.Context, m *wire.Message) error
	// Recv blocks for the next inbound message.
	Recv(ctx context.Context) (*wire.Message, error)
	Close() error
	RemoteID() string
	State() State
	SetState(State)
}

// baseConn centralizes the FSM state and remote identity bookkeeping shared
// by every Conn implementation.
type baseConn struct {
	mu       sync.Mutex
	remoteID string
	state    State
}

func (b *baseConn) RemoteID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remoteID
}

func (b *baseConn) setRemoteID(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remoteID = id
}

func (b *baseConn) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *baseConn) SetState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

// ErrClosed is returned by Send/Recv on a connection past StateClosed.
var ErrClosed = mcperr.New(mcperr.Internal, "connection closed")
