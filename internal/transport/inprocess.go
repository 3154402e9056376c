package transport

import (
	"context"
	"fmt"

	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/wire"
)

// InProcConn is a Conn for agents compiled into the same binary as the
// orchestrator. It carries *wire.Message directly over Go channels instead
// of a socket, so no codec round-trip is paid, but it still honors the same
// bounded-queue backpressure contract as SocketConn.
type InProcConn struct {
	baseConn
	in  chan *wire.Message
	out chan *wire.Message
}

// NewInProcPair builds two InProcConns wired to each other: one for the
// orchestrator side, one for the agent side.
func NewInProcPair(remoteID string, queueDepth int) (orchestratorSide, agentSide *InProcConn) {
	if queueDepth <= 0 {
		queueDepth = DefaultOutboundQueueDepth
	}
	ab := make(chan *wire.Message, queueDepth)
	ba := make(chan *wire.Message, queueDepth)

	orchestratorSide = &InProcConn{in: ba, out: ab}
	orchestratorSide.baseConn.state = StateNew
	orchestratorSide.baseConn.remoteID = remoteID

	agentSide = &InProcConn{in: ab, out: ba}
	agentSide.baseConn.state = StateNew
	agentSide.baseConn.remoteID = remoteID

	return orchestratorSide, agentSide
}

// Send enqueues m, failing fast with BACKPRESSURE when the channel is full.
func (c *InProcConn) Send(ctx context.Context, m *wire.Message) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	select {
	case c.out <- m:
		return nil
	default:
		return mcperr.New(mcperr.Backpressure, fmt.Sprintf("outbound queue full for in-process connection %q", c.RemoteID()))
	}
}

// Recv blocks for the next message or ctx cancellation.
func (c *InProcConn) Recv(ctx context.Context) (*wire.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-c.in:
		if !ok {
			return nil, ErrClosed
		}
		return m, nil
	}
}

// Close marks the connection closed. Both ends share the channel pair, so
// only the side that owns `out` closes it; the peer's Recv then sees ok=false.
func (c *InProcConn) Close() error {
	c.SetState(StateClosed)
	close(c.out)
	return nil
}
