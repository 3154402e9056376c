package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/wire"
)

// DefaultOutboundQueueDepth bounds the per-connection outbound buffer; once
// full, Send reports BACKPRESSURE rather than blocking the caller (spec §4.2).
const DefaultOutboundQueueDepth = 256

// SocketConn is a Conn backed by a Unix domain socket, framed with the wire
// codec. A dedicated writer goroutine drains an outbound channel so a slow
// reader on the far end cannot block callers of Send.
type SocketConn struct {
	baseConn
	nc            net.Conn
	maxFrameBytes uint32
	out           chan *wire.Message
	closeOnce     sync.Once
	writerDone    chan struct{}
}

// NewSocketConn wraps an accepted net.Conn.
func NewSocketConn(nc net.Conn, maxFrameBytes uint32) *SocketConn {
	if maxFrameBytes == 0 {
		maxFrameBytes = wire.DefaultMaxFrameBytes
	}
	c := &SocketConn{
		nc:            nc,
		maxFrameBytes: maxFrameBytes,
		out:           make(chan *wire.Message, DefaultOutboundQueueDepth),
		writerDone:    make(chan struct{}),
	}
	c.baseConn.state = StateNew
	go c.writeLoop()
	return c
}

func (c *SocketConn) writeLoop() {
	defer close(c.writerDone)
	for m := range c.out {
		if err := wire.WriteFrame(c.nc, m); err != nil {
			return
		}
	}
}

// Send enqueues m on the outbound channel, failing fast with BACKPRESSURE
// when the channel is full instead of blocking.
func (c *SocketConn) Send(ctx context.Context, m *wire.Message) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	select {
	case c.out <- m:
		return nil
	default:
		return mcperr.New(mcperr.Backpressure, fmt.Sprintf("outbound queue full for connection %q", c.RemoteID()))
	}
}

// Recv reads and decodes the next frame, honoring ctx cancellation via a
// helper goroutine since net.Conn reads don't natively support context
// (the same workaround the upstream stdio transport uses for Receive).
func (c *SocketConn) Recv(ctx context.Context) (*wire.Message, error) {
	type result struct {
		m   *wire.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := wire.ReadFrame(c.nc, c.maxFrameBytes)
		ch <- result{m, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.m, res.err
	}
}

// Close stops the writer goroutine and closes the underlying socket.
func (c *SocketConn) Close() error {
	c.SetState(StateClosed)
	c.closeOnce.Do(func() {
		close(c.out)
	})
	return c.nc.Close()
}

// Listener accepts Unix-domain-socket connections and hands each one to
// onAccept as a *SocketConn in StateNew.
type Listener struct {
	ln            net.Listener
	maxFrameBytes uint32
}

// Listen binds a Unix domain socket at path, removing any stale socket file
// left behind by a previous, uncleanly terminated process.
func Listen(path string, maxFrameBytes uint32) (*Listener, error) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Internal, fmt.Sprintf("listen on %q", path), err)
	}
	return &Listener{ln: ln, maxFrameBytes: maxFrameBytes}, nil
}

// Accept blocks for the next inbound connection.
func (l *Listener) Accept() (*SocketConn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Internal, "accept connection", err)
	}
	return NewSocketConn(nc, l.maxFrameBytes), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the bound socket path.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}
