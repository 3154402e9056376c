package executor

import (
	"fmt"
	"sync"

	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/wire"
)

// DefaultStreamWindow bounds how far ahead of the next expected sequence
// number a STREAM_CHUNK may arrive before it's rejected as a gap (spec §4.6).
const DefaultStreamWindow = 64

// StreamBuffer reassembles out-of-order STREAM_CHUNK frames for one task
// into in-order delivery, within a bounded window.
type StreamBuffer struct {
	mu       sync.Mutex
	window   int64
	nextSeq  int64
	buffered map[int64]*wire.Message
	closed   bool
}

// NewStreamBuffer builds a StreamBuffer expecting sequence numbers starting
// at 0, accepting up to window chunks ahead of the next expected one.
func NewStreamBuffer(window int) *StreamBuffer {
	if window <= 0 {
		window = DefaultStreamWindow
	}
	return &StreamBuffer{window: int64(window), buffered: make(map[int64]*wire.Message)}
}

// Push admits m and returns the run of messages now ready for in-order
// delivery (possibly empty if m arrived out of order and is still waiting on
// an earlier chunk). A chunk arriving more than window positions ahead of
// the next expected sequence fails with STREAM_GAP.
func (b *StreamBuffer) Push(m *wire.Message) ([]*wire.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil
	}
	if m.Sequence < b.nextSeq {
		return nil, nil // duplicate of an already-delivered chunk, drop silently
	}
	if m.Sequence-b.nextSeq > b.window {
		return nil, mcperr.New(mcperr.StreamGap, fmt.Sprintf("chunk sequence %d exceeds reassembly window (next expected %d, window %d)", m.Sequence, b.nextSeq, b.window))
	}

	b.buffered[m.Sequence] = m
	var ready []*wire.Message
	for {
		next, ok := b.buffered[b.nextSeq]
		if !ok {
			break
		}
		ready = append(ready, next)
		delete(b.buffered, b.nextSeq)
		b.nextSeq++
		if next.MessageType == wire.StreamEndType {
			b.closed = true
			break
		}
	}
	return ready, nil
}

// Pending reports how many out-of-order chunks are currently buffered.
func (b *StreamBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffered)
}
