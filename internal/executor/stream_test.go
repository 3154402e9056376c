package executor

import (
	"testing"

	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/wire"
)

func chunk(seq int64, typ wire.MessageType) *wire.Message {
	return &wire.Message{ID: "m", CorrelationID: "c", Sender: "a", Sequence: seq, MessageType: typ}
}

func TestStreamBufferInOrder(t *testing.T) {
	b := NewStreamBuffer(4)
	ready, err := b.Push(chunk(0, wire.StreamChunkType))
	if err != nil || len(ready) != 1 {
		t.Fatalf("ready=%v err=%v", ready, err)
	}
	ready, err = b.Push(chunk(1, wire.StreamChunkType))
	if err != nil || len(ready) != 1 {
		t.Fatalf("ready=%v err=%v", ready, err)
	}
}

func TestStreamBufferOutOfOrderReassembly(t *testing.T) {
	b := NewStreamBuffer(4)
	ready, err := b.Push(chunk(1, wire.StreamChunkType))
	if err != nil || len(ready) != 0 {
		t.Fatalf("chunk 1 before 0 should buffer, not deliver: ready=%v err=%v", ready, err)
	}
	if b.Pending() != 1 {
		t.Fatal("expected one buffered out-of-order chunk")
	}
	ready, err = b.Push(chunk(0, wire.StreamChunkType))
	if err != nil || len(ready) != 2 {
		t.Fatalf("arrival of chunk 0 should flush both: ready=%v err=%v", ready, err)
	}
}

func TestStreamBufferGapRejected(t *testing.T) {
	b := NewStreamBuffer(2)
	if _, err := b.Push(chunk(5, wire.StreamChunkType)); mcperr.CodeOf(err) != mcperr.StreamGap {
		t.Fatalf("expected STREAM_GAP, got %v", err)
	}
}

func TestStreamBufferDuplicateIgnored(t *testing.T) {
	b := NewStreamBuffer(4)
	_, _ = b.Push(chunk(0, wire.StreamChunkType))
	ready, err := b.Push(chunk(0, wire.StreamChunkType))
	if err != nil || len(ready) != 0 {
		t.Fatalf("duplicate chunk should be silently dropped: ready=%v err=%v", ready, err)
	}
}

func TestStreamBufferClosesOnEnd(t *testing.T) {
	b := NewStreamBuffer(4)
	ready, err := b.Push(chunk(0, wire.StreamEndType))
	if err != nil || len(ready) != 1 {
		t.Fatalf("ready=%v err=%v", ready, err)
	}
	ready, err = b.Push(chunk(1, wire.StreamChunkType))
	if err != nil || len(ready) != 0 {
		t.Fatal("buffer should ignore chunks after STREAM_END")
	}
}
