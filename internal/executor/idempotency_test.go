package executor

import (
	"testing"
	"time"
)

func TestMemIdempotencyStoreSeen(t *testing.T) {
	s := NewMemIdempotencyStore()
	if s.Seen("k1", time.Minute) {
		t.Fatal("first observation should not be already-seen")
	}
	if !s.Seen("k1", time.Minute) {
		t.Fatal("second observation should be already-seen")
	}
}

func TestMemIdempotencyStorePutGet(t *testing.T) {
	s := NewMemIdempotencyStore()
	s.Put("k1", []byte("payload"), time.Minute)
	got, ok := s.Get("k1")
	if !ok || string(got) != "payload" {
		t.Fatalf("got=%q ok=%v", got, ok)
	}
}

func TestMemIdempotencyStoreExpiry(t *testing.T) {
	s := NewMemIdempotencyStore()
	s.Put("k1", []byte("payload"), -time.Second)
	if _, ok := s.Get("k1"); ok {
		t.Fatal("expired entry should not be returned")
	}
}
