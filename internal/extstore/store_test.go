package extstore

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "idempotency.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSeenFirstThenDuplicate(t *testing.T) {
	s := openTestStore(t)
	if s.Seen("k1", time.Minute) {
		t.Fatal("first observation should not be already-seen")
	}
	if !s.Seen("k1", time.Minute) {
		t.Fatal("second observation should be already-seen")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	s.Put("k1", []byte("cached"), time.Minute)
	got, ok := s.Get("k1")
	if !ok || string(got) != "cached" {
		t.Fatalf("got=%q ok=%v", got, ok)
	}
}

func TestGetExpired(t *testing.T) {
	s := openTestStore(t)
	s.Put("k1", []byte("cached"), -time.Second)
	if _, ok := s.Get("k1"); ok {
		t.Fatal("expired entry should not be returned")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	s := openTestStore(t)
	s.Put("k1", []byte("x"), -time.Second)
	s.Put("k2", []byte("y"), time.Minute)
	n, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep removed %d rows, want 1", n)
	}
	if _, ok := s.Get("k2"); !ok {
		t.Fatal("unexpired key should survive sweep")
	}
}
