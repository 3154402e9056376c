package budget

import (
	"testing"
	"time"
)

func TestEstimateKnownModel(t *testing.T) {
	cost := Estimate("gpt-4o", 1_000_000, 0)
	if cost != 2.50 {
		t.Fatalf("Estimate = %v, want 2.50", cost)
	}
}

func TestEstimateUnknownModelIsZero(t *testing.T) {
	if Estimate("not-a-model", 1_000_000, 1_000_000) != 0 {
		t.Fatal("unknown model must estimate to zero cost")
	}
}

func TestAccumulatorChargeWithinBudget(t *testing.T) {
	a := New(1.0, 1_000_000)
	if err := a.Charge("gpt-4o-mini", 100_000, 50_000); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	usedUSD, usedTokens, _, _ := a.Snapshot()
	if usedUSD <= 0 || usedTokens != 150_000 {
		t.Fatalf("unexpected snapshot: usedUSD=%v usedTokens=%v", usedUSD, usedTokens)
	}
}

func TestAccumulatorRejectsOverBudget(t *testing.T) {
	a := New(0.01, 0)
	if err := a.Charge("gpt-4o", 1_000_000, 1_000_000); err == nil {
		t.Fatal("expected BUDGET_EXCEEDED")
	}
	usedUSD, _, _, _ := a.Snapshot()
	if usedUSD != 0 {
		t.Fatal("rejected charge must not be partially applied")
	}
}

func TestRateLimiterAllowsUpToBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if err := rl.Allow("user-1"); err != nil {
		t.Fatalf("first call should be allowed: %v", err)
	}
	if err := rl.Allow("user-1"); err != nil {
		t.Fatalf("second call within burst should be allowed: %v", err)
	}
	if err := rl.Allow("user-1"); err == nil {
		t.Fatal("third call should be rate limited")
	}
}

func TestRateLimiterPerKeyIsolation(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	if err := rl.Allow("a"); err != nil {
		t.Fatalf("Allow(a): %v", err)
	}
	if err := rl.Allow("b"); err != nil {
		t.Fatalf("Allow(b) must not be affected by a's bucket: %v", err)
	}
}

func TestEvictStale(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	_ = rl.Allow("stale-key")
	if rl.BucketCount() != 1 {
		t.Fatal("expected one tracked bucket")
	}
	rl.EvictStale(-time.Second) // everything is older than "now minus negative" => evict all
	if rl.BucketCount() != 0 {
		t.Fatal("expected stale bucket to be evicted")
	}
}
