package registry

import (
	"testing"
	"time"
)

func TestRegisterAndQuery(t *testing.T) {
	r := New(Config{HeartbeatInterval: time.Second})
	r.Register(Info{AgentID: "a1", Capabilities: []string{"search"}})
	r.Register(Info{AgentID: "a2", Capabilities: []string{"search", "fetch"}})

	got := r.Query("search")
	if len(got) != 2 {
		t.Fatalf("Query(search) = %d agents, want 2", len(got))
	}
	if len(r.Query("fetch")) != 1 {
		t.Fatal("Query(fetch) should find only a2")
	}
	if len(r.Query("missing")) != 0 {
		t.Fatal("Query(missing) should find nothing")
	}
}

func TestUnhealthyExcludedFromQuery(t *testing.T) {
	r := New(Config{HeartbeatInterval: time.Second})
	r.Register(Info{AgentID: "a1", Capabilities: []string{"search"}})
	if err := r.SetHealth("a1", Unhealthy); err != nil {
		t.Fatalf("SetHealth: %v", err)
	}
	if len(r.Query("search")) != 0 {
		t.Fatal("UNHEALTHY agent must not be a routing candidate")
	}
}

func TestHeartbeatDoesNotClearSticky(t *testing.T) {
	r := New(Config{HeartbeatInterval: time.Second})
	r.Register(Info{AgentID: "a1", Capabilities: []string{"search"}})
	_ = r.SetHealth("a1", Unhealthy)
	if err := r.Heartbeat("a1", 0.1); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	info, _ := r.Get("a1")
	if info.Health != Unhealthy {
		t.Fatal("heartbeat must not clear a sticky UNHEALTHY state")
	}
}

func TestSweepMarksStale(t *testing.T) {
	r := New(Config{HeartbeatInterval: 10 * time.Millisecond})
	r.Register(Info{AgentID: "a1", Capabilities: []string{"search"}})
	future := time.Now().Add(time.Hour)
	transitioned := r.Sweep(future)
	if len(transitioned) != 1 || transitioned[0] != "a1" {
		t.Fatalf("Sweep should have marked a1 stale, got %v", transitioned)
	}
	info, _ := r.Get("a1")
	if info.Health != Unhealthy {
		t.Fatal("swept agent must be UNHEALTHY")
	}
}

func TestEpochIncrementsOnWrite(t *testing.T) {
	r := New(Config{})
	start := r.Epoch()
	r.Register(Info{AgentID: "a1"})
	if r.Epoch() <= start {
		t.Fatal("Epoch must increase after a write")
	}
	beforeHB := r.Epoch()
	_ = r.Heartbeat("a1", 0.5)
	if r.Epoch() <= beforeHB {
		t.Fatal("Epoch must increase after heartbeat")
	}
}

func TestDeregister(t *testing.T) {
	r := New(Config{})
	r.Register(Info{AgentID: "a1", Capabilities: []string{"search"}})
	r.Deregister("a1")
	info, ok := r.Get("a1")
	if !ok || info.Health != Gone {
		t.Fatal("agent should be GONE, not removed, after Deregister")
	}
	if len(r.Query("search")) != 0 {
		t.Fatal("GONE agent must not be a routing candidate")
	}
}

func TestRegisterRejectsDuplicateUnlessGone(t *testing.T) {
	r := New(Config{})
	if err := r.Register(Info{AgentID: "a1", Capabilities: []string{"search"}}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(Info{AgentID: "a1", Capabilities: []string{"search"}}); err == nil {
		t.Fatal("duplicate Register of a still-registered agent_id must be rejected")
	}

	r.Deregister("a1")
	if err := r.Register(Info{AgentID: "a1", Capabilities: []string{"fetch"}}); err != nil {
		t.Fatalf("Register after Deregister (GONE) should succeed: %v", err)
	}
	info, _ := r.Get("a1")
	if info.Health != Ready {
		t.Fatal("re-registered agent should be READY")
	}
}

func TestValidateParametersNoSchema(t *testing.T) {
	r := New(Config{})
	r.Register(Info{AgentID: "a1"})
	if err := r.ValidateParameters("a1", "anything", map[string]any{"x": 1}); err != nil {
		t.Fatalf("no schema registered should accept any parameters: %v", err)
	}
}
