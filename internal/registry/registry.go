// Package registry tracks agent capabilities, health, and load (spec §4.3).
// Reads (routing decisions happen on every task) are lock-free against an
// immutable, epoch-stamped snapshot; writes (register/heartbeat/health
// transitions) go through a single mutex, the same single-writer discipline
// the upstream agent.Registry uses for its agent map.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cartrita/mcp/internal/mcperr"
)

// Health is an agent's liveness/availability state.
type Health string

const (
	// Ready agents accept new task routing.
	Ready Health = "READY"
	// Draining agents refuse new task routing but keep their in-flight
	// tasks until those complete, then transition to Gone (spec §4.2).
	Draining Health = "DRAINING"
	// Unhealthy is sticky: only a fresh heartbeat (via SetHealth, never
	// Heartbeat alone) clears it.
	Unhealthy Health = "UNHEALTHY"
	// Gone is the terminal state after Deregister. A Gone entry is kept in
	// the directory (not deleted) solely so Register can tell a genuine
	// duplicate agent_id apart from a reconnecting one.
	Gone Health = "GONE"
)

// Info is the registered state of one agent.
type Info struct {
	AgentID       string
	Capabilities  []string
	Tags          []string
	Health        Health
	Load          float64 // 0..1, fraction of agent's advertised concurrency in use
	CostHint      float64 // relative cost score used by the router, lower is cheaper
	LatencyHintMs int64
	LastHeartbeat time.Time
	Epoch         int64 // snapshot epoch this Info was last written under

	// ParamSchemas optionally validates TaskRequest.Parameters per task_type.
	ParamSchemas map[string]*jsonschema.Schema
}

// snapshot is an immutable point-in-time view of the registry, swapped in
// whole by every write. Readers never take a lock.
type snapshot struct {
	epoch  int64
	agents map[string]Info
}

// Registry is the agent directory.
type Registry struct {
	mu              sync.Mutex // serializes writers only; readers use cur
	cur             atomic.Pointer[snapshot]
	heartbeatWindow time.Duration // heartbeat must land within this to stay HEALTHY
}

// Config configures a Registry.
type Config struct {
	// HeartbeatInterval is the expected heartbeat cadence. Sweep marks an
	// agent UNHEALTHY once it misses 3 consecutive intervals (spec §4.3).
	HeartbeatInterval time.Duration
}

// New builds an empty Registry.
func New(cfg Config) *Registry {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	r := &Registry{heartbeatWindow: 3 * interval}
	r.cur.Store(&snapshot{epoch: 0, agents: map[string]Info{}})
	return r
}

func (r *Registry) load() *snapshot {
	return r.cur.Load()
}

// mutate applies fn to a copy of the current agent map and publishes the
// result as a new snapshot with an incremented epoch. Callers hold r.mu.
func (r *Registry) mutate(fn func(agents map[string]Info)) {
	cur := r.load()
	next := make(map[string]Info, len(cur.agents))
	for k, v := range cur.agents {
		next[k] = v
	}
	fn(next)
	r.cur.Store(&snapshot{epoch: cur.epoch + 1, agents: next})
}

// Register installs a new agent's Info, starting it READY with a fresh
// heartbeat timestamp. It rejects a duplicate agent_id unless the existing
// entry's Health is GONE (spec §4.3): a still-connected agent can't be
// silently overwritten by a second registration of the same id.
func (r *Registry) Register(info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	if existing, ok := cur.agents[info.AgentID]; ok && existing.Health != Gone {
		return mcperr.New(mcperr.ProtocolViolation, fmt.Sprintf("agent %q is already registered", info.AgentID))
	}
	info.Health = Ready
	info.LastHeartbeat = time.Now()
	r.mutate(func(agents map[string]Info) {
		info.Epoch = r.load().epoch + 1
		agents[info.AgentID] = info
	})
	return nil
}

// Deregister marks an agent GONE rather than deleting it, so a later
// Register call can tell a reconnect apart from a genuine agent_id
// collision (spec §3: "on disconnect they transition to GONE").
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	info, ok := cur.agents[agentID]
	if !ok {
		return
	}
	info.Health = Gone
	r.mutate(func(agents map[string]Info) {
		agents[agentID] = info
	})
}

// Heartbeat refreshes an agent's liveness timestamp and load figure. An
// UNHEALTHY agent does not recover via heartbeat alone; it is sticky until
// SetHealth or re-Register clears it (spec §4.3).
func (r *Registry) Heartbeat(agentID string, load float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	info, ok := cur.agents[agentID]
	if !ok {
		return mcperr.New(mcperr.UnknownRecipient, fmt.Sprintf("agent %q not registered", agentID))
	}
	info.Load = load
	info.LastHeartbeat = time.Now()
	r.mutate(func(agents map[string]Info) {
		agents[agentID] = info
	})
	return nil
}

// SetHealth forces an agent's health state, transitioning among
// READY/DRAINING/UNHEALTHY per spec §4.3's set_health — e.g. the security
// gate quarantining an agent after repeated tool misuse, an operator
// draining an agent ahead of a planned restart, or clearing a sticky
// UNHEALTHY state. GONE is reached only via Deregister, never SetHealth.
func (r *Registry) SetHealth(agentID string, h Health) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	info, ok := cur.agents[agentID]
	if !ok {
		return mcperr.New(mcperr.UnknownRecipient, fmt.Sprintf("agent %q not registered", agentID))
	}
	info.Health = h
	r.mutate(func(agents map[string]Info) {
		agents[agentID] = info
	})
	return nil
}

// Get returns the current Info for agentID.
func (r *Registry) Get(agentID string) (Info, bool) {
	cur := r.load()
	info, ok := cur.agents[agentID]
	return info, ok
}

// Query returns every READY agent advertising capability, for the router
// to score. DRAINING agents are excluded because they refuse new
// TASK_REQUESTs; UNHEALTHY and GONE agents are never candidates.
func (r *Registry) Query(capability string) []Info {
	cur := r.load()
	var out []Info
	for _, info := range cur.agents {
		if info.Health != Ready {
			continue
		}
		for _, c := range info.Capabilities {
			if c == capability {
				out = append(out, info)
				break
			}
		}
	}
	return out
}

// ValidateParameters checks params against the agent's registered schema
// for taskType, if one was registered. Agents that registered no schema for
// a task_type accept any parameters.
func (r *Registry) ValidateParameters(agentID, taskType string, params map[string]any) error {
	cur := r.load()
	info, ok := cur.agents[agentID]
	if !ok {
		return mcperr.New(mcperr.UnknownRecipient, fmt.Sprintf("agent %q not registered", agentID))
	}
	schema, ok := info.ParamSchemas[taskType]
	if !ok || schema == nil {
		return nil
	}
	untyped := make(map[string]any, len(params))
	for k, v := range params {
		untyped[k] = v
	}
	if err := schema.Validate(untyped); err != nil {
		return mcperr.Wrap(mcperr.ProtocolViolation, fmt.Sprintf("parameters for %q failed schema validation", taskType), err)
	}
	return nil
}

// Sweep marks agents whose last heartbeat is older than the configured
// window UNHEALTHY. Intended to run on a ticker from the orchestrator's
// main loop. GONE agents are no longer heartbeating by definition and are
// skipped.
func (r *Registry) Sweep(now time.Time) (transitioned []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	var stale []string
	for id, info := range cur.agents {
		if info.Health != Unhealthy && info.Health != Gone && now.Sub(info.LastHeartbeat) > r.heartbeatWindow {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	r.mutate(func(agents map[string]Info) {
		for _, id := range stale {
			info := agents[id]
			info.Health = Unhealthy
			agents[id] = info
		}
	})
	return stale
}

// Epoch returns the current snapshot epoch, useful for tests and diagnostics.
func (r *Registry) Epoch() int64 {
	return r.load().epoch
}
