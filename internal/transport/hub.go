package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/wire"
)

// Hub maps agent IDs to their live Conn and dispatches outbound messages to
// the right one, synthesizing an AGENT_UNAVAILABLE response when the
// recipient has disconnected (spec §4.2).
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]Conn)}
}

// Register associates agentID with conn, replacing any previous connection
// for that agent (and closing it, since only one live connection per agent
// is meaningful).
func (h *Hub) Register(agentID string, conn Conn) {
	h.mu.Lock()
	old, existed := h.conns[agentID]
	h.conns[agentID] = conn
	h.mu.Unlock()
	if existed {
		slog.Warn("replacing existing connection for agent", "agent_id", agentID)
		_ = old.Close()
	}
}

// Deregister removes agentID's connection, if conn is still the one on file
// (avoids a race where a new connection replaced it before the old one's
// disconnect handler ran).
func (h *Hub) Deregister(agentID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[agentID]; ok && cur == conn {
		delete(h.conns, agentID)
	}
}

// Dispatch delivers m to its recipient's connection.
func (h *Hub) Dispatch(ctx context.Context, m *wire.Message) error {
	h.mu.RLock()
	conn, ok := h.conns[m.Recipient]
	h.mu.RUnlock()
	if !ok {
		return mcperr.New(mcperr.AgentUnavailable, fmt.Sprintf("agent %q has no live connection", m.Recipient))
	}
	return conn.Send(ctx, m)
}

// Get returns the connection registered for agentID, if any.
func (h *Hub) Get(agentID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[agentID]
	return conn, ok
}

// Connected reports every agent_id with a live connection.
func (h *Hub) Connected() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}
