package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/supervisor"
	"github.com/cartrita/mcp/internal/wire"
)

// sessionRequest starts a supervised, multi-hop delegation (spec §4.5).
// SupervisorAgent is the agent_id that plays the "supervisor" role: the one
// turn executor always returns control to between hops.
type sessionRequest struct {
	SupervisorAgent string `json:"supervisor_agent"`
	Prompt          string `json:"prompt"`
	MaxDepth        int    `json:"max_depth"`
	TimeoutMs       int64  `json:"timeout_ms"`
	UserID          string `json:"user_id"`
}

// turnExecutorAdapter satisfies supervisor.TurnExecutor by issuing each turn
// as a regular "turn" task through the executor, translating the graph's
// virtual "supervisor" node to the session's actual supervisor agent.
type turnExecutorAdapter struct {
	exec            *Server
	supervisorAgent string
}

func (a *turnExecutorAdapter) ExecuteTurn(ctx context.Context, node, prompt string) (map[string]any, error) {
	agentID := node
	if node == supervisor.RootNode {
		agentID = a.supervisorAgent
	}
	resp, err := a.exec.cfg.Executor.Issue(ctx, agentID, wire.TaskRequest{
		TaskType:   "turn",
		Parameters: map[string]any{"prompt": prompt},
	}, wire.Delivery{Guarantee: wire.AtMostOnce}, a.exec.cfg.newAccumulator(), nil)
	if err != nil {
		return nil, err
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, mcperr.New(mcperr.ProtocolViolation, "turn result is not an object")
	}
	return result, nil
}

type sessionResponse struct {
	Result  supervisor.TurnResult `json:"result"`
	Depth   int                   `json:"depth"`
	History []supervisor.Turn     `json:"history"`
}

// handleSession drives a supervised conversation to completion and returns
// its final turn plus the full hop history.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, mcperr.Wrap(mcperr.ProtocolViolation, "decode request body", err))
		return
	}
	if req.SupervisorAgent == "" {
		writeError(w, http.StatusBadRequest, mcperr.New(mcperr.ProtocolViolation, "supervisor_agent is required"))
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	graph := supervisor.New(&turnExecutorAdapter{exec: s, supervisorAgent: req.SupervisorAgent}, supervisor.Config{MaxDepth: req.MaxDepth})
	start := supervisor.State{CurrentNode: supervisor.RootNode, UserID: req.UserID}
	result, final, err := graph.Run(ctx, start, req.Prompt)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessionResponse{Result: result, Depth: final.Depth, History: final.History})
}
