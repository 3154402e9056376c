// Package ingress is the orchestrator's external-facing adapter (spec §6):
// a thin HTTP mux exposing one-shot task submission and a WebSocket upgrade
// for duplex streaming task execution. It depends only on the executor and
// wire packages, never on transport/registry/router internals directly.
package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/cartrita/mcp/internal/budget"
	"github.com/cartrita/mcp/internal/executor"
	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/router"
	"github.com/cartrita/mcp/internal/security"
	"github.com/cartrita/mcp/internal/wire"
)

// Config wires ingress's dependencies.
type Config struct {
	Executor     *executor.Executor
	Router       *router.Router
	Gate         *security.Gate
	RateLimiter  *budget.RateLimiter
	AllowOrigins []string

	// DefaultMaxUSD and DefaultMaxTokens seed the per-request Accumulator
	// charged as the task completes, when the request itself specifies no
	// tighter cap. Zero means unbounded.
	DefaultMaxUSD    float64
	DefaultMaxTokens int64
}

func (c Config) newAccumulator() *budget.Accumulator {
	return budget.New(c.DefaultMaxUSD, c.DefaultMaxTokens)
}

// Server is the orchestrator's HTTP/WebSocket front door.
type Server struct {
	cfg Config
}

// New builds a Server.
func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Handler returns the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/tasks", s.handlePostTask)
	mux.HandleFunc("/v1/tasks/stream", s.handleStream)
	mux.HandleFunc("/v1/sessions", s.handleSession)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type submitRequest struct {
	// AgentID pins the task to a specific agent. Capability routes through
	// the Router instead, when AgentID is left blank.
	AgentID      string         `json:"agent_id"`
	Capability   string         `json:"capability"`
	RoutingTags  []string       `json:"routing_tags"`
	Priority     int            `json:"priority"`
	TaskType     string         `json:"task_type"`
	Parameters   map[string]any `json:"parameters"`
	Guarantee    string         `json:"delivery_guarantee"`
	TimeoutMs    int64          `json:"timeout_ms"`
	UserID       string         `json:"user_id"`
	RetryCount   int            `json:"retry_count"`
	RetryDelayMs int64          `json:"retry_delay_ms"`
}

func (r submitRequest) guarantee() wire.DeliveryGuarantee {
	g := wire.DeliveryGuarantee(r.Guarantee)
	if g == "" {
		return wire.AtMostOnce
	}
	return g
}

// delivery builds the wire.Delivery threaded through Executor.Issue, so a
// caller's own retry_count/retry_delay_ms override the executor's defaults.
func (r submitRequest) delivery() wire.Delivery {
	return wire.Delivery{
		Guarantee:    r.guarantee(),
		RetryCount:   r.RetryCount,
		RetryDelayMs: r.RetryDelayMs,
		Priority:     r.Priority,
	}
}

func (r submitRequest) taskRequest(taskID string) wire.TaskRequest {
	return wire.TaskRequest{
		TaskID:     taskID,
		TaskType:   r.TaskType,
		Parameters: r.Parameters,
	}
}

// resolveAgent returns the agent_id to dispatch to: the pinned AgentID if
// the caller named one, otherwise the Router's best candidate for
// Capability (spec §4.4's composite scoring), gated by acc so a candidate
// that would immediately exceed the task's budget is skipped. It also
// returns the router.Request used for the initial route, so the executor
// can re-route through it on each retry attempt.
func (s *Server) resolveAgent(req submitRequest, taskID string, acc *budget.Accumulator) (string, *router.Request, error) {
	if req.AgentID != "" {
		return req.AgentID, nil, nil
	}
	if s.cfg.Router == nil || req.Capability == "" {
		return "", nil, mcperr.New(mcperr.ProtocolViolation, "request must set agent_id or capability")
	}
	routeReq := router.Request{
		TaskID:      taskID,
		Capability:  req.Capability,
		RoutingTags: req.RoutingTags,
		Priority:    req.Priority,
		CreatedAt:   time.Now(),
		Budget:      acc,
	}
	info, err := s.cfg.Router.Route(routeReq)
	if err != nil {
		return "", nil, err
	}
	return info.AgentID, &routeReq, nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// authenticate checks the caller-identity/bearer-token pair when a Gate is
// configured; ingress is usable without auth in tests and local dev. The
// caller's identity is its pinned agent_id if set, falling back to
// user_id for capability-routed requests that name no specific agent.
func (s *Server) authenticate(r *http.Request, req submitRequest) error {
	if s.cfg.Gate == nil {
		return nil
	}
	callerID := req.AgentID
	if callerID == "" {
		callerID = req.UserID
	}
	return s.cfg.Gate.Authenticate(callerID, bearerToken(r))
}

// handlePostTask submits one task and blocks for its terminal response,
// the synchronous counterpart to the streaming WebSocket endpoint.
func (s *Server) handlePostTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	if s.cfg.RateLimiter != nil {
		if err := s.cfg.RateLimiter.Allow(r.RemoteAddr); err != nil {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, err)
			return
		}
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, mcperr.Wrap(mcperr.ProtocolViolation, "decode request body", err))
		return
	}

	if err := s.authenticate(r, req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	guarantee := req.guarantee()
	if !guarantee.IsValid() {
		writeError(w, http.StatusBadRequest, mcperr.New(mcperr.ProtocolViolation, "invalid delivery_guarantee"))
		return
	}

	taskID := uuid.NewString()
	acc := s.cfg.newAccumulator()
	agentID, routeReq, err := s.resolveAgent(req, taskID, acc)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	resp, err := s.cfg.Executor.Issue(ctx, agentID, req.taskRequest(taskID), req.delivery(), acc, routeReq)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStream upgrades the request to a WebSocket, reads a single task
// submission, and relays its terminal response back before closing. Full
// multi-chunk STREAM_START/STREAM_CHUNK/STREAM_END relay is left to the
// executor's stream buffer; this endpoint exists for clients that want a
// duplex channel without holding an HTTP request open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		slog.Error("ingress: websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	var req submitRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		slog.Error("ingress: read initial task request failed", "error", err)
		return
	}

	if err := s.authenticate(r, req); err != nil {
		_ = wsjson.Write(ctx, conn, map[string]string{"error": err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "auth failed")
		return
	}

	taskID := uuid.NewString()
	acc := s.cfg.newAccumulator()
	agentID, routeReq, err := s.resolveAgent(req, taskID, acc)
	if err != nil {
		_ = wsjson.Write(ctx, conn, map[string]string{"error": err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "routing failed")
		return
	}

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	resp, err := s.cfg.Executor.Issue(ctx, agentID, req.taskRequest(taskID), req.delivery(), acc, routeReq)
	if err != nil {
		_ = wsjson.Write(ctx, conn, map[string]string{"error": err.Error()})
		conn.Close(websocket.StatusNormalClosure, "task failed")
		return
	}

	_ = wsjson.Write(ctx, conn, resp)
	conn.Close(websocket.StatusNormalClosure, "done")
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":      err.Error(),
		"error_code": string(mcperr.CodeOf(err)),
	})
}

func statusFor(err error) int {
	switch mcperr.CodeOf(err) {
	case mcperr.ProtocolViolation:
		return http.StatusBadRequest
	case mcperr.AuthRequired:
		return http.StatusUnauthorized
	case mcperr.PermissionDenied:
		return http.StatusForbidden
	case mcperr.UnknownRecipient, mcperr.RouteUnavailable, mcperr.AgentUnavailable:
		return http.StatusServiceUnavailable
	case mcperr.Backpressure, mcperr.RateLimited:
		return http.StatusTooManyRequests
	case mcperr.Timeout:
		return http.StatusGatewayTimeout
	case mcperr.BudgetExceeded, mcperr.DepthExceeded:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
