package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartrita/mcp/internal/budget"
	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/router"
	"github.com/cartrita/mcp/internal/tokenutil"
	"github.com/cartrita/mcp/internal/transport"
	"github.com/cartrita/mcp/internal/wire"
)

// Config tunes executor-wide defaults; individual requests may override
// timeout via Context.TimeoutMs on the wire message, and retry_count /
// retry_delay_ms via the message's own wire.Delivery.
type Config struct {
	DefaultTimeoutMs int64
	MaxProcessingMs  int64
	MaxRetries       int
	CancelGrace      time.Duration
	StreamWindow     int
	IdempotencyTTL   time.Duration

	// Router, if set, lets Issue re-route each retry attempt to a fresh
	// candidate instead of hammering the same agent_id (spec §4.6). Nil
	// disables re-routing; every attempt then targets the original agentID.
	Router *router.Router
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeoutMs <= 0 {
		c.DefaultTimeoutMs = 30_000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 2 * time.Second
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	return c
}

// Executor issues tasks to agents over a transport.Hub and carries them
// through acknowledgement, retry, streaming reassembly, and cancellation
// (spec §4.6).
type Executor struct {
	hub         *transport.Hub
	idempotency IdempotencyStore
	cfg         Config
	table       *pendingTable
	router      *router.Router
}

// New builds an Executor dispatching over hub.
func New(hub *transport.Hub, idempotency IdempotencyStore, cfg Config) *Executor {
	if idempotency == nil {
		idempotency = NewMemIdempotencyStore()
	}
	return &Executor{
		hub:         hub,
		idempotency: idempotency,
		cfg:         cfg.withDefaults(),
		table:       newPendingTable(),
		router:      cfg.Router,
	}
}

// Issue dispatches req to agentID and blocks until a terminal TASK_RESPONSE
// arrives, the task's deadline passes, or ctx is cancelled. AT_LEAST_ONCE and
// EXACTLY_ONCE requests are retried with exponential backoff on timeout, up
// to delivery.RetryCount (falling back to cfg.MaxRetries when unset), with
// each retry re-routed through routeReq via the Executor's Router when both
// are provided, rather than re-sent to the same agent (spec §4.6).
// EXACTLY_ONCE requests are deduplicated against prior deliveries of the
// same task_id via the idempotency store.
func (e *Executor) Issue(ctx context.Context, agentID string, req wire.TaskRequest, delivery wire.Delivery, acc *budget.Accumulator, routeReq *router.Request) (*wire.TaskResponse, error) {
	guarantee := delivery.Guarantee
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	if guarantee == wire.ExactlyOnce {
		if cached, ok := e.idempotency.Get(req.TaskID); ok {
			var resp wire.TaskResponse
			if err := wire.DecodePayload(cached, &resp); err == nil {
				return &resp, nil
			}
		}
		if e.idempotency.Seen(req.TaskID, e.cfg.IdempotencyTTL) {
			return nil, mcperr.New(mcperr.ProtocolViolation, fmt.Sprintf("task %q already delivered under EXACTLY_ONCE", req.TaskID))
		}
	}

	timeoutMs := e.cfg.DefaultTimeoutMs
	deadline, hasDeadline := ctx.Deadline()
	effectiveDeadline := computeDeadline(time.Now(), deadline, hasDeadline, timeoutMs, e.cfg.MaxProcessingMs)

	var lastErr error
	maxAttempts := 1
	if guarantee == wire.AtLeastOnce || guarantee == wire.ExactlyOnce {
		maxAttempts = delivery.RetryCount
		if maxAttempts <= 0 {
			maxAttempts = e.cfg.MaxRetries
		}
	}

	target := agentID
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && e.router != nil && routeReq != nil {
			if info, routeErr := e.router.Route(*routeReq); routeErr == nil {
				target = info.AgentID
			}
		}
		resp, err := e.attempt(ctx, target, req, guarantee, effectiveDeadline, attempt)
		if err == nil {
			if acc != nil {
				if chargeErr := e.charge(acc, resp); chargeErr != nil {
					return nil, chargeErr
				}
			}
			if guarantee == wire.ExactlyOnce {
				if encoded, encErr := wire.EncodePayload(resp); encErr == nil {
					e.idempotency.Put(req.TaskID, encoded, e.cfg.IdempotencyTTL)
				}
			}
			return resp, nil
		}
		lastErr = err
		if mcperr.CodeOf(err) != mcperr.Timeout || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff(delivery.RetryDelayMs, attempt)):
		}
	}
	return nil, lastErr
}

func (e *Executor) attempt(ctx context.Context, agentID string, req wire.TaskRequest, guarantee wire.DeliveryGuarantee, deadline time.Time, attempt int) (*wire.TaskResponse, error) {
	var taskCtx context.Context
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		taskCtx, cancel = context.WithDeadline(ctx, deadline)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	p := &pending{
		TaskID:     req.TaskID,
		AgentID:    agentID,
		Guarantee:  guarantee,
		Deadline:   deadline,
		RetryCount: attempt - 1,
		CreatedAt:  time.Now(),
		Cancel:     cancel,
		Responses:  make(chan *wire.Message, 1),
	}
	e.table.put(p)
	defer e.table.delete(req.TaskID)

	msg := &wire.Message{
		ID:            uuid.NewString(),
		CorrelationID: req.TaskID,
		Sender:        "orchestrator",
		Recipient:     agentID,
		MessageType:   wire.TaskRequestType,
		Payload:       req,
		Delivery:      wire.Delivery{Guarantee: guarantee, RetryCount: attempt - 1, Priority: req.Priority},
	}
	if err := e.hub.Dispatch(taskCtx, msg); err != nil {
		return nil, err
	}

	select {
	case <-taskCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, mcperr.New(mcperr.Timeout, fmt.Sprintf("task %q timed out on attempt %d", req.TaskID, attempt))
	case resp := <-p.Responses:
		var out wire.TaskResponse
		if err := wire.DecodePayload(resp.Payload, &out); err != nil {
			return nil, mcperr.Wrap(mcperr.ProtocolViolation, "decode task response", err)
		}
		if out.Status == wire.StatusFailed {
			return nil, mcperr.New(mcperr.Code(out.ErrorCode), out.ErrorMessage)
		}
		return &out, nil
	}
}

// charge debits acc for a completed task, using the agent-reported token
// count when present and falling back to a word-count estimate over the
// result payload otherwise (agents are not required to report metrics).
func (e *Executor) charge(acc *budget.Accumulator, resp *wire.TaskResponse) error {
	tokens := resp.Metrics.TokensUsed
	model := resp.Metrics.ModelUsed
	if tokens == 0 && model != "" {
		if s, ok := resp.Result.(string); ok {
			tokens = int64(tokenutil.EstimateTokens(s))
		}
	}
	if model == "" {
		return nil
	}
	return acc.Charge(model, 0, tokens)
}

// HandleResponse routes an inbound TASK_RESPONSE to the pending Issue call
// awaiting it. Called by the transport read loop for every frame received
// from an agent connection.
func (e *Executor) HandleResponse(m *wire.Message) {
	p, ok := e.table.get(m.CorrelationID)
	if !ok {
		return
	}
	select {
	case p.Responses <- m:
	default:
	}
}

// Cancel requests cancellation of taskID: the local context is cancelled
// immediately (unblocking Issue), and a best-effort CANCEL TASK_REQUEST is
// sent to the owning agent, allowed cfg.CancelGrace to land before the
// pending entry is torn down from this side regardless.
func (e *Executor) Cancel(ctx context.Context, taskID string) error {
	p, ok := e.table.get(taskID)
	if !ok {
		return mcperr.New(mcperr.UnknownRecipient, fmt.Sprintf("no in-flight task %q", taskID))
	}
	cancelMsg := &wire.Message{
		ID:            uuid.NewString(),
		CorrelationID: taskID,
		Sender:        "orchestrator",
		Recipient:     p.AgentID,
		MessageType:   wire.EventType,
		Payload:       map[string]any{"event": "cancel", "task_id": taskID},
	}
	_ = e.hub.Dispatch(ctx, cancelMsg) // best effort; agent may already be gone

	grace := e.cfg.CancelGrace
	p.Cancel()
	go func() {
		time.Sleep(grace)
		e.table.delete(taskID)
	}()
	return nil
}

// PendingCount reports the number of in-flight tasks, for diagnostics.
func (e *Executor) PendingCount() int {
	return e.table.len()
}
