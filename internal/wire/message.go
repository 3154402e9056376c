// Package wire defines the MCP wire primitive (spec §3) and its binary framing (spec §4.1).
package wire

import (
	"fmt"
	"time"

	"github.com/cartrita/mcp/internal/mcperr"
)

// MessageType enumerates the wire message kinds (spec §3).
type MessageType string

const (
	TaskRequestType  MessageType = "TASK_REQUEST"
	TaskResponseType MessageType = "TASK_RESPONSE"
	StreamStartType  MessageType = "STREAM_START"
	StreamChunkType  MessageType = "STREAM_CHUNK"
	StreamEndType    MessageType = "STREAM_END"
	EventType        MessageType = "EVENT"
	ErrorType        MessageType = "ERROR"
)

func (t MessageType) IsValid() bool {
	switch t {
	case TaskRequestType, TaskResponseType, StreamStartType, StreamChunkType, StreamEndType, EventType, ErrorType:
		return true
	}
	return false
}

// DeliveryGuarantee enumerates the delivery semantics a message requests (spec §3, glossary).
type DeliveryGuarantee string

const (
	AtMostOnce  DeliveryGuarantee = "AT_MOST_ONCE"
	AtLeastOnce DeliveryGuarantee = "AT_LEAST_ONCE"
	ExactlyOnce DeliveryGuarantee = "EXACTLY_ONCE"
)

func (g DeliveryGuarantee) IsValid() bool {
	switch g {
	case AtMostOnce, AtLeastOnce, ExactlyOnce:
		return true
	}
	return false
}

// TaskStatus enumerates TaskResponse.status values (spec §3).
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
	StatusCancelled TaskStatus = "CANCELLED"
	StatusTimeout   TaskStatus = "TIMEOUT"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// IsTerminal reports whether s is a terminal status for a task.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Budget tracks per-task/per-request USD and token spend (spec §3).
type Budget struct {
	MaxUSD     float64            `msgpack:"max_usd"`
	MaxTokens  int64              `msgpack:"max_tokens"`
	UsedUSD    float64            `msgpack:"used_usd"`
	UsedTokens int64              `msgpack:"used_tokens"`
	ModelCosts map[string]float64 `msgpack:"model_costs,omitempty"`
}

// WouldExceed reports whether charging the given cost/tokens would push
// either accumulator past its configured maximum.
func (b Budget) WouldExceed(costUSD float64, tokens int64) bool {
	if b.MaxUSD > 0 && b.UsedUSD+costUSD > b.MaxUSD {
		return true
	}
	if b.MaxTokens > 0 && b.UsedTokens+tokens > b.MaxTokens {
		return true
	}
	return false
}

// ResourceLimits bounds per-task compute resources (spec §3).
type ResourceLimits struct {
	MaxCPUPercent        float64 `msgpack:"max_cpu_percent,omitempty"`
	MaxMemoryMB          int64   `msgpack:"max_memory_mb,omitempty"`
	MaxConcurrentReqs    int     `msgpack:"max_concurrent_requests,omitempty"`
	MaxProcessingTimeMs  int64   `msgpack:"max_processing_time_ms,omitempty"`
}

// Context carries per-request propagation data (spec §3).
type Context struct {
	UserID      string            `msgpack:"user_id,omitempty"`
	SessionID   string            `msgpack:"session_id,omitempty"`
	WorkspaceID string            `msgpack:"workspace_id,omitempty"`
	RequestID   string            `msgpack:"request_id,omitempty"`
	TimeoutMs   int64             `msgpack:"timeout_ms,omitempty"`
	Metadata    map[string]string `msgpack:"metadata,omitempty"`
	Budget      Budget            `msgpack:"budget,omitempty"`
	Limits      ResourceLimits    `msgpack:"limits,omitempty"`
	RoutingTags []string          `msgpack:"routing_tags,omitempty"`
}

// Delivery carries delivery-guarantee metadata (spec §3).
type Delivery struct {
	Guarantee    DeliveryGuarantee `msgpack:"guarantee"`
	RetryCount   int               `msgpack:"retry_count,omitempty"`
	RetryDelayMs int64             `msgpack:"retry_delay_ms,omitempty"`
	RequireAck   bool              `msgpack:"require_ack,omitempty"`
	Priority     int               `msgpack:"priority,omitempty"`
}

// TaskRequest is the payload for TASK_REQUEST messages (spec §3).
type TaskRequest struct {
	TaskType       string         `msgpack:"task_type"`
	TaskID         string         `msgpack:"task_id"`
	Parameters     map[string]any `msgpack:"parameters,omitempty"`
	Metadata       map[string]string `msgpack:"metadata,omitempty"`
	PreferredAgent string         `msgpack:"preferred_agent,omitempty"`
	Priority       int            `msgpack:"priority,omitempty"`
	Deadline       time.Time      `msgpack:"deadline,omitempty"`
}

// Metrics reports per-task execution accounting (spec §3).
type Metrics struct {
	ProcessingTimeMs int64              `msgpack:"processing_time_ms,omitempty"`
	QueueTimeMs      int64              `msgpack:"queue_time_ms,omitempty"`
	RetryCount       int                `msgpack:"retry_count,omitempty"`
	CostUSD          float64            `msgpack:"cost_usd,omitempty"`
	TokensUsed       int64              `msgpack:"tokens_used,omitempty"`
	ModelUsed        string             `msgpack:"model_used,omitempty"`
	Custom           map[string]float64 `msgpack:"custom,omitempty"`
}

// TaskResponse is the payload for TASK_RESPONSE messages (spec §3).
type TaskResponse struct {
	TaskID       string     `msgpack:"task_id"`
	Status       TaskStatus `msgpack:"status"`
	Result       any        `msgpack:"result,omitempty"`
	ErrorMessage string     `msgpack:"error_message,omitempty"`
	ErrorCode    string     `msgpack:"error_code,omitempty"`
	Metrics      Metrics    `msgpack:"metrics,omitempty"`
	Warnings     []string   `msgpack:"warnings,omitempty"`
}

// Message is the MCP wire primitive (spec §3).
type Message struct {
	ID             string            `msgpack:"id"`
	CorrelationID  string            `msgpack:"correlation_id"`
	TraceID        string            `msgpack:"trace_id,omitempty"`
	SpanID         string            `msgpack:"span_id,omitempty"`
	ParentSpanID   string            `msgpack:"parent_span_id,omitempty"`
	Sender         string            `msgpack:"sender"`
	Recipient      string            `msgpack:"recipient"`
	MessageType    MessageType       `msgpack:"message_type"`
	Payload        any               `msgpack:"payload,omitempty"`
	Tags           []string          `msgpack:"tags,omitempty"`
	Context        Context           `msgpack:"context,omitempty"`
	Delivery       Delivery          `msgpack:"delivery,omitempty"`
	Sequence       int64             `msgpack:"sequence,omitempty"`
	CreatedAt      time.Time         `msgpack:"created_at,omitempty"`
	ExpiresAt      time.Time         `msgpack:"expires_at,omitempty"`
	SecurityToken  string            `msgpack:"security_token,omitempty"`
	Permissions    []string          `msgpack:"permissions,omitempty"`
}

// Validate enforces the structural invariants of spec §3. It does not check
// stream sequencing invariants (owned by the reassembly buffer) or
// delivery-policy semantics (owned by the executor).
func (m *Message) Validate() error {
	if m.ID == "" {
		return mcperr.New(mcperr.ProtocolViolation, "message id is required")
	}
	if m.CorrelationID == "" {
		return mcperr.New(mcperr.ProtocolViolation, "correlation_id is required")
	}
	if m.Sender == "" {
		return mcperr.New(mcperr.ProtocolViolation, "sender is required")
	}
	if !m.MessageType.IsValid() {
		return mcperr.New(mcperr.ProtocolViolation, fmt.Sprintf("unknown message_type %q", m.MessageType))
	}
	if m.Delivery.Guarantee != "" && !m.Delivery.Guarantee.IsValid() {
		return mcperr.New(mcperr.ProtocolViolation, fmt.Sprintf("unknown delivery guarantee %q", m.Delivery.Guarantee))
	}
	if m.Delivery.Priority < 0 || m.Delivery.Priority > 9 {
		return mcperr.New(mcperr.ProtocolViolation, "delivery.priority must be 0-9")
	}
	return nil
}

// IsExpired reports whether the message has passed its ExpiresAt, if set.
func (m *Message) IsExpired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}
