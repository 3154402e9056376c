package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cartrita/mcp/internal/executor"
	"github.com/cartrita/mcp/internal/registry"
	"github.com/cartrita/mcp/internal/router"
	"github.com/cartrita/mcp/internal/transport"
	"github.com/cartrita/mcp/internal/wire"
)

// setupEchoExecutor wires an executor over an in-process connection to an
// agent that completes every task immediately.
func setupEchoExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	hub := transport.NewHub()
	orch, agent := transport.NewInProcPair("echo-1", 8)
	hub.Register("echo-1", orch)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	exec := executor.New(hub, nil, executor.Config{DefaultTimeoutMs: 2000})

	go func() {
		for {
			req, err := agent.Recv(ctx)
			if err != nil {
				return
			}
			var taskReq wire.TaskRequest
			_ = wire.DecodePayload(req.Payload, &taskReq)
			_ = agent.Send(ctx, &wire.Message{
				ID:            "resp-" + req.ID,
				CorrelationID: req.CorrelationID,
				Sender:        "echo-1",
				Recipient:     "orchestrator",
				MessageType:   wire.TaskResponseType,
				Payload: wire.TaskResponse{
					TaskID: taskReq.TaskID,
					Status: wire.StatusCompleted,
					Result: "ok",
				},
			})
		}
	}()
	go func() {
		for {
			m, err := orch.Recv(ctx)
			if err != nil {
				return
			}
			exec.HandleResponse(m)
		}
	}()

	return exec
}

func TestHandlePostTaskSuccess(t *testing.T) {
	exec := setupEchoExecutor(t)
	srv := New(Config{Executor: exec})

	body, _ := json.Marshal(submitRequest{AgentID: "echo-1", TaskType: "echo"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp wire.TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != wire.StatusCompleted || resp.Result != "ok" {
		t.Fatalf("got %+v", resp)
	}
}

func TestHandlePostTaskUnavailableAgent(t *testing.T) {
	hub := transport.NewHub()
	exec := executor.New(hub, nil, executor.Config{DefaultTimeoutMs: 100})
	srv := New(Config{Executor: exec})

	body, _ := json.Marshal(submitRequest{AgentID: "ghost", TaskType: "echo"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandlePostTaskInvalidGuarantee(t *testing.T) {
	exec := setupEchoExecutor(t)
	srv := New(Config{Executor: exec})

	body, _ := json.Marshal(submitRequest{AgentID: "echo-1", TaskType: "echo", Guarantee: "BOGUS"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandlePostTaskWrongMethod(t *testing.T) {
	srv := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandlePostTaskRoutesByCapabilityWhenAgentIDAbsent(t *testing.T) {
	exec := setupEchoExecutor(t)
	reg := registry.New(registry.Config{})
	reg.Register(registry.Info{AgentID: "echo-1", Capabilities: []string{"echo"}})
	rtr := router.New(reg, router.Config{})
	srv := New(Config{Executor: exec, Router: rtr})

	body, _ := json.Marshal(submitRequest{Capability: "echo", TaskType: "echo"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandlePostTaskMissingAgentAndCapability(t *testing.T) {
	srv := New(Config{Executor: setupEchoExecutor(t)})

	body, _ := json.Marshal(submitRequest{TaskType: "echo"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandlePostTaskTimeoutPropagatesContextDeadline(t *testing.T) {
	// An agent that never responds should cause the request to time out
	// once the caller-supplied timeout_ms elapses, not hang forever.
	hub := transport.NewHub()
	orch, _ := transport.NewInProcPair("silent-1", 8)
	hub.Register("silent-1", orch)
	exec := executor.New(hub, nil, executor.Config{DefaultTimeoutMs: 5000})
	srv := New(Config{Executor: exec})

	body, _ := json.Marshal(submitRequest{AgentID: "silent-1", TaskType: "noop", TimeoutMs: 50})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	start := time.Now()
	srv.Handler().ServeHTTP(rec, req)
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("request took %v, want bounded by timeout_ms", elapsed)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
