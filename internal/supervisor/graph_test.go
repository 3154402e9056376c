package supervisor

import (
	"context"
	"testing"
)

type scriptedExecutor struct {
	turns map[string][]map[string]any
	calls map[string]int
}

func (s *scriptedExecutor) ExecuteTurn(_ context.Context, node, _ string) (map[string]any, error) {
	i := s.calls[node]
	s.calls[node]++
	script := s.turns[node]
	if i >= len(script) {
		return map[string]any{"kind": "END", "reason": "script exhausted"}, nil
	}
	return script[i], nil
}

func TestRunRespondsDirectly(t *testing.T) {
	exec := &scriptedExecutor{
		turns: map[string][]map[string]any{
			supervisorNode: {{"kind": "RESPOND", "output": "hello"}},
		},
		calls: map[string]int{},
	}
	g := New(exec, Config{MaxDepth: 4})
	result, state, err := g.Run(context.Background(), State{CurrentNode: supervisorNode}, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Kind != Respond || result.Output != "hello" {
		t.Fatalf("got %+v", result)
	}
	if len(state.History) != 1 {
		t.Fatalf("expected 1 history turn, got %d", len(state.History))
	}
}

func TestRunDelegatesThenResponds(t *testing.T) {
	exec := &scriptedExecutor{
		turns: map[string][]map[string]any{
			supervisorNode: {{"kind": "DELEGATE", "delegate_to": "billing", "delegate_prompt": "check invoice"}},
			"billing":      {{"kind": "RESPOND", "output": "invoice is paid"}},
		},
		calls: map[string]int{},
	}
	g := New(exec, Config{MaxDepth: 4})
	result, state, err := g.Run(context.Background(), State{CurrentNode: supervisorNode}, "is my invoice paid?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Kind != Respond || result.Output != "invoice is paid" {
		t.Fatalf("got %+v", result)
	}
	if state.Depth != 2 {
		t.Fatalf("expected depth 2 after one delegation hop, got %d", state.Depth)
	}
}

func TestSubAgentCannotDelegateToPeerDirectly(t *testing.T) {
	exec := &scriptedExecutor{
		turns: map[string][]map[string]any{
			supervisorNode: {
				{"kind": "DELEGATE", "delegate_to": "billing", "delegate_prompt": "p1"},
				{"kind": "RESPOND", "output": "handled by supervisor"},
			},
			"billing": {
				// billing attempts to hand off straight to "shipping" -- this
				// must be rejected structurally and routed back through the
				// supervisor instead.
				{"kind": "DELEGATE", "delegate_to": "shipping", "delegate_prompt": "p2"},
			},
		},
		calls: map[string]int{},
	}
	g := New(exec, Config{MaxDepth: 6})
	result, _, err := g.Run(context.Background(), State{CurrentNode: supervisorNode}, "start")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Kind != Respond || result.Output != "handled by supervisor" {
		t.Fatalf("expected control to return to supervisor, got %+v", result)
	}
	if exec.calls["shipping"] != 0 {
		t.Fatal("shipping must never be invoked directly by a peer")
	}
}

func TestRunDepthExceeded(t *testing.T) {
	exec := &scriptedExecutor{
		turns: map[string][]map[string]any{
			supervisorNode: {{"kind": "DELEGATE", "delegate_to": "billing", "delegate_prompt": "p"}},
			"billing":      {{"kind": "DELEGATE", "delegate_to": "shipping", "delegate_prompt": "p"}},
		},
		calls: map[string]int{},
	}
	g := New(exec, Config{MaxDepth: 2})
	result, state, err := g.Run(context.Background(), State{CurrentNode: supervisorNode}, "start")
	if err != nil {
		t.Fatalf("depth exhaustion must seal a terminal turn, not error: %v", err)
	}
	if result.Kind != End || result.Reason != "DEPTH_EXCEEDED" {
		t.Fatalf("expected sealed DEPTH_EXCEEDED end turn, got %+v", result)
	}
	if len(state.History) != 3 {
		t.Fatalf("expected the two delegation hops plus the sealed turn preserved, got %d turns", len(state.History))
	}
}

func TestRunCancellationPreservesTranscript(t *testing.T) {
	exec := &scriptedExecutor{
		turns: map[string][]map[string]any{
			supervisorNode: {{"kind": "DELEGATE", "delegate_to": "billing", "delegate_prompt": "p"}},
		},
		calls: map[string]int{},
	}
	g := New(exec, Config{MaxDepth: 6})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, state, err := g.Run(ctx, State{CurrentNode: supervisorNode}, "start")
	if err != nil {
		t.Fatalf("cancellation must seal a terminal turn, not error: %v", err)
	}
	if result.Kind != End || result.Reason != "CANCELLED" {
		t.Fatalf("expected sealed CANCELLED end turn, got %+v", result)
	}
	if len(state.History) != 1 {
		t.Fatalf("expected the sealed turn preserved, got %d turns", len(state.History))
	}
}
