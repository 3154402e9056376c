package supervisor

import (
	"context"
	"time"
)

// RootNode is the graph's virtual root: every session starts with
// CurrentNode set to RootNode, and only RootNode may hand control directly
// to another agent (spec §4.5's control-always-returns-to-supervisor rule).
const RootNode = "supervisor"

const supervisorNode = RootNode

// TurnExecutor runs one turn on node, returning its raw result for Parse.
// The executor package supplies the concrete implementation; supervisor
// only depends on this narrow interface to avoid an import cycle.
type TurnExecutor interface {
	ExecuteTurn(ctx context.Context, node, prompt string) (map[string]any, error)
}

// Config bounds a Graph's run.
type Config struct {
	MaxDepth int
}

// Graph drives a supervised conversation to completion.
type Graph struct {
	exec     TurnExecutor
	maxDepth int
}

// New builds a Graph over exec.
func New(exec TurnExecutor, cfg Config) *Graph {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &Graph{exec: exec, maxDepth: maxDepth}
}

// Run drives state from its CurrentNode through hops until a Respond or End
// turn is produced, the depth bound is hit, the deadline passes, or the
// conversation is cancelled. The final TurnResult and the State as of that
// turn are both returned so the caller can report metrics and warnings. Every
// termination -- including depth exhaustion, deadline expiry, and
// cancellation -- seals a terminal End turn onto History and returns it as a
// success rather than an error, so the transcript accumulated so far is
// never discarded (spec §4.5, §7).
func (g *Graph) Run(ctx context.Context, state State, prompt string) (TurnResult, State, error) {
	for {
		if state.Depth >= g.maxDepth {
			result, sealed := seal(state, "DEPTH_EXCEEDED", "maximum delegation depth reached")
			return result, sealed, nil
		}
		if !state.Deadline.IsZero() && now().After(state.Deadline) {
			result, sealed := seal(state, "TIMEOUT", "supervisor deadline exceeded")
			return result, sealed, nil
		}
		if err := ctx.Err(); err != nil {
			result, sealed := seal(state, "CANCELLED", "supervisor context cancelled: "+err.Error())
			return result, sealed, nil
		}

		raw, err := g.exec.ExecuteTurn(ctx, state.CurrentNode, prompt)
		if err != nil {
			return TurnResult{}, state, err
		}
		result, err := Parse(raw)
		if err != nil {
			return TurnResult{}, state, err
		}

		nextNode := g.nextNode(state, result)
		turn := Turn{Node: state.CurrentNode, Result: result, Timestamp: now()}
		state = state.WithTurn(turn, nextNode)

		switch result.Kind {
		case Respond, End:
			return result, state, nil
		case Delegate:
			prompt = result.DelegatePrompt
			continue
		}
	}
}

// seal forces a terminal End turn with reason and a warning, appends it to
// state's history, and returns both the sealed TurnResult and the resulting
// State, so the transcript accumulated before the termination condition was
// hit is never discarded.
func seal(state State, reason, warning string) (TurnResult, State) {
	result := TurnResult{Kind: End, Reason: reason, Warnings: []string{warning}}
	next := state.WithTurn(Turn{Node: state.CurrentNode, Result: result, Timestamp: now()}, state.CurrentNode)
	return result, next
}

// nextNode enforces the structural invariant that control always returns to
// the supervisor between hops: only the supervisor node may hand off
// directly to another agent. A sub-agent's attempt to delegate is honored as
// a request, but control still routes back through the supervisor rather
// than jumping straight to the requested peer.
func (g *Graph) nextNode(state State, result TurnResult) string {
	if result.Kind != Delegate {
		return supervisorNode
	}
	if state.CurrentNode == supervisorNode {
		return result.DelegateTo
	}
	return supervisorNode
}

// now is a seam for tests; production always uses time.Now.
var now = time.Now
