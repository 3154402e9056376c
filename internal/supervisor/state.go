// Package supervisor implements the hierarchical supervisor graph (spec §4.5):
// a bounded-depth state machine where control always returns to the
// supervisor between hops, never delegating directly between peer agents.
package supervisor

import "time"

// State is an immutable snapshot of one supervised conversation. Hop never
// mutates a State in place; it derives the next one, the same way the
// upstream coordinator treats an ExecutionResult as an accumulation rather
// than an in-place rewrite.
type State struct {
	RootTaskID  string
	UserID      string
	Depth       int
	CurrentNode string // "supervisor" or an agent_id
	History     []Turn
	Messages    []Message
	Budget      BudgetView
	Deadline    time.Time

	// PrivateState is per-agent scratch space, keyed by agent_id. A turn's
	// delta for its own namespace replaces that namespace wholesale
	// (last-write-wins); other agents' namespaces are left untouched.
	PrivateState map[string]map[string]any

	// ToolsUsed is the append-only log of every tool invoked across the
	// conversation, in the order turns completed.
	ToolsUsed []string
}

// Message is one entry in the conversation transcript exposed to agents.
type Message struct {
	Role    string
	Content string
}

// Turn records one supervisor decision for audit and replay.
type Turn struct {
	Node      string
	Result    TurnResult
	Timestamp time.Time
}

// BudgetView is the subset of budget accounting the supervisor consults to
// decide whether a turn can proceed; the budget package owns the authoritative
// accumulator.
type BudgetView struct {
	RemainingUSD    float64
	RemainingTokens int64
}

// WithTurn returns a new State with t appended to History and CurrentNode
// advanced, merging t.Result's state deltas: ToolsUsedDelta concatenates
// onto ToolsUsed, MessagesDelta concatenates onto Messages, and
// PrivateStateDelta overwrites the acting node's own namespace in
// PrivateState (last-write-wins per agent, spec §4.5). The caller still owns
// the previous State's slices and maps; WithTurn never writes into them.
func (s State) WithTurn(t Turn, nextNode string) State {
	history := make([]Turn, len(s.History), len(s.History)+1)
	copy(history, s.History)
	history = append(history, t)

	messages := make([]Message, len(s.Messages), len(s.Messages)+len(t.Result.MessagesDelta))
	copy(messages, s.Messages)
	messages = append(messages, t.Result.MessagesDelta...)

	toolsUsed := make([]string, len(s.ToolsUsed), len(s.ToolsUsed)+len(t.Result.ToolsUsedDelta))
	copy(toolsUsed, s.ToolsUsed)
	toolsUsed = append(toolsUsed, t.Result.ToolsUsedDelta...)

	privateState := make(map[string]map[string]any, len(s.PrivateState)+1)
	for agent, ns := range s.PrivateState {
		privateState[agent] = ns
	}
	if len(t.Result.PrivateStateDelta) > 0 {
		privateState[t.Node] = t.Result.PrivateStateDelta
	}

	return State{
		RootTaskID:   s.RootTaskID,
		UserID:       s.UserID,
		Depth:        s.Depth + 1,
		CurrentNode:  nextNode,
		History:      history,
		Messages:     messages,
		Budget:       s.Budget,
		Deadline:     s.Deadline,
		PrivateState: privateState,
		ToolsUsed:    toolsUsed,
	}
}

// WithBudget returns a new State with an updated budget view, leaving depth
// and history untouched.
func (s State) WithBudget(b BudgetView) State {
	next := s
	next.Budget = b
	return next
}
