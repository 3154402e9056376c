package supervisor

import (
	"fmt"

	"github.com/cartrita/mcp/internal/mcperr"
)

// TurnKind discriminates the TurnResult sum type. An agent's reply to a hop
// must be exactly one of these three, decided once at the graph boundary
// (Parse) rather than re-interpreted by every caller downstream.
type TurnKind string

const (
	Respond  TurnKind = "RESPOND"
	Delegate TurnKind = "DELEGATE"
	End      TurnKind = "END"
)

// TurnResult is what an agent's turn produces: either a final answer to
// return to the caller (Respond), a request to hand control to another
// agent (Delegate), or a signal that the conversation is finished with no
// further output (End).
type TurnResult struct {
	Kind TurnKind

	// Respond
	Output string

	// Delegate
	DelegateTo     string
	DelegatePrompt string

	// End
	Reason string

	// Warnings surfaces non-fatal conditions the caller should know about
	// without failing the turn outright -- e.g. an unparseable agent reply
	// that was downgraded to a fallback Respond.
	Warnings []string

	// State deltas (spec §3/§4.5), merged into the running State by
	// State.WithTurn. MessagesDelta and ToolsUsedDelta are append-only;
	// PrivateStateDelta replaces the acting node's own namespace wholesale.
	MessagesDelta     []Message
	ToolsUsedDelta    []string
	PrivateStateDelta map[string]any
}

// rawTurn is the wire shape an agent's TASK_RESPONSE.result is expected to
// unmarshal into before Parse converts it to a TurnResult.
type rawTurn struct {
	Kind           string `msgpack:"kind"`
	Output         string `msgpack:"output,omitempty"`
	DelegateTo     string `msgpack:"delegate_to,omitempty"`
	DelegatePrompt string `msgpack:"delegate_prompt,omitempty"`
	Reason         string `msgpack:"reason,omitempty"`
}

// Parse converts a raw agent result into a TurnResult, validating it
// structurally exactly once at the graph boundary. Every other consumer in
// the supervisor trusts the result of Parse and never re-inspects the
// underlying map. An unrecognized kind fails closed to a fallback Respond
// with a logged warning rather than erroring the whole session (spec §9):
// one agent's malformed reply should degrade gracefully, not abort a
// multi-hop conversation that other turns already made progress on.
func Parse(raw map[string]any) (TurnResult, error) {
	kind, _ := raw["kind"].(string)
	deltas := parseStateDeltas(raw)

	switch TurnKind(kind) {
	case Respond:
		output, _ := raw["output"].(string)
		result := TurnResult{Kind: Respond, Output: output}
		result.MessagesDelta, result.ToolsUsedDelta, result.PrivateStateDelta = deltas.messages, deltas.toolsUsed, deltas.privateState
		return result, nil
	case Delegate:
		to, _ := raw["delegate_to"].(string)
		if to == "" {
			return TurnResult{}, mcperr.New(mcperr.ProtocolViolation, "delegate turn missing delegate_to")
		}
		prompt, _ := raw["delegate_prompt"].(string)
		result := TurnResult{Kind: Delegate, DelegateTo: to, DelegatePrompt: prompt}
		result.MessagesDelta, result.ToolsUsedDelta, result.PrivateStateDelta = deltas.messages, deltas.toolsUsed, deltas.privateState
		return result, nil
	case End:
		reason, _ := raw["reason"].(string)
		result := TurnResult{Kind: End, Reason: reason}
		result.MessagesDelta, result.ToolsUsedDelta, result.PrivateStateDelta = deltas.messages, deltas.toolsUsed, deltas.privateState
		return result, nil
	default:
		return TurnResult{
			Kind:    Respond,
			Output:  "the previous turn's reply could not be interpreted; treating it as a final answer",
			Warnings: []string{
				fmt.Sprintf("PROTOCOL_VIOLATION: unknown turn kind %q, fell back to RESPOND", kind),
			},
			MessagesDelta:     deltas.messages,
			ToolsUsedDelta:    deltas.toolsUsed,
			PrivateStateDelta: deltas.privateState,
		}, nil
	}
}

// stateDeltas holds the optional per-turn state deltas an agent may attach
// to its reply alongside kind/output/etc.
type stateDeltas struct {
	messages     []Message
	toolsUsed    []string
	privateState map[string]any
}

// parseStateDeltas extracts tools_used_delta, private_state_delta, and
// messages_delta from a raw agent reply. Every field is optional; a missing
// or malformed one is treated as empty rather than an error, since these
// deltas are additive metadata and should never block a turn whose
// kind/output/etc. parsed successfully.
func parseStateDeltas(raw map[string]any) stateDeltas {
	var out stateDeltas

	if v, ok := raw["tools_used_delta"].([]any); ok {
		for _, item := range v {
			if s, ok := item.(string); ok {
				out.toolsUsed = append(out.toolsUsed, s)
			}
		}
	}

	if v, ok := raw["messages_delta"].([]any); ok {
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			role, _ := entry["role"].(string)
			content, _ := entry["content"].(string)
			out.messages = append(out.messages, Message{Role: role, Content: content})
		}
	}

	if v, ok := raw["private_state_delta"].(map[string]any); ok {
		out.privateState = v
	}

	return out
}
