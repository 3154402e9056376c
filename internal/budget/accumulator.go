package budget

import (
	"fmt"
	"sync"

	"github.com/cartrita/mcp/internal/mcperr"
)

// Accumulator tracks USD and token spend for a single request's lifetime.
// It never shares state across requests; the executor creates one per
// inbound TaskRequest and discards it when the request terminates (spec
// §4.7).
type Accumulator struct {
	mu         sync.Mutex
	maxUSD     float64
	maxTokens  int64
	usedUSD    float64
	usedTokens int64
}

// New creates an Accumulator with the given caps. A zero cap means
// unbounded for that dimension.
func New(maxUSD float64, maxTokens int64) *Accumulator {
	return &Accumulator{maxUSD: maxUSD, maxTokens: maxTokens}
}

// Charge records cost/tokens spent on a single model call, returning
// BUDGET_EXCEEDED if the charge would push either accumulator past its cap.
// On rejection no partial charge is recorded.
func (a *Accumulator) Charge(model string, promptTokens, completionTokens int64) error {
	cost := Estimate(model, promptTokens, completionTokens)
	tokens := promptTokens + completionTokens

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxUSD > 0 && a.usedUSD+cost > a.maxUSD {
		return mcperr.New(mcperr.BudgetExceeded, fmt.Sprintf("charge of $%.4f would exceed budget of $%.4f", cost, a.maxUSD))
	}
	if a.maxTokens > 0 && a.usedTokens+tokens > a.maxTokens {
		return mcperr.New(mcperr.BudgetExceeded, fmt.Sprintf("charge of %d tokens would exceed budget of %d", tokens, a.maxTokens))
	}
	a.usedUSD += cost
	a.usedTokens += tokens
	return nil
}

// WouldExceed reports whether charging an estimated cost/token count would
// push either accumulator past its cap, without recording anything. The
// router uses this as an admission filter so a candidate that would
// immediately blow the task's budget is skipped before it is ever
// dispatched to (spec §4.4). A nil Accumulator never excludes a candidate.
func (a *Accumulator) WouldExceed(estUSD float64, estTokens int64) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxUSD > 0 && a.usedUSD+estUSD > a.maxUSD {
		return true
	}
	if a.maxTokens > 0 && a.usedTokens+estTokens > a.maxTokens {
		return true
	}
	return false
}

// Snapshot reports current spend, for inclusion in TaskResponse.metrics.
func (a *Accumulator) Snapshot() (usedUSD float64, usedTokens int64, remainingUSD float64, remainingTokens int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	usedUSD, usedTokens = a.usedUSD, a.usedTokens
	if a.maxUSD > 0 {
		remainingUSD = a.maxUSD - a.usedUSD
	}
	if a.maxTokens > 0 {
		remainingTokens = a.maxTokens - a.usedTokens
	}
	return
}
