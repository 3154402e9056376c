// Package router scores candidate agents for a task and queues requests
// under saturation (spec §4.4).
package router

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cartrita/mcp/internal/budget"
	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/cartrita/mcp/internal/registry"
)

// Weights configures the composite scoring function. Defaults mirror spec §4.4.
type Weights struct {
	Capability float64
	Load       float64
	Cost       float64
	Latency    float64
	Affinity   float64
}

// DefaultWeights is the spec's default weighting.
var DefaultWeights = Weights{
	Capability: 0.35,
	Load:       0.25,
	Cost:       0.15,
	Latency:    0.15,
	Affinity:   0.10,
}

// Request is a routing candidate lookup for one task.
type Request struct {
	TaskID         string
	Capability     string
	PreferredAgent string
	RoutingTags    []string
	Priority       int // 0-9, higher is more urgent
	CreatedAt      time.Time

	// Budget, if set, gates candidate selection: a candidate whose CostHint
	// would immediately exceed the task's remaining budget is skipped
	// (spec §4.4). Nil disables the filter.
	Budget *budget.Accumulator
}

// Router scores registry candidates and queues requests that arrive while
// the system is saturated.
type Router struct {
	reg     *registry.Registry
	weights Weights

	mu       sync.Mutex
	queue    priorityQueue
	queueCap int
}

// Config configures a Router.
type Config struct {
	Weights  Weights
	QueueCap int // 0 disables queueing (admission is immediate accept/reject)
}

// New builds a Router over reg.
func New(reg *registry.Registry, cfg Config) *Router {
	w := cfg.Weights
	if w == (Weights{}) {
		w = DefaultWeights
	}
	return &Router{reg: reg, weights: w, queueCap: cfg.QueueCap}
}

// scored pairs an agent with its composite score for one Request.
type scored struct {
	info  registry.Info
	score float64
}

// Route selects the best candidate agent for req. If the preferred agent is
// present, READY, advertises the capability, and would not exceed req.Budget,
// it is used directly (spec §4.4's preferred-agent shortcut). Otherwise every
// matching, affordable candidate is scored and the highest scorer wins, ties
// broken lexicographically by agent_id for determinism.
func (r *Router) Route(req Request) (registry.Info, error) {
	if req.PreferredAgent != "" {
		if info, ok := r.reg.Get(req.PreferredAgent); ok && info.Health == registry.Ready && hasCapability(info, req.Capability) {
			if !req.Budget.WouldExceed(info.CostHint, 0) {
				return info, nil
			}
		}
	}

	candidates := r.reg.Query(req.Capability)
	if len(candidates) == 0 {
		return registry.Info{}, mcperr.New(mcperr.RouteUnavailable, fmt.Sprintf("no agent advertises capability %q", req.Capability))
	}

	if req.Budget != nil {
		affordable := candidates[:0]
		for _, c := range candidates {
			if !req.Budget.WouldExceed(c.CostHint, 0) {
				affordable = append(affordable, c)
			}
		}
		candidates = affordable
		if len(candidates) == 0 {
			return registry.Info{}, mcperr.New(mcperr.BudgetExceeded, fmt.Sprintf("every candidate for capability %q would exceed the task budget", req.Capability))
		}
	}

	scoredCandidates := make([]scored, len(candidates))
	for i, c := range candidates {
		scoredCandidates[i] = scored{info: c, score: r.score(c, req)}
	}
	sort.Slice(scoredCandidates, func(i, j int) bool {
		if scoredCandidates[i].score != scoredCandidates[j].score {
			return scoredCandidates[i].score > scoredCandidates[j].score
		}
		return scoredCandidates[i].info.AgentID < scoredCandidates[j].info.AgentID
	})
	return scoredCandidates[0].info, nil
}

func (r *Router) score(info registry.Info, req Request) float64 {
	capScore := 0.0
	if hasCapability(info, req.Capability) {
		capScore = 1.0
	}
	loadScore := 1.0 - clamp01(info.Load)
	costScore := 1.0 / (1.0 + maxf(info.CostHint, 0))
	latencyScore := 1.0 / (1.0 + float64(maxInt64(info.LatencyHintMs, 0))/1000.0)
	affinityScore := affinity(info, req.RoutingTags)

	return r.weights.Capability*capScore +
		r.weights.Load*loadScore +
		r.weights.Cost*costScore +
		r.weights.Latency*latencyScore +
		r.weights.Affinity*affinityScore
}

func hasCapability(info registry.Info, capability string) bool {
	for _, c := range info.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func affinity(info registry.Info, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	tagSet := make(map[string]struct{}, len(info.Tags))
	for _, t := range info.Tags {
		tagSet[t] = struct{}{}
	}
	hits := 0
	for _, t := range tags {
		if _, ok := tagSet[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(tags))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func maxf(f, min float64) float64 {
	if f < min {
		return min
	}
	return f
}

func maxInt64(v, min int64) int64 {
	if v < min {
		return min
	}
	return v
}

// Enqueue admits req to the backpressure queue, used when Route finds no
// immediately available capacity (the executor decides that; Router only
// tracks depth). Returns BACKPRESSURE once the queue is at queueCap.
func (r *Router) Enqueue(req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queueCap > 0 && len(r.queue) >= r.queueCap {
		return mcperr.New(mcperr.Backpressure, fmt.Sprintf("routing queue at capacity %d", r.queueCap))
	}
	heap.Push(&r.queue, &queueItem{req: req})
	return nil
}

// Dequeue pops the highest-priority, earliest-submitted request, or reports
// ok=false if the queue is empty.
func (r *Router) Dequeue() (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return Request{}, false
	}
	item := heap.Pop(&r.queue).(*queueItem)
	return item.req, true
}

// QueueDepth reports the current backpressure queue length.
func (r *Router) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// queueItem and priorityQueue implement container/heap, keyed by
// (-priority, created_at) so higher priority dequeues first and, within the
// same priority, the earliest-submitted request dequeues first.
type queueItem struct {
	req   Request
	index int
}

type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].req.Priority != pq[j].req.Priority {
		return pq[i].req.Priority > pq[j].req.Priority
	}
	return pq[i].req.CreatedAt.Before(pq[j].req.CreatedAt)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}
