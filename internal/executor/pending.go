// Package executor issues tasks to agents and carries them through
// acknowledgement, retry, streaming, and cancellation (spec §4.6).
package executor

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cartrita/mcp/internal/wire"
)

const shardCount = 32

// pending is the executor's bookkeeping for one in-flight task.
type pending struct {
	TaskID     string
	AgentID    string
	Guarantee  wire.DeliveryGuarantee
	Deadline   time.Time
	RetryCount int
	CreatedAt  time.Time
	Cancel     context.CancelFunc
	Responses  chan *wire.Message // buffered 1; delivers the terminal TaskResponse
}

// pendingTable shards its map by FNV hash of task_id to keep lock
// contention low under many concurrent in-flight tasks, the same technique
// the upstream store uses to shard lease contention across agents, applied
// here to an in-memory structure instead of SQL rows.
type pendingTable struct {
	shards [shardCount]*shard
}

type shard struct {
	mu    sync.Mutex
	tasks map[string]*pending
}

func newPendingTable() *pendingTable {
	t := &pendingTable{}
	for i := range t.shards {
		t.shards[i] = &shard{tasks: make(map[string]*pending)}
	}
	return t
}

func (t *pendingTable) shardFor(taskID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	return t.shards[h.Sum32()%shardCount]
}

func (t *pendingTable) put(p *pending) {
	s := t.shardFor(p.TaskID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[p.TaskID] = p
}

func (t *pendingTable) get(taskID string) (*pending, bool) {
	s := t.shardFor(taskID)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tasks[taskID]
	return p, ok
}

func (t *pendingTable) delete(taskID string) {
	s := t.shardFor(taskID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

// len is for tests/diagnostics only.
func (t *pendingTable) len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.tasks)
		s.mu.Unlock()
	}
	return n
}
