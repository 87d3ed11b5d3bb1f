// Package monitor implements the Monitoring / Task Scheduler (C9):
// priority-keyed task queues under FIFO, PRIORITY, LOAD_BALANCE, and
// ADAPTIVE strategies, a retry contract, and a periodic metrics
// collector feeding a health score.
package monitor

import (
	"sort"
	"sync"
)

// Priority is the closed ordering LOW < NORMAL < HIGH < CRITICAL.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Strategy selects how Queue.Pop chooses the next task.
type Strategy string

const (
	StrategyFIFO         Strategy = "fifo"
	StrategyPriority     Strategy = "priority"
	StrategyLoadBalance  Strategy = "load_balance"
	StrategyAdaptive     Strategy = "adaptive"
)

// Task is one unit of scheduled work.
type Task struct {
	ID         string
	Priority   Priority
	Payload    any
	Retries    int
	MaxRetries int
	AssignedAgent string // stamped by LOAD_BALANCE on enqueue
}

// AgentLoad reports how busy one agent currently is, used by the
// LOAD_BALANCE strategy to pick the least-utilised target.
type AgentLoad struct {
	AgentID string
	Active  int
}

// LoadSource supplies current per-agent utilisation to the queue.
type LoadSource interface {
	Loads() []AgentLoad
}

// CPUSource supplies a (possibly cached) current CPU percentage, used
// by ADAPTIVE to pick between PRIORITY and LOAD_BALANCE.
type CPUSource interface {
	CPUPercent() float64
}

// Queue is a priority-keyed task queue implementing all four dispatch
// strategies over the same underlying storage.
type Queue struct {
	mu       sync.Mutex
	strategy Strategy
	fifo     []*Task
	buckets  map[Priority][]*Task
	loads    LoadSource
	cpu      CPUSource

	adaptiveThreshold float64
}

// NewQueue builds a Queue under the given strategy. loads/cpu may be
// nil if the chosen strategy never needs them (FIFO, PRIORITY).
func NewQueue(strategy Strategy, loads LoadSource, cpu CPUSource) *Queue {
	return &Queue{
		strategy:          strategy,
		buckets:           make(map[Priority][]*Task),
		loads:             loads,
		cpu:               cpu,
		adaptiveThreshold: 80,
	}
}

// Push enqueues task, stamping AssignedAgent when the effective
// strategy is LOAD_BALANCE.
func (q *Queue) Push(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.effectiveStrategy() == StrategyLoadBalance && q.loads != nil {
		task.AssignedAgent = leastUtilised(q.loads.Loads())
	}

	switch q.strategy {
	case StrategyFIFO:
		q.fifo = append(q.fifo, task)
	default:
		q.buckets[task.Priority] = append(q.buckets[task.Priority], task)
	}
}

// effectiveStrategy resolves ADAPTIVE to PRIORITY or LOAD_BALANCE based
// on the cached CPU reading; must be called with q.mu held.
func (q *Queue) effectiveStrategy() Strategy {
	if q.strategy != StrategyAdaptive {
		return q.strategy
	}
	if q.cpu != nil && q.cpu.CPUPercent() > q.adaptiveThreshold {
		return StrategyPriority
	}
	return StrategyLoadBalance
}

// Pop removes and returns the next task per the active strategy, or nil
// if the queue is empty.
func (q *Queue) Pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.strategy == StrategyFIFO {
		if len(q.fifo) == 0 {
			return nil
		}
		t := q.fifo[0]
		q.fifo = q.fifo[1:]
		return t
	}

	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow} {
		bucket := q.buckets[p]
		if len(bucket) > 0 {
			t := bucket[0]
			q.buckets[p] = bucket[1:]
			return t
		}
	}
	return nil
}

// Depths returns the current queue length per priority (zero for FIFO,
// which has no priority buckets).
func (q *Queue) Depths() map[Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[Priority]int, 4)
	for p, bucket := range q.buckets {
		out[p] = len(bucket)
	}
	return out
}

// Len returns the total number of queued tasks across all buckets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.strategy == StrategyFIFO {
		return len(q.fifo)
	}
	total := 0
	for _, bucket := range q.buckets {
		total += len(bucket)
	}
	return total
}

// Fail increments task's retry count and re-enqueues it until
// MaxRetries is exceeded, after which it is dropped. Returns false when
// the task was dropped.
func (q *Queue) Fail(task *Task) bool {
	task.Retries++
	if task.Retries > task.MaxRetries {
		return false
	}
	q.Push(task)
	return true
}

func leastUtilised(loads []AgentLoad) string {
	if len(loads) == 0 {
		return ""
	}
	sorted := make([]AgentLoad, len(loads))
	copy(sorted, loads)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Active < sorted[j].Active })
	return sorted[0].AgentID
}
