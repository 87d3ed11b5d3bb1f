package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOQueuePreservesOrder(t *testing.T) {
	q := NewQueue(StrategyFIFO, nil, nil)
	q.Push(&Task{ID: "a"})
	q.Push(&Task{ID: "b"})
	assert.Equal(t, "a", q.Pop().ID)
	assert.Equal(t, "b", q.Pop().ID)
	assert.Nil(t, q.Pop())
}

func TestPriorityQueueReturnsHighestFirst(t *testing.T) {
	q := NewQueue(StrategyPriority, nil, nil)
	q.Push(&Task{ID: "low", Priority: PriorityLow})
	q.Push(&Task{ID: "critical", Priority: PriorityCritical})
	q.Push(&Task{ID: "normal", Priority: PriorityNormal})
	assert.Equal(t, "critical", q.Pop().ID)
	assert.Equal(t, "normal", q.Pop().ID)
	assert.Equal(t, "low", q.Pop().ID)
}

type fixedLoads []AgentLoad

func (f fixedLoads) Loads() []AgentLoad { return f }

func TestLoadBalanceStampsLeastUtilisedAgent(t *testing.T) {
	loads := fixedLoads{{AgentID: "busy", Active: 5}, {AgentID: "idle", Active: 0}}
	q := NewQueue(StrategyLoadBalance, loads, nil)
	task := &Task{ID: "t1", Priority: PriorityNormal}
	q.Push(task)
	assert.Equal(t, "idle", task.AssignedAgent)
}

type fixedCPU float64

func (f fixedCPU) CPUPercent() float64 { return float64(f) }

func TestAdaptiveSwitchesToPriorityWhenCPUHigh(t *testing.T) {
	loads := fixedLoads{{AgentID: "a", Active: 1}}
	q := NewQueue(StrategyAdaptive, loads, fixedCPU(95))
	critical := &Task{ID: "critical", Priority: PriorityCritical}
	low := &Task{ID: "low", Priority: PriorityLow}
	q.Push(low)
	q.Push(critical)
	// Under high CPU, adaptive behaves like PRIORITY: critical first.
	assert.Equal(t, "critical", q.Pop().ID)
}

func TestAdaptiveUsesLoadBalanceWhenCPULow(t *testing.T) {
	loads := fixedLoads{{AgentID: "a", Active: 1}, {AgentID: "b", Active: 9}}
	q := NewQueue(StrategyAdaptive, loads, fixedCPU(10))
	task := &Task{ID: "t1", Priority: PriorityNormal}
	q.Push(task)
	assert.Equal(t, "a", task.AssignedAgent)
}

func TestFailRetriesUntilMaxThenDrops(t *testing.T) {
	q := NewQueue(StrategyFIFO, nil, nil)
	task := &Task{ID: "t1", MaxRetries: 2}
	assert.True(t, q.Fail(task))
	assert.True(t, q.Fail(task))
	assert.False(t, q.Fail(task))
	assert.Equal(t, 2, q.Len())
}

func TestRegisterCollectorAcceptsParameterless(t *testing.T) {
	c := NewCollector(nil)
	err := c.RegisterCollector("bad", func() (string, float64) { return "x", 1 })
	require.NoError(t, err)
}

func TestHealthScoreWithinRange(t *testing.T) {
	c := NewCollector(map[string]*Queue{})
	report := c.Health(context.Background())
	assert.GreaterOrEqual(t, report.Score, 0.0)
	assert.LessOrEqual(t, report.Score, 100.0)
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(map[string]*Queue{"default": NewQueue(StrategyFIFO, nil, nil)})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	c.Stop()
}
