package timemanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taleforge/dungeonmaster/pkg/dm/model"
)

func TestAdvanceAccumulatesTime(t *testing.T) {
	m := New()
	t1 := m.Advance("s1", 10*time.Second)
	t2 := m.Advance("s1", 5*time.Second)
	assert.True(t, t2.After(t1))
	assert.Equal(t, 15*time.Second, m.Now("s1").Sub(time.Time{}))
}

func TestAdvanceRejectsNegativeDelta(t *testing.T) {
	m := New()
	m.Advance("s1", -5*time.Second)
	assert.Equal(t, time.Time{}, m.Now("s1"))
}

func TestPeriodicRuleFiresAfterInterval(t *testing.T) {
	m := New()
	rule := NewPeriodicRule(m, "spell_slot_recovery", 10, time.Hour, func(sessionID string) model.GameEvent {
		return model.GameEvent{EventType: "spell_slot_recovery"}
	})
	m.RegisterRule(rule)

	m.Advance("s1", 30*time.Minute)
	events := m.CheckEvents("s1", 30*time.Minute)
	require.Len(t, events, 1, "first check always fires (no prior trigger recorded)")

	events = m.CheckEvents("s1", 0)
	assert.Len(t, events, 0, "second check too soon after the first trigger")

	m.Advance("s1", time.Hour)
	events = m.CheckEvents("s1", time.Hour)
	assert.Len(t, events, 1)
}

func TestCalendarRuleFiresOncePerSession(t *testing.T) {
	m := New()
	base := time.Date(2026, time.October, 31, 0, 0, 0, 0, time.UTC)
	rule := NewCalendarRule(m, "holiday", 5, time.October, 31, nil)
	m.RegisterRule(rule)

	m.mu.Lock()
	m.stateFor("s1").now = base
	m.mu.Unlock()

	events := m.CheckEvents("s1", 0)
	assert.Len(t, events, 1)

	events = m.CheckEvents("s1", 0)
	assert.Len(t, events, 0, "calendar rule must not refire the same session")
}

func TestRulesFireInPriorityOrder(t *testing.T) {
	m := New()
	var order []string
	low := &CustomRule{RuleName: "low", RulePriority: 1,
		TriggerFn: func(string, time.Time, time.Duration) bool { return true },
		ExecuteFn: func(string) model.GameEvent { order = append(order, "low"); return model.GameEvent{EventType: "low"} },
	}
	high := &CustomRule{RuleName: "high", RulePriority: 100,
		TriggerFn: func(string, time.Time, time.Duration) bool { return true },
		ExecuteFn: func(string) model.GameEvent { order = append(order, "high"); return model.GameEvent{EventType: "high"} },
	}
	m.RegisterRule(low)
	m.RegisterRule(high)

	m.CheckEvents("s1", 0)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestDisabledRuleDoesNotFire(t *testing.T) {
	m := New()
	rule := &CustomRule{RuleName: "r1", RulePriority: 1,
		TriggerFn: func(string, time.Time, time.Duration) bool { return true },
	}
	m.RegisterRule(rule)
	m.SetEnabled("r1", false)
	events := m.CheckEvents("s1", 0)
	assert.Empty(t, events)
}

func TestRulePanicIsLoggedAndDoesNotHaltIteration(t *testing.T) {
	m := New()
	panicker := &CustomRule{RuleName: "panics", RulePriority: 10,
		TriggerFn: func(string, time.Time, time.Duration) bool { panic("boom") },
	}
	fine := &CustomRule{RuleName: "fine", RulePriority: 1,
		TriggerFn: func(string, time.Time, time.Duration) bool { return true },
		ExecuteFn: func(string) model.GameEvent { return model.GameEvent{EventType: "fine"} },
	}
	m.RegisterRule(panicker)
	m.RegisterRule(fine)

	events := m.CheckEvents("s1", 0)
	require.Len(t, events, 1)
	assert.Equal(t, "fine", events[0].EventType)
}

func TestCleanupSessionResetsState(t *testing.T) {
	m := New()
	m.Advance("s1", time.Hour)
	m.CleanupSession("s1")
	assert.Equal(t, time.Time{}, m.Now("s1"))
}
