package timemanager

import (
	"time"

	"github.com/google/uuid"
	"github.com/taleforge/dungeonmaster/pkg/dm/model"
)

// PeriodicRule fires when now - last_trigger >= Interval (e.g. spell
// slot recovery).
type PeriodicRule struct {
	RuleName    string
	RulePriority int
	Interval    time.Duration
	OnExecute   func(sessionID string) model.GameEvent

	mgr *Manager
}

// NewPeriodicRule builds a Periodic rule bound to mgr so it can read its
// own last-trigger time via mgr.LastTrigger.
func NewPeriodicRule(mgr *Manager, name string, priority int, interval time.Duration, onExecute func(string) model.GameEvent) *PeriodicRule {
	return &PeriodicRule{RuleName: name, RulePriority: priority, Interval: interval, OnExecute: onExecute, mgr: mgr}
}

func (r *PeriodicRule) Name() string  { return r.RuleName }
func (r *PeriodicRule) Priority() int { return r.RulePriority }

func (r *PeriodicRule) ShouldTrigger(sessionID string, now time.Time, delta time.Duration) bool {
	last, ok := r.mgr.LastTrigger(sessionID, r.RuleName)
	if !ok {
		return true
	}
	return now.Sub(last) >= r.Interval
}

func (r *PeriodicRule) Execute(sessionID string) model.GameEvent {
	if r.OnExecute != nil {
		return r.OnExecute(sessionID)
	}
	return model.GameEvent{EventID: uuid.NewString(), EventType: "periodic", Description: r.RuleName}
}

// CalendarRule fires once per session when now's date matches Date
// (e.g. a holiday).
type CalendarRule struct {
	RuleName     string
	RulePriority int
	Month        time.Month
	Day          int
	OnExecute    func(sessionID string) model.GameEvent

	mgr *Manager
}

// NewCalendarRule builds a Calendar rule bound to mgr so it can check
// whether it has already fired this session.
func NewCalendarRule(mgr *Manager, name string, priority int, month time.Month, day int, onExecute func(string) model.GameEvent) *CalendarRule {
	return &CalendarRule{RuleName: name, RulePriority: priority, Month: month, Day: day, OnExecute: onExecute, mgr: mgr}
}

func (r *CalendarRule) Name() string  { return r.RuleName }
func (r *CalendarRule) Priority() int { return r.RulePriority }

func (r *CalendarRule) ShouldTrigger(sessionID string, now time.Time, delta time.Duration) bool {
	if r.mgr.HasTriggered(sessionID, r.RuleName) {
		return false
	}
	return now.Month() == r.Month && now.Day() == r.Day
}

func (r *CalendarRule) Execute(sessionID string) model.GameEvent {
	if r.OnExecute != nil {
		return r.OnExecute(sessionID)
	}
	return model.GameEvent{EventID: uuid.NewString(), EventType: "calendar", Description: r.RuleName}
}

// CustomRule delegates both the trigger decision and the event
// production to user-supplied callbacks.
type CustomRule struct {
	RuleName      string
	RulePriority  int
	TriggerFn     func(sessionID string, now time.Time, delta time.Duration) bool
	ExecuteFn     func(sessionID string) model.GameEvent
}

func (r *CustomRule) Name() string  { return r.RuleName }
func (r *CustomRule) Priority() int { return r.RulePriority }

func (r *CustomRule) ShouldTrigger(sessionID string, now time.Time, delta time.Duration) bool {
	if r.TriggerFn == nil {
		return false
	}
	return r.TriggerFn(sessionID, now, delta)
}

func (r *CustomRule) Execute(sessionID string) model.GameEvent {
	if r.ExecuteFn != nil {
		return r.ExecuteFn(sessionID)
	}
	return model.GameEvent{EventID: uuid.NewString(), EventType: "custom", Description: r.RuleName}
}
