// Package timemanager implements the per-session monotonic Time Manager
// and Event Rule engine (C14): advancing a session's clock and firing
// rules in priority order as time passes.
package timemanager

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/dm/model"
)

// Rule is one event rule: it decides whether it fires given the
// session's current time and the delta just advanced, and produces a
// GameEvent when it does.
type Rule interface {
	Name() string
	Priority() int
	ShouldTrigger(sessionID string, now time.Time, delta time.Duration) bool
	Execute(sessionID string) model.GameEvent
}

// sessionState tracks one session's monotonic clock plus whatever
// mutable state the enabled rules need (triggered-once set, last
// trigger times), so cleanup_session can reset it all atomically.
type sessionState struct {
	now          time.Time
	lastTrigger  map[string]time.Time
	triggeredOnce map[string]bool
}

// Manager owns per-session clocks and the registered rule set.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	rules    []Rule
	enabled  map[string]bool
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{
		sessions: make(map[string]*sessionState),
		enabled:  make(map[string]bool),
	}
}

// RegisterRule adds a rule, enabled by default, and keeps the rule list
// sorted by descending priority so iteration order is always
// highest-first.
func (m *Manager) RegisterRule(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
	m.enabled[r.Name()] = true
	sort.SliceStable(m.rules, func(i, j int) bool { return m.rules[i].Priority() > m.rules[j].Priority() })
}

// SetEnabled toggles a rule on or off at runtime without removing it.
func (m *Manager) SetEnabled(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[name] = enabled
}

func (m *Manager) stateFor(sessionID string) *sessionState {
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &sessionState{
			now:           time.Time{},
			lastTrigger:   make(map[string]time.Time),
			triggeredOnce: make(map[string]bool),
		}
		m.sessions[sessionID] = s
	}
	return s
}

// Advance adds delta (must be >= 0) to sessionID's current time and
// returns the new time.
func (m *Manager) Advance(sessionID string, delta time.Duration) time.Time {
	if delta < 0 {
		delta = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateFor(sessionID)
	s.now = s.now.Add(delta)
	return s.now
}

// Now returns sessionID's current time without advancing it.
func (m *Manager) Now(sessionID string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateFor(sessionID).now
}

// CheckEvents iterates enabled rules in priority order (highest first),
// firing each whose ShouldTrigger returns true. A rule exception is
// logged and does not interrupt iteration over the remaining rules.
func (m *Manager) CheckEvents(sessionID string, delta time.Duration) []model.GameEvent {
	m.mu.Lock()
	now := m.stateFor(sessionID).now
	rules := make([]Rule, len(m.rules))
	copy(rules, m.rules)
	enabled := make(map[string]bool, len(m.enabled))
	for k, v := range m.enabled {
		enabled[k] = v
	}
	m.mu.Unlock()

	var events []model.GameEvent
	for _, r := range rules {
		if !enabled[r.Name()] {
			continue
		}
		if m.fireRule(r, sessionID, now, delta, &events) {
			continue
		}
	}
	return events
}

func (m *Manager) fireRule(r Rule, sessionID string, now time.Time, delta time.Duration, events *[]model.GameEvent) (handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("timemanager: rule panicked", "rule", r.Name(), "session", sessionID, "recover", rec)
			handled = true
		}
	}()
	if !r.ShouldTrigger(sessionID, now, delta) {
		return true
	}
	event := r.Execute(sessionID)

	m.mu.Lock()
	s := m.stateFor(sessionID)
	s.lastTrigger[r.Name()] = now
	s.triggeredOnce[r.Name()] = true
	m.mu.Unlock()

	*events = append(*events, event)
	return true
}

// LastTrigger returns when ruleName last fired for sessionID, and
// whether it has ever fired.
func (m *Manager) LastTrigger(sessionID, ruleName string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateFor(sessionID)
	t, ok := s.lastTrigger[ruleName]
	return t, ok
}

// HasTriggered reports whether ruleName has ever fired for sessionID —
// used by Calendar rules to fire at most once per session.
func (m *Manager) HasTriggered(sessionID, ruleName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateFor(sessionID).triggeredOnce[ruleName]
}

// CleanupSession removes sessionID's clock and all per-session rule
// state (triggered set, last-trigger map).
func (m *Manager) CleanupSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}
