package dm

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/taleforge/dungeonmaster/pkg/dm/model"
	"github.com/taleforge/dungeonmaster/pkg/llms"
)

// NPCState is one NPC's persisted personality and memory, loaded lazily
// by the pool on first need.
type NPCState struct {
	NPCID       string
	SessionID   string
	Name        string
	Personality string
	Memory      []string
	Emotion     map[string]any
}

// NPCStore loads an NPC's persisted state and records memory deltas.
// A real implementation backs this with the graph entity store (§6);
// there is no in-process default because NPC state is campaign data,
// not a disposable cache.
type NPCStore interface {
	Load(ctx context.Context, sessionID, npcID string) (NPCState, error)
	SaveMemory(ctx context.Context, sessionID, npcID string, delta []string) error
}

// npcAgent wraps one loaded NPCState. mu serialises memory updates to
// this NPC only; it is never held across the LLM call.
type npcAgent struct {
	mu    sync.Mutex
	state NPCState
}

func (a *npcAgent) respond(ctx context.Context, llm Chatter, tasks []model.DispatchedTask) model.NPCResponse {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Personality: %s\n", state.Name, state.Personality)
	if len(state.Memory) > 0 {
		fmt.Fprintf(&b, "What you remember: %s\n", strings.Join(state.Memory, "; "))
	}
	b.WriteString("Respond to the following in one beat of the scene. ")
	b.WriteString(`Reply with strict JSON only: {"dialogue": "...", "action": "...", "memory_delta": ["..."], "emotion_delta": {}}.` + "\n\n")
	for _, t := range tasks {
		switch t.InputType {
		case model.InputDialogue:
			fmt.Fprintf(&b, "%s says to you: %q\n", t.Payload.Speaker, t.Payload.Line)
		case model.InputAction:
			fmt.Fprintf(&b, "A player attempts %s against you.\n", t.Payload.ActionType)
		default:
			fmt.Fprintf(&b, "Event: %s\n", t.ClassifiedInput.Content)
		}
	}

	resp, err := llm.Chat(ctx, []llms.Message{{Role: "user", Content: b.String()}}, nil, llms.PriorityMedium)
	if err != nil {
		return model.NPCResponse{NPCID: state.NPCID, Dialogue: "...", Action: "hesitates"}
	}

	var parsed struct {
		Dialogue     string         `json:"dialogue"`
		Action       string         `json:"action"`
		MemoryDelta  []string       `json:"memory_delta"`
		EmotionDelta map[string]any `json:"emotion_delta"`
	}
	if err := extractJSON(resp.Text, &parsed); err != nil {
		return model.NPCResponse{NPCID: state.NPCID, Dialogue: resp.Text}
	}
	return model.NPCResponse{
		NPCID:        state.NPCID,
		Dialogue:     parsed.Dialogue,
		Action:       parsed.Action,
		MemoryDelta:  parsed.MemoryDelta,
		EmotionDelta: parsed.EmotionDelta,
	}
}

// updateMemory appends delta to this NPC's in-memory state and persists
// it, serialised per NPC.
func (a *npcAgent) updateMemory(ctx context.Context, store NPCStore, delta []string) error {
	if len(delta) == 0 {
		return nil
	}
	a.mu.Lock()
	a.state.Memory = append(a.state.Memory, delta...)
	sessionID, npcID := a.state.SessionID, a.state.NPCID
	a.mu.Unlock()
	return store.SaveMemory(ctx, sessionID, npcID, delta)
}

// NPCPool lazily constructs one npcAgent per (session, npc), bounded by
// capacity. On overflow it evicts the least-recently-used agent that is
// not currently handling a turn.
type NPCPool struct {
	llm      Chatter
	store    NPCStore
	capacity int

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[string]*list.Element
	running map[string]int
}

type poolEntry struct {
	key   string
	agent *npcAgent
}

// NewNPCPool builds a pool over llm and store with room for at most
// capacity live NPC agents.
func NewNPCPool(llm Chatter, store NPCStore, capacity int) *NPCPool {
	if capacity <= 0 {
		capacity = 64
	}
	return &NPCPool{
		llm:      llm,
		store:    store,
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		running:  make(map[string]int),
	}
}

func poolKey(sessionID, npcID string) string { return sessionID + "\x00" + npcID }

// acquire returns the agent for (sessionID, npcID), constructing it
// from persisted state on first use, and marks it running.
func (p *NPCPool) acquire(ctx context.Context, sessionID, npcID string) (*npcAgent, error) {
	p.mu.Lock()
	key := poolKey(sessionID, npcID)
	if el, ok := p.entries[key]; ok {
		p.order.MoveToFront(el)
		p.running[key]++
		agent := el.Value.(*poolEntry).agent
		p.mu.Unlock()
		return agent, nil
	}
	p.mu.Unlock()

	state, err := p.store.Load(ctx, sessionID, npcID)
	if err != nil {
		return nil, fmt.Errorf("dm: loading npc %s/%s: %w", sessionID, npcID, err)
	}
	state.SessionID, state.NPCID = sessionID, npcID
	agent := &npcAgent{state: state}

	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.entries[key]; ok {
		p.order.MoveToFront(el)
		p.running[key]++
		return el.Value.(*poolEntry).agent, nil
	}
	el := p.order.PushFront(&poolEntry{key: key, agent: agent})
	p.entries[key] = el
	p.running[key]++
	p.evictIfNeeded()
	return agent, nil
}

func (p *NPCPool) release(sessionID, npcID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := poolKey(sessionID, npcID)
	if p.running[key] > 0 {
		p.running[key]--
	}
}

// evictIfNeeded must be called with mu held.
func (p *NPCPool) evictIfNeeded() {
	for len(p.entries) > p.capacity {
		el := p.order.Back()
		for el != nil {
			entry := el.Value.(*poolEntry)
			if p.running[entry.key] == 0 {
				p.order.Remove(el)
				delete(p.entries, entry.key)
				delete(p.running, entry.key)
				break
			}
			el = el.Prev()
		}
		if el == nil {
			// every loaded agent is busy; nothing safe to evict right now.
			return
		}
	}
}

// npcGroupResult pairs a target NPC with the outcome of its task group.
type npcGroupResult struct {
	npcID    string
	response model.NPCResponse
	err      error
}

// HandleTurn groups tasks by TargetNPCID and invokes each target NPC
// concurrently with the others, as a single request per NPC (§4.12).
// A single NPC's failure is recorded and does not fail the turn.
func (p *NPCPool) HandleTurn(ctx context.Context, sessionID string, tasks []model.DispatchedTask) map[string]model.NPCResponse {
	groups := make(map[string][]model.DispatchedTask)
	for _, t := range tasks {
		if !t.RequiresNPCResponse || t.TargetNPCID == "" {
			continue
		}
		groups[t.TargetNPCID] = append(groups[t.TargetNPCID], t)
	}

	results := make(chan npcGroupResult, len(groups))
	var wg sync.WaitGroup
	for npcID, group := range groups {
		wg.Add(1)
		go func(npcID string, group []model.DispatchedTask) {
			defer wg.Done()
			results <- p.handleGroup(ctx, sessionID, npcID, group)
		}(npcID, group)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	responses := make(map[string]model.NPCResponse, len(groups))
	for r := range results {
		if r.err != nil {
			slog.Error("npc agent failed", "npc", r.npcID, "session", sessionID, "error", r.err)
			continue
		}
		responses[r.npcID] = r.response
	}
	return responses
}

func (p *NPCPool) handleGroup(ctx context.Context, sessionID, npcID string, group []model.DispatchedTask) (result npcGroupResult) {
	result.npcID = npcID
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("npc agent %s panicked: %v", npcID, r)
		}
	}()

	agent, err := p.acquire(ctx, sessionID, npcID)
	if err != nil {
		result.err = err
		return result
	}
	defer p.release(sessionID, npcID)

	result.response = agent.respond(ctx, p.llm, group)
	return result
}

// UpdateMemories pushes each response's memory_delta through the owning
// NPC agent, serialised per NPC and parallel across NPCs (§4.12).
func (p *NPCPool) UpdateMemories(ctx context.Context, sessionID string, responses map[string]model.NPCResponse) {
	var wg sync.WaitGroup
	for npcID, resp := range responses {
		if len(resp.MemoryDelta) == 0 {
			continue
		}
		wg.Add(1)
		go func(npcID string, delta []string) {
			defer wg.Done()
			agent, err := p.acquire(ctx, sessionID, npcID)
			if err != nil {
				slog.Error("npc memory update: load failed", "npc", npcID, "error", err)
				return
			}
			defer p.release(sessionID, npcID)
			if err := agent.updateMemory(ctx, p.store, delta); err != nil {
				slog.Error("npc memory update failed", "npc", npcID, "error", err)
			}
		}(npcID, resp.MemoryDelta)
	}
	wg.Wait()
}
