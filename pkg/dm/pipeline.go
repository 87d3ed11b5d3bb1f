package dm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taleforge/dungeonmaster/pkg/dm/model"
	"github.com/taleforge/dungeonmaster/pkg/timemanager"
)

// TurnRecord is the audit trail phase 6 writes for one processed turn.
type TurnRecord struct {
	SessionID    string
	Inputs       []model.PlayerInput
	Tasks        []model.DispatchedTask
	NPCResponses map[string]model.NPCResponse
	Events       []model.GameEvent
	Narrative    string
	RecordedAt   time.Time
}

// TurnRecorder persists a TurnRecord. Implementations typically write
// through the file store or a dedicated table; a nil TurnRecorder
// disables recording without changing pipeline behavior.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, record TurnRecord) error
}

// Pipeline wires the classifier, extractor, dispatcher, NPC pool, time
// manager, and response generator into process_player_turn (§4.9).
type Pipeline struct {
	classifier *Classifier
	extractor  *Extractor
	dispatcher *Dispatcher
	npcs       *NPCPool
	clock      *timemanager.Manager
	responses  *ResponseGenerator
	recorder   TurnRecorder
	styles     func(sessionID string) model.DMStyle
}

// PipelineConfig collects a Pipeline's collaborators. Recorder and
// Styles are optional: a nil Recorder skips persistence, and a nil
// Styles function falls back to the zero-value DMStyle.
type PipelineConfig struct {
	Classifier *Classifier
	Extractor  *Extractor
	Dispatcher *Dispatcher
	NPCs       *NPCPool
	Clock      *timemanager.Manager
	Responses  *ResponseGenerator
	Recorder   TurnRecorder
	Styles     func(sessionID string) model.DMStyle
}

// NewPipeline builds a Pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		classifier: cfg.Classifier,
		extractor:  cfg.Extractor,
		dispatcher: cfg.Dispatcher,
		npcs:       cfg.NPCs,
		clock:      cfg.Clock,
		responses:  cfg.Responses,
		recorder:   cfg.Recorder,
		styles:     cfg.Styles,
	}
}

// TurnResult is what ProcessPlayerTurn returns: the narrative players
// see plus the perceptible facts it was built from.
type TurnResult struct {
	Narrative string
	Info      model.PerceptibleInfo
}

// ProcessPlayerTurn runs the eight-phase turn pipeline for sessionID
// over inputs (§4.9). Phases 1-3 run in the order listed; phase 4's two
// concurrent sub-tasks (NPC fan-out, time advance) both complete before
// phase 5; phase 6 completes before phase 8.
func (p *Pipeline) ProcessPlayerTurn(ctx context.Context, sessionID string, inputs []model.PlayerInput) TurnResult {
	// Phase 1: classify.
	classified := p.classifier.ClassifyBatch(ctx, inputs)

	// Phase 2: extract entities.
	entities := p.extractor.ExtractBatch(ctx, classified)

	// Phase 3: dispatch.
	tasks := p.dispatcher.Dispatch(classified, entities)

	// Phase 4: NPC fan-out and time advance, concurrently; both must
	// finish before phase 5 runs.
	var npcResponses map[string]model.NPCResponse
	var newNow time.Time
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		npcResponses = p.npcs.HandleTurn(gctx, sessionID, tasks)
		return nil
	})
	totalCost := sumTimeCost(tasks)
	g.Go(func() error {
		newNow = p.clock.Advance(sessionID, totalCost)
		return nil
	})
	_ = g.Wait() // both goroutines are error-free by construction; failures are recorded internally

	// Phase 5: event rules, now that time has advanced.
	events := p.clock.CheckEvents(sessionID, totalCost)
	_ = newNow

	// Phase 6: memory updates and game records, both complete before
	// phase 8 response generation.
	p.npcs.UpdateMemories(ctx, sessionID, npcResponses)
	p.recordTurn(ctx, sessionID, inputs, tasks, npcResponses, events)

	// Phase 7: assemble the perceptible view of the turn.
	info := buildPerceptibleInfo(classified, npcResponses, events)

	// Phase 8: narrate.
	style := model.DMStyle{}
	if p.styles != nil {
		style = p.styles(sessionID)
	}
	narrative := p.responses.Generate(ctx, info, style)

	if p.recorder != nil {
		// best effort: the narrative goes into a second record that
		// carries only the session ID, the narrative and a timestamp.
		p.recordNarrative(ctx, sessionID, narrative)
	}

	return TurnResult{Narrative: narrative, Info: info}
}

func sumTimeCost(tasks []model.DispatchedTask) time.Duration {
	var total time.Duration
	for _, t := range tasks {
		total += t.TimeCost
	}
	return total
}

func buildPerceptibleInfo(classified []model.ClassifiedInput, npcResponses map[string]model.NPCResponse, events []model.GameEvent) model.PerceptibleInfo {
	perceptibleResponses := make([]model.PerceptibleNPCResponse, 0, len(npcResponses))
	changed := make([]string, 0, len(npcResponses))
	for npcID, resp := range npcResponses {
		perceptibleResponses = append(perceptibleResponses, resp.ToPerceptible())
		changed = append(changed, npcID)
	}
	return model.PerceptibleInfo{
		PlayerActions:   classified,
		NPCResponses:    perceptibleResponses,
		Events:          events,
		ChangedEntities: changed,
	}
}

func (p *Pipeline) recordTurn(ctx context.Context, sessionID string, inputs []model.PlayerInput, tasks []model.DispatchedTask, npcResponses map[string]model.NPCResponse, events []model.GameEvent) {
	if p.recorder == nil {
		return
	}
	record := TurnRecord{
		SessionID:    sessionID,
		Inputs:       inputs,
		Tasks:        tasks,
		NPCResponses: npcResponses,
		Events:       events,
	}
	if err := p.recorder.RecordTurn(ctx, record); err != nil {
		slog.Error("dm: failed to record turn", "session", sessionID, "error", err)
	}
}

func (p *Pipeline) recordNarrative(ctx context.Context, sessionID, narrative string) {
	if err := p.recorder.RecordTurn(ctx, TurnRecord{SessionID: sessionID, Narrative: narrative, RecordedAt: time.Now()}); err != nil {
		slog.Error("dm: failed to record turn narrative", "session", sessionID, "error", err)
	}
}
