// Package agentcore implements the Agent Core (C8): an agent owns an ID,
// a capability set, and a state machine; it routes an incoming task
// through a reasoning engine, a ReAct executor, or a plain scheduled
// chat call, in that order of preference, and drives a message loop off
// the bus.
package agentcore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taleforge/dungeonmaster/pkg/bus"
	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/reasoning"
	"github.com/taleforge/dungeonmaster/pkg/telemetry"
	"github.com/taleforge/dungeonmaster/pkg/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// State is the agent's lifecycle state machine (§4.7): IDLE <-> PROCESSING
// per task, with SHUTDOWN terminal from IDLE.
type State string

const (
	StateIdle       State = "IDLE"
	StateProcessing State = "PROCESSING"
	StateShutdown   State = "SHUTDOWN"
)

// Capabilities describes what an agent can do, used to pick the
// execution path in ExecuteTask — never the task's contents.
type Capabilities struct {
	ReasoningMode string // engine factory mode name, empty disables reasoning
	UseReAct      bool
	HasTools      bool
}

// TaskResult is what ExecuteTask returns, uniform across the three
// execution paths.
type TaskResult struct {
	Answer    string
	Path      string // "reasoning", "react", or "plain_chat"
	Elapsed   time.Duration
	RawTokens int
}

// Agent is one addressable participant on the message bus.
type Agent struct {
	ID           string
	Capabilities Capabilities

	mu    sync.Mutex
	state State

	llm           reasoning.Chatter
	toolManager   *tools.Manager
	engineFactory *reasoning.EngineFactory
	bus           *bus.Bus

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an agent registered on bus with a mailbox, ready to run
// its message loop via Start.
func New(id string, caps Capabilities, llm reasoning.Chatter, toolManager *tools.Manager, factory *reasoning.EngineFactory, b *bus.Bus) *Agent {
	if id == "" {
		id = uuid.NewString()
	}
	a := &Agent{
		ID:            id,
		Capabilities:  caps,
		state:         StateIdle,
		llm:           llm,
		toolManager:   toolManager,
		engineFactory: factory,
		bus:           b,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	b.Register(id, bus.RegisterOptions{MaxSize: 100, Policy: bus.OverflowDropOldest})
	return a
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) transition(to State) {
	a.mu.Lock()
	a.state = to
	a.mu.Unlock()
}

// ExecuteTask chooses, in order of preference, (a) a reasoning engine
// plus tool manager, (b) ReAct plus tool manager, or (c) a plain
// scheduled chat call — decided from the agent's capabilities, never
// from the task's contents (§4.7).
func (a *Agent) ExecuteTask(ctx context.Context, task string) (*TaskResult, error) {
	a.transition(StateProcessing)
	defer a.transition(StateIdle)

	tracer := telemetry.GetTracer("dm.agentcore")
	ctx, span := tracer.Start(ctx, telemetry.SpanAgentTask)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrAgentID, a.ID))

	start := time.Now()

	switch {
	case a.Capabilities.ReasoningMode != "":
		engine, err := a.engineFactory.Create(a.Capabilities.ReasoningMode, reasoning.EngineConfig{})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		result, err := engine.Process(ctx, a.ID, task, a.llm, a.toolManager)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if !result.OK {
			err := fmt.Errorf("reasoning engine failed: %s", result.Error)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return &TaskResult{Answer: result.FinalAnswer, Path: "reasoning", Elapsed: time.Since(start)}, nil

	case a.Capabilities.UseReAct:
		executor := reasoning.NewExecutor(reasoning.ReActConfig{})
		result := executor.Run(ctx, task, nil, a.llm, a.toolManager)
		if !result.OK {
			err := fmt.Errorf("react executor failed: %s", result.Error)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return &TaskResult{Answer: result.FinalAnswer, Path: "react", Elapsed: time.Since(start)}, nil

	default:
		resp, err := a.llm.Chat(ctx, []llms.Message{{Role: "user", Content: task}}, nil, llms.PriorityMedium)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return &TaskResult{Answer: resp.Text, Path: "plain_chat", Elapsed: time.Since(start), RawTokens: resp.Usage.TotalTokens}, nil
	}
}

// Start runs the message loop: polls the bus, and for each REQUEST
// dispatches ExecuteTask on its own goroutine so a slow handler never
// blocks receipt of the next message. NOTIFICATIONs are logged; ERRORs
// are relayed back to their sender. Start returns immediately; call Stop
// to shut the loop down.
func (a *Agent) Start(ctx context.Context) {
	go a.loop(ctx)
}

func (a *Agent) loop(ctx context.Context) {
	defer close(a.doneCh)
	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, ok, err := a.bus.Receive(ctx, a.ID, 200*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if !ok {
			continue
		}

		switch msg.Type {
		case bus.TypeRequest:
			go a.handleRequest(ctx, msg)
		case bus.TypeNotification:
			slog.Info("agent received notification", "agent", a.ID, "from", msg.SenderID, "content", msg.Content)
		case bus.TypeError:
			slog.Warn("agent received error message", "agent", a.ID, "from", msg.SenderID, "content", msg.Content)
		}
	}
}

func (a *Agent) handleRequest(ctx context.Context, msg bus.AgentMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent task handler panicked", "agent", a.ID, "recover", r)
		}
	}()

	result, err := a.ExecuteTask(ctx, msg.Content)
	reply := bus.AgentMessage{
		SenderID:      a.ID,
		ReceiverID:    msg.SenderID,
		CorrelationID: msg.CorrelationID,
	}
	if err != nil {
		reply.Type = bus.TypeError
		reply.Content = err.Error()
	} else {
		reply.Type = bus.TypeResponse
		reply.Content = result.Answer
		reply.Metadata = map[string]any{"path": result.Path, "elapsed_ms": result.Elapsed.Milliseconds()}
	}
	if sendErr := a.bus.Send(ctx, reply); sendErr != nil {
		slog.Warn("agent failed to send reply", "agent", a.ID, "error", sendErr)
	}
}

// Stop cancels the message loop and unregisters from the bus. Any
// execute_task already running is left to run to completion (§5).
func (a *Agent) Stop() {
	a.transition(StateShutdown)
	close(a.stopCh)
	<-a.doneCh
	a.bus.Unregister(a.ID)
}
