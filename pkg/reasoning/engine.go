package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/registry"
	"github.com/taleforge/dungeonmaster/pkg/tools"
)

// EngineMode is the closed set of reasoning strategies the factory can
// build (§4.5). The ReAct executor (C7) is exposed through the same
// factory as the "react" mode so agents pick a strategy uniformly.
type EngineMode string

const (
	ModeChainOfThought    EngineMode = "chain_of_thought"
	ModeTreeOfThought     EngineMode = "tree_of_thought"
	ModeGraphOfThought    EngineMode = "graph_of_thought"
	ModeAlgorithmOfThought EngineMode = "algorithm_of_thoughts"
	ModeSkeletonOfThought EngineMode = "skeleton_of_thought"
	ModeReAct             EngineMode = "react"
)

// Chatter is the minimal LLM access a reasoning engine needs: one
// scheduled chat call. Implemented by an adapter over the Provider
// Scheduler (C2) so this package never imports it directly and stays
// free of an import cycle.
type Chatter interface {
	Chat(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition, priority llms.Priority) (llms.Response, error)
}

// EngineConfig tunes a reasoning engine's search bounds. Every field is
// optional; SetDefaults fills sensible ones per engine.
type EngineConfig struct {
	MaxSteps            int
	StepTimeout         time.Duration
	FinalKeywords       []string
	MaxDepth            int
	MaxBranches         int
	ConfidenceThreshold float64
	Priority            llms.Priority
}

func (c *EngineConfig) setDefaults() {
	if c.MaxSteps == 0 {
		c.MaxSteps = 6
	}
	if c.StepTimeout == 0 {
		c.StepTimeout = 15 * time.Second
	}
	if len(c.FinalKeywords) == 0 {
		c.FinalKeywords = []string{"final answer", "in conclusion", "therefore the answer is"}
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 3
	}
	if c.MaxBranches == 0 {
		c.MaxBranches = 3
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.4
	}
	if c.Priority == "" {
		c.Priority = llms.PriorityMedium
	}
}

// ReasoningResult is the uniform output shape every engine produces.
type ReasoningResult struct {
	Thoughts      []string
	FinalAnswer   string
	ReasoningPath []string
	ExecutionTime time.Duration
	OK            bool
	Error         string
}

// Engine is the contract every reasoning strategy implements (§4.5).
type Engine interface {
	SetConfig(cfg EngineConfig)
	Process(ctx context.Context, agentID string, taskContext string, llm Chatter, toolManager *tools.Manager) (*ReasoningResult, error)
}

// EngineConstructor builds a fresh Engine instance.
type EngineConstructor func() Engine

// EngineFactory is the registry mapping a closed string set to engine
// constructors, replacing any dynamic class-by-string lookup (§9).
type EngineFactory struct {
	*registry.BaseRegistry[EngineConstructor]
}

// NewEngineFactory builds a factory pre-registered with every built-in
// mode.
func NewEngineFactory() *EngineFactory {
	f := &EngineFactory{BaseRegistry: registry.NewBaseRegistry[EngineConstructor]()}
	f.mustRegister(ModeChainOfThought, func() Engine { return NewChainEngine() })
	f.mustRegister(ModeTreeOfThought, func() Engine { return NewTreeEngine() })
	f.mustRegister(ModeGraphOfThought, func() Engine { return NewGraphEngine() })
	f.mustRegister(ModeAlgorithmOfThought, func() Engine { return NewAlgorithmEngine() })
	f.mustRegister(ModeSkeletonOfThought, func() Engine { return NewSkeletonEngine() })
	f.mustRegister(ModeReAct, func() Engine { return NewReActEngine() })
	return f
}

func (f *EngineFactory) mustRegister(mode EngineMode, ctor EngineConstructor) {
	if err := f.Register(string(mode), ctor); err != nil {
		panic(fmt.Sprintf("reasoning: duplicate engine registration for %s: %v", mode, err))
	}
}

// Create instantiates the named mode and applies cfg. mode is
// normalised case-insensitively; an empty mode defaults to
// chain_of_thought.
func (f *EngineFactory) Create(mode string, cfg EngineConfig) (Engine, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = string(ModeChainOfThought)
	}
	ctor, ok := f.Get(mode)
	if !ok {
		return nil, fmt.Errorf("reasoning: unsupported engine mode %q", mode)
	}
	engine := ctor()
	cfg.setDefaults()
	engine.SetConfig(cfg)
	return engine, nil
}

// containsFinalKeyword reports whether text matches any configured
// early-stop keyword, case-insensitively.
func containsFinalKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// runStepWithTimeout calls llm.Chat but aborts (returning an error) if it
// does not complete within cfg.StepTimeout — §4.5's per-step wall-clock
// limit for chain-of-thought.
func runStepWithTimeout(ctx context.Context, timeout time.Duration, llm Chatter, messages []llms.Message, priority llms.Priority) (llms.Response, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		resp llms.Response
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		resp, err := llm.Chat(stepCtx, messages, nil, priority)
		ch <- outcome{resp, err}
	}()

	select {
	case <-stepCtx.Done():
		return llms.Response{}, fmt.Errorf("reasoning step exceeded timeout %s", timeout)
	case o := <-ch:
		return o.resp, o.err
	}
}
