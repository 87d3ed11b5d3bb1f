package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/tools"
)

// ChainEngine is the chain-of-thought strategy: up to cfg.MaxSteps
// sequential steps, each bounded by cfg.StepTimeout, stopping early when
// a thought matches a configured final keyword (§4.5).
type ChainEngine struct {
	cfg EngineConfig
}

func NewChainEngine() *ChainEngine { return &ChainEngine{} }

func (e *ChainEngine) SetConfig(cfg EngineConfig) { e.cfg = cfg }

func (e *ChainEngine) Process(ctx context.Context, agentID string, taskContext string, llm Chatter, toolManager *tools.Manager) (*ReasoningResult, error) {
	start := time.Now()
	var thoughts []string
	var path []string

	messages := []llms.Message{
		{Role: "system", Content: "Think step by step. State one reasoning step per turn. When you reach a conclusion, prefix it with 'Final Answer:'."},
		{Role: "user", Content: taskContext},
	}

	for step := 0; step < e.cfg.MaxSteps; step++ {
		resp, err := runStepWithTimeout(ctx, e.cfg.StepTimeout, llm, messages, e.cfg.Priority)
		if err != nil {
			return &ReasoningResult{Thoughts: thoughts, ReasoningPath: path, ExecutionTime: time.Since(start), OK: false, Error: err.Error()}, nil
		}
		thoughts = append(thoughts, resp.Text)
		path = append(path, fmt.Sprintf("step_%d", step+1))
		messages = append(messages, llms.Message{Role: "assistant", Content: resp.Text})

		if containsFinalKeyword(resp.Text, e.cfg.FinalKeywords) {
			return &ReasoningResult{
				Thoughts:      thoughts,
				FinalAnswer:   resp.Text,
				ReasoningPath: path,
				ExecutionTime: time.Since(start),
				OK:            true,
			}, nil
		}
	}

	final := ""
	if len(thoughts) > 0 {
		final = thoughts[len(thoughts)-1]
	}
	return &ReasoningResult{Thoughts: thoughts, FinalAnswer: final, ReasoningPath: path, ExecutionTime: time.Since(start), OK: final != ""}, nil
}
