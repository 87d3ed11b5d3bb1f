package reasoning

import (
	"fmt"
	"strings"
	"time"

	"context"

	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/tools"
)

// AlgorithmEngine is the algorithm-of-thoughts strategy: it asks the
// model to propose a small numbered plan of sub-steps up front, then
// executes the plan sequentially, feeding each step's output back in as
// context for the next — closer to a fixed algorithm trace than the
// tree/graph search's branching exploration, while preserving the same
// ReasoningResult shape (§4.5).
type AlgorithmEngine struct {
	cfg EngineConfig
}

func NewAlgorithmEngine() *AlgorithmEngine { return &AlgorithmEngine{} }

func (e *AlgorithmEngine) SetConfig(cfg EngineConfig) { e.cfg = cfg }

func (e *AlgorithmEngine) Process(ctx context.Context, agentID string, taskContext string, llm Chatter, toolManager *tools.Manager) (*ReasoningResult, error) {
	start := time.Now()

	planResp, err := runStepWithTimeout(ctx, e.cfg.StepTimeout, llm, []llms.Message{
		{Role: "system", Content: "Break the task into a short numbered list of concrete sub-steps (algorithm form). Output only the numbered list."},
		{Role: "user", Content: taskContext},
	}, e.cfg.Priority)
	if err != nil {
		return &ReasoningResult{ExecutionTime: time.Since(start), OK: false, Error: err.Error()}, nil
	}

	steps := parseNumberedSteps(planResp.Text)
	if len(steps) == 0 {
		steps = []string{taskContext}
	}
	if len(steps) > e.cfg.MaxSteps {
		steps = steps[:e.cfg.MaxSteps]
	}

	var thoughts []string
	var path []string
	running := taskContext
	for i, step := range steps {
		prompt := fmt.Sprintf("Context so far:\n%s\n\nExecute sub-step %d: %s", running, i+1, step)
		resp, err := runStepWithTimeout(ctx, e.cfg.StepTimeout, llm, []llms.Message{{Role: "user", Content: prompt}}, e.cfg.Priority)
		if err != nil {
			return &ReasoningResult{Thoughts: thoughts, ReasoningPath: path, ExecutionTime: time.Since(start), OK: false, Error: err.Error()}, nil
		}
		thoughts = append(thoughts, resp.Text)
		path = append(path, fmt.Sprintf("step_%d:%s", i+1, step))
		running = running + "\n" + resp.Text

		if containsFinalKeyword(resp.Text, e.cfg.FinalKeywords) {
			return &ReasoningResult{Thoughts: thoughts, FinalAnswer: resp.Text, ReasoningPath: path, ExecutionTime: time.Since(start), OK: true}, nil
		}
	}

	final := ""
	if len(thoughts) > 0 {
		final = thoughts[len(thoughts)-1]
	}
	return &ReasoningResult{Thoughts: thoughts, FinalAnswer: final, ReasoningPath: path, ExecutionTime: time.Since(start), OK: final != ""}, nil
}

// parseNumberedSteps extracts "1. ...", "2. ..." style lines.
func parseNumberedSteps(text string) []string {
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if idx := strings.IndexAny(line, "."); idx > 0 && idx <= 3 {
			if _, err := fmt.Sscanf(line[:idx], "%d", new(int)); err == nil {
				steps = append(steps, strings.TrimSpace(line[idx+1:]))
				continue
			}
		}
	}
	return steps
}
