package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/tools"
)

// SkeletonEngine is the skeleton-of-thought strategy: outline first,
// then fill each outline point, then synthesise a final answer from the
// filled points (§4.5).
type SkeletonEngine struct {
	cfg EngineConfig
}

func NewSkeletonEngine() *SkeletonEngine { return &SkeletonEngine{} }

func (e *SkeletonEngine) SetConfig(cfg EngineConfig) { e.cfg = cfg }

func (e *SkeletonEngine) Process(ctx context.Context, agentID string, taskContext string, llm Chatter, toolManager *tools.Manager) (*ReasoningResult, error) {
	start := time.Now()
	var thoughts []string
	var path []string

	skeletonResp, err := runStepWithTimeout(ctx, e.cfg.StepTimeout, llm, []llms.Message{
		{Role: "system", Content: "Produce a short outline (3-5 bullet points, one per line starting with '- ') of the points a complete answer must cover. Do not answer yet."},
		{Role: "user", Content: taskContext},
	}, e.cfg.Priority)
	if err != nil {
		return &ReasoningResult{ExecutionTime: time.Since(start), OK: false, Error: err.Error()}, nil
	}
	thoughts = append(thoughts, skeletonResp.Text)
	path = append(path, "outline")

	points := parseOutlinePoints(skeletonResp.Text)
	if len(points) == 0 {
		points = []string{taskContext}
	}
	if len(points) > e.cfg.MaxSteps {
		points = points[:e.cfg.MaxSteps]
	}

	filled := make([]string, 0, len(points))
	for i, point := range points {
		prompt := fmt.Sprintf("Task: %s\n\nExpand outline point %d in 1-2 sentences: %s", taskContext, i+1, point)
		resp, err := runStepWithTimeout(ctx, e.cfg.StepTimeout, llm, []llms.Message{{Role: "user", Content: prompt}}, e.cfg.Priority)
		if err != nil {
			return &ReasoningResult{Thoughts: thoughts, ReasoningPath: path, ExecutionTime: time.Since(start), OK: false, Error: err.Error()}, nil
		}
		thoughts = append(thoughts, resp.Text)
		path = append(path, fmt.Sprintf("fill_%d", i+1))
		filled = append(filled, resp.Text)
	}

	synthPrompt := fmt.Sprintf("Task: %s\n\nSynthesise one coherent final answer from these expanded points:\n%s", taskContext, strings.Join(filled, "\n"))
	finalResp, err := runStepWithTimeout(ctx, e.cfg.StepTimeout, llm, []llms.Message{{Role: "user", Content: synthPrompt}}, e.cfg.Priority)
	if err != nil {
		return &ReasoningResult{Thoughts: thoughts, ReasoningPath: path, ExecutionTime: time.Since(start), OK: false, Error: err.Error()}, nil
	}
	thoughts = append(thoughts, finalResp.Text)
	path = append(path, "synthesize")

	return &ReasoningResult{Thoughts: thoughts, FinalAnswer: finalResp.Text, ReasoningPath: path, ExecutionTime: time.Since(start), OK: true}, nil
}

func parseOutlinePoints(text string) []string {
	var points []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			points = append(points, strings.TrimSpace(strings.TrimPrefix(line, "- ")))
		}
	}
	return points
}
