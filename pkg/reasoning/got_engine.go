package reasoning

import (
	"context"
	"strings"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/tools"
)

// GraphEngine is the graph-of-thought variant: like TreeEngine it
// expands a frontier of candidate thoughts per depth, but before pruning
// it merges near-duplicate thoughts across different parents into a
// single graph node (sharing confidence as their max), letting separate
// branches converge instead of only ever diverging. §4.5 allows
// extending the base tree/graph contract as long as the ReasoningResult
// shape is preserved.
type GraphEngine struct {
	cfg EngineConfig
}

func NewGraphEngine() *GraphEngine { return &GraphEngine{} }

func (e *GraphEngine) SetConfig(cfg EngineConfig) { e.cfg = cfg }

func (e *GraphEngine) Process(ctx context.Context, agentID string, taskContext string, llm Chatter, toolManager *tools.Manager) (*ReasoningResult, error) {
	start := time.Now()
	tree := &TreeEngine{cfg: e.cfg}
	root := &treeNode{thought: taskContext, confidence: 1.0}
	frontier := []*treeNode{root}
	var allThoughts []string

	for depth := 0; depth < e.cfg.MaxDepth; depth++ {
		var expanded []*treeNode
		for _, node := range frontier {
			children, err := tree.expand(ctx, llm, node)
			if err != nil {
				return &ReasoningResult{Thoughts: allThoughts, ExecutionTime: time.Since(start), OK: false, Error: err.Error()}, nil
			}
			expanded = append(expanded, children...)
		}
		merged := mergeSimilar(expanded)

		var next []*treeNode
		for _, n := range merged {
			allThoughts = append(allThoughts, n.thought)
			if n.confidence >= e.cfg.ConfidenceThreshold {
				next = append(next, n)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
		if bestOf(frontier).confidence >= 0.9 {
			break
		}
	}

	best := bestOf(frontier)
	if best == nil {
		return &ReasoningResult{Thoughts: allThoughts, ExecutionTime: time.Since(start), OK: false, Error: "graph-of-thought: no surviving node"}, nil
	}
	return &ReasoningResult{
		Thoughts:      allThoughts,
		FinalAnswer:   best.thought,
		ReasoningPath: pathToRoot(best),
		ExecutionTime: time.Since(start),
		OK:            true,
	}, nil
}

// mergeSimilar collapses nodes whose thought text shares a long common
// prefix (a cheap, deterministic stand-in for semantic similarity),
// keeping the first node seen (and its parent link) and raising its
// confidence to the max seen for that cluster.
func mergeSimilar(nodes []*treeNode) []*treeNode {
	var out []*treeNode
	for _, n := range nodes {
		merged := false
		for _, existing := range out {
			if similar(n.thought, existing.thought) {
				if n.confidence > existing.confidence {
					existing.confidence = n.confidence
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, n)
		}
	}
	return out
}

func similar(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if len(a) < 20 || len(b) < 20 {
		return a == b
	}
	prefixLen := 20
	return a[:prefixLen] == b[:prefixLen]
}
