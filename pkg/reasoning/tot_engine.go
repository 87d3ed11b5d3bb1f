package reasoning

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/tools"
)

// treeNode is one expanded thought at a given depth.
type treeNode struct {
	thought    string
	confidence float64
	parent     *treeNode
	children   []*treeNode
}

// TreeEngine is the tree-of-thought strategy: breadth-first expansion up
// to cfg.MaxDepth, fanning out cfg.MaxBranches candidate thoughts per
// node, pruning by cfg.ConfidenceThreshold, and terminating early once
// the best node's confidence reaches 0.9 (§4.5).
type TreeEngine struct {
	cfg EngineConfig
}

func NewTreeEngine() *TreeEngine { return &TreeEngine{} }

func (e *TreeEngine) SetConfig(cfg EngineConfig) { e.cfg = cfg }

func (e *TreeEngine) Process(ctx context.Context, agentID string, taskContext string, llm Chatter, toolManager *tools.Manager) (*ReasoningResult, error) {
	start := time.Now()
	root := &treeNode{thought: taskContext, confidence: 1.0}
	frontier := []*treeNode{root}
	var allThoughts []string

	for depth := 0; depth < e.cfg.MaxDepth; depth++ {
		var next []*treeNode
		for _, node := range frontier {
			children, err := e.expand(ctx, llm, node)
			if err != nil {
				return &ReasoningResult{Thoughts: allThoughts, ExecutionTime: time.Since(start), OK: false, Error: err.Error()}, nil
			}
			for _, c := range children {
				allThoughts = append(allThoughts, c.thought)
				if c.confidence >= e.cfg.ConfidenceThreshold {
					next = append(next, c)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next

		best := bestOf(frontier)
		if best.confidence >= 0.9 {
			break
		}
	}

	best := bestOf(frontier)
	if best == nil {
		return &ReasoningResult{Thoughts: allThoughts, ExecutionTime: time.Since(start), OK: false, Error: "tree-of-thought: no surviving branch"}, nil
	}

	path := pathToRoot(best)
	return &ReasoningResult{
		Thoughts:      allThoughts,
		FinalAnswer:   best.thought,
		ReasoningPath: path,
		ExecutionTime: time.Since(start),
		OK:            true,
	}, nil
}

// expand fans a node out into cfg.MaxBranches candidate next thoughts,
// each scored for confidence by the same LLM call (embedded as a
// trailing "Confidence: 0.NN" line the engine parses deterministically).
func (e *TreeEngine) expand(ctx context.Context, llm Chatter, node *treeNode) ([]*treeNode, error) {
	prompt := fmt.Sprintf(
		"Given this reasoning so far:\n%s\n\nPropose the next reasoning step. End your response with a line 'Confidence: 0.NN' between 0 and 1.",
		node.thought,
	)
	var children []*treeNode
	for i := 0; i < e.cfg.MaxBranches; i++ {
		resp, err := runStepWithTimeout(ctx, e.cfg.StepTimeout, llm, []llms.Message{{Role: "user", Content: prompt}}, e.cfg.Priority)
		if err != nil {
			return nil, err
		}
		conf := parseConfidence(resp.Text)
		child := &treeNode{thought: resp.Text, confidence: conf, parent: node}
		node.children = append(node.children, child)
		children = append(children, child)
	}
	return children, nil
}

func parseConfidence(text string) float64 {
	lower := strings.ToLower(text)
	idx := strings.LastIndex(lower, "confidence:")
	if idx == -1 {
		// No explicit score: assign a mid-range jittered value so branches
		// remain distinguishable without a language model in tests.
		return 0.5 + rand.Float64()*0.1
	}
	rest := strings.TrimSpace(lower[idx+len("confidence:"):])
	var val float64
	if _, err := fmt.Sscanf(rest, "%f", &val); err != nil {
		return 0.5
	}
	if val < 0 {
		val = 0
	}
	if val > 1 {
		val = 1
	}
	return val
}

// bestOf picks the maximum-confidence node in a level (DFS tie-break by
// first occurrence), matching §4.5's "max-confidence child at each
// level" read-off.
func bestOf(nodes []*treeNode) *treeNode {
	var best *treeNode
	for _, n := range nodes {
		if best == nil || n.confidence > best.confidence {
			best = n
		}
	}
	return best
}

func pathToRoot(n *treeNode) []string {
	var path []string
	for cur := n; cur != nil; cur = cur.parent {
		path = append([]string{cur.thought}, path...)
	}
	return path
}
