// Package dm implements the DM turn pipeline (C10), classifier and
// entity extractor (C11), task dispatcher and processors (C12), NPC
// agent pool (C13), and response generator (C15).
package dm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/taleforge/dungeonmaster/pkg/dm/model"
	"github.com/taleforge/dungeonmaster/pkg/llms"
)

// Chatter is the minimal LLM access the classifier/extractor/response
// generator need. Implemented by a thin adapter over the provider
// scheduler so this package never imports it directly.
type Chatter interface {
	Chat(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition, priority llms.Priority) (llms.Response, error)
}

// Classifier turns a raw PlayerInput into a ClassifiedInput using the
// LLM, with a closed-type prompt and tolerant JSON extraction.
type Classifier struct {
	llm Chatter
}

// NewClassifier builds a Classifier over llm.
func NewClassifier(llm Chatter) *Classifier { return &Classifier{llm: llm} }

var classifyTypes = []model.InputType{model.InputAction, model.InputDialogue, model.InputThought, model.InputOOC, model.InputCommand}

type classifyJSON struct {
	InputType  string `json:"input_type"`
	ActionType string `json:"action_type"`
	Target     string `json:"target"`
}

// Classify asks the LLM to tag input with exactly one of the closed
// InputTypes. On any failure it returns an OOC classification with an
// empty target so the turn still progresses (§4.9 step 1).
func (c *Classifier) Classify(ctx context.Context, input model.PlayerInput) model.ClassifiedInput {
	fallback := model.ClassifiedInput{PlayerInput: input, InputType: model.InputOOC}

	prompt := fmt.Sprintf(`Classify the following player input into exactly one of these types: %s.
Respond with strict JSON only: {"input_type": "...", "action_type": "...", "target": "..."}.
action_type and target may be empty strings when not applicable.

Input: %q`, joinTypes(classifyTypes), input.Content)

	resp, err := c.llm.Chat(ctx, []llms.Message{{Role: "user", Content: prompt}}, nil, llms.PriorityMedium)
	if err != nil {
		return fallback
	}

	var parsed classifyJSON
	if err := extractJSON(resp.Text, &parsed); err != nil {
		return fallback
	}
	it := model.InputType(strings.ToUpper(strings.TrimSpace(parsed.InputType)))
	if !validInputType(it) {
		return fallback
	}
	return model.ClassifiedInput{PlayerInput: input, InputType: it, ActionType: parsed.ActionType, Target: parsed.Target}
}

// ClassifyBatch classifies N inputs concurrently, preserving input
// order in the result slice.
func (c *Classifier) ClassifyBatch(ctx context.Context, inputs []model.PlayerInput) []model.ClassifiedInput {
	out := make([]model.ClassifiedInput, len(inputs))
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in model.PlayerInput) {
			defer wg.Done()
			out[i] = c.Classify(ctx, in)
		}(i, in)
	}
	wg.Wait()
	return out
}

func validInputType(it model.InputType) bool {
	for _, t := range classifyTypes {
		if t == it {
			return true
		}
	}
	return false
}

func joinTypes(types []model.InputType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// extractJSON parses v's target from text, tolerating a ```json fenced
// code block around the JSON body.
func extractJSON(text string, v any) error {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(body, "```")
		body = strings.TrimSpace(body)
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start == -1 || end == -1 || end < start {
		return fmt.Errorf("dm: no JSON object found in response")
	}
	return json.Unmarshal([]byte(body[start:end+1]), v)
}
