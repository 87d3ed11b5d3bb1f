package dm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taleforge/dungeonmaster/pkg/dm/model"
	"github.com/taleforge/dungeonmaster/pkg/llms"
)

// fallbackNarrative is returned whenever the narrative LLM call fails;
// it never exposes internal error detail to players.
const fallbackNarrative = "The scene holds for a moment, as if the world itself is catching its breath. (The storyteller stumbled - try again.)"

// ResponseGenerator turns a turn's PerceptibleInfo into narrative text,
// styled by a DMStyle config. It must never leak fields marked
// non-perceptible: PerceptibleNPCResponse already strips
// memory_delta/emotion_delta, and this generator only ever serialises
// that stripped view into its prompt (§4.14).
type ResponseGenerator struct {
	llm Chatter
}

// NewResponseGenerator builds a ResponseGenerator over llm.
func NewResponseGenerator(llm Chatter) *ResponseGenerator {
	return &ResponseGenerator{llm: llm}
}

// Generate prompts the LLM with info and style, returning narrative
// text. On any LLM failure it returns a short apology instead of
// propagating the error, so a turn always completes with narration.
func (g *ResponseGenerator) Generate(ctx context.Context, info model.PerceptibleInfo, style model.DMStyle) string {
	prompt, err := buildNarrativePrompt(info, style)
	if err != nil {
		return fallbackNarrative
	}

	resp, err := g.llm.Chat(ctx, []llms.Message{{Role: "user", Content: prompt}}, nil, llms.PriorityHigh)
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		return fallbackNarrative
	}
	return resp.Text
}

func buildNarrativePrompt(info model.PerceptibleInfo, style model.DMStyle) (string, error) {
	perceptible, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("dm: marshalling perceptible info: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are the narrator of a tabletop game. Write the next beat of the scene in prose, not JSON.\n")
	fmt.Fprintf(&b, "Narrative tone: %s. Combat detail: %s. Style: %s.\n", valueOr(style.NarrativeTone, "neutral"), valueOr(style.CombatDetail, "moderate"), valueOr(style.DMStyle, "classic"))
	if style.CustomStyleName != "" {
		fmt.Fprintf(&b, "Custom style %q: %s\n", style.CustomStyleName, style.CustomSystemPrompt)
	}
	b.WriteString("Turn facts (player actions, NPC dialogue/action only, events, scene, changed entities):\n")
	b.Write(perceptible)
	return b.String(), nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
