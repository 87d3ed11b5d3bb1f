package dm

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/dm/model"
)

// Processor is the per-input-type contract: turn a classification plus
// its resolved entities into a TaskPayload, and describe how that
// payload should route (NPC response required? which NPC? how much
// game time does it cost?) (§4.11).
// RequiresNPCResponse and TargetNPC both take entities alongside the
// classification: whether a target resolves to an NPC is exactly what
// the entity extractor determined (§4.11's kind tagging), so the
// dispatcher always has both in hand when it asks.
type Processor interface {
	Process(classified model.ClassifiedInput, entities model.ExtractedEntity) model.TaskPayload
	RequiresNPCResponse(classified model.ClassifiedInput, entities model.ExtractedEntity) bool
	TargetNPC(classified model.ClassifiedInput, entities model.ExtractedEntity) (string, bool)
	TimeCost(payload model.TaskPayload) time.Duration
}

var actionTimeCosts = map[string]time.Duration{
	"cast_spell": 60 * time.Second,
	"check":      10 * time.Second,
	"attack":     5 * time.Second,
	"move":       30 * time.Second,
	"interact":   15 * time.Second,
	"search":     60 * time.Second,
	"rest":       3600 * time.Second,
}

const defaultActionTimeCost = 30 * time.Second

// targetIsNPC reports whether classified.Target resolved to an entity
// mention of kind NPC.
func targetIsNPC(classified model.ClassifiedInput, entities model.ExtractedEntity) (string, bool) {
	if classified.Target == "" {
		return "", false
	}
	for _, m := range entities.Mentions {
		if m.EntityKind == model.EntityNPC && strings.EqualFold(m.SurfaceName, classified.Target) {
			if m.MatchedEntityID != "" {
				return m.MatchedEntityID, true
			}
			return m.SurfaceName, true
		}
	}
	return "", false
}

// firstSpellMention returns the first SPELL-kind entity mention, if any.
func firstSpellMention(entities model.ExtractedEntity) (model.EntityMention, bool) {
	for _, m := range entities.Mentions {
		if m.EntityKind == model.EntitySpell {
			return m, true
		}
	}
	return model.EntityMention{}, false
}

// diceExpr matches a dice expression like "2d6+3" or "d20": optional
// count (defaults to 1), size, optional signed modifier (defaults to 0).
var diceExpr = regexp.MustCompile(`^(\d*)d(\d+)([+-]\d+)?$`)

// parseDice parses a dice expression into its command_type/dice_count/
// dice_size/modifier shape, defaulting to a single d20 on a no-match.
func parseDice(raw string) map[string]any {
	count, size, modifier := 1, 20, 0
	if m := diceExpr.FindStringSubmatch(raw); m != nil {
		if m[1] != "" {
			count, _ = strconv.Atoi(m[1])
		}
		size, _ = strconv.Atoi(m[2])
		if m[3] != "" {
			modifier, _ = strconv.Atoi(m[3])
		}
	}
	return map[string]any{
		"command_type": "roll_dice",
		"dice_count":   count,
		"dice_size":    size,
		"modifier":     modifier,
		"raw_input":    raw,
	}
}

// ActionProcessor handles InputAction.
type ActionProcessor struct{}

func (ActionProcessor) Process(classified model.ClassifiedInput, entities model.ExtractedEntity) model.TaskPayload {
	return model.TaskPayload{Kind: model.InputAction, ActionType: classified.ActionType, Target: classified.Target}
}

func (ActionProcessor) RequiresNPCResponse(classified model.ClassifiedInput, entities model.ExtractedEntity) bool {
	_, ok := targetIsNPC(classified, entities)
	return ok
}

func (ActionProcessor) TargetNPC(classified model.ClassifiedInput, entities model.ExtractedEntity) (string, bool) {
	return targetIsNPC(classified, entities)
}

func (ActionProcessor) TimeCost(payload model.TaskPayload) time.Duration {
	if cost, ok := actionTimeCosts[strings.ToLower(payload.ActionType)]; ok {
		return cost
	}
	return defaultActionTimeCost
}

// DialogueProcessor handles InputDialogue.
type DialogueProcessor struct{}

func (DialogueProcessor) Process(classified model.ClassifiedInput, entities model.ExtractedEntity) model.TaskPayload {
	return model.TaskPayload{Kind: model.InputDialogue, Speaker: classified.CharacterName, Listener: classified.Target, Line: classified.Content}
}

func (DialogueProcessor) RequiresNPCResponse(classified model.ClassifiedInput, entities model.ExtractedEntity) bool {
	_, ok := targetIsNPC(classified, entities)
	return ok
}

func (DialogueProcessor) TargetNPC(classified model.ClassifiedInput, entities model.ExtractedEntity) (string, bool) {
	return targetIsNPC(classified, entities)
}

func (DialogueProcessor) TimeCost(payload model.TaskPayload) time.Duration {
	return 15 * time.Second
}

// ThoughtProcessor handles InputThought. Thoughts never reach NPCs and
// cost no game time.
type ThoughtProcessor struct{}

func (ThoughtProcessor) Process(classified model.ClassifiedInput, entities model.ExtractedEntity) model.TaskPayload {
	return model.TaskPayload{Kind: model.InputThought, Thought: classified.Content}
}

func (ThoughtProcessor) RequiresNPCResponse(model.ClassifiedInput, model.ExtractedEntity) bool { return false }

func (ThoughtProcessor) TargetNPC(model.ClassifiedInput, model.ExtractedEntity) (string, bool) {
	return "", false
}

func (ThoughtProcessor) TimeCost(model.TaskPayload) time.Duration { return 0 }

// OOCProcessor handles InputOOC (out-of-character chatter). No NPC
// response, no game time.
type OOCProcessor struct{}

func (OOCProcessor) Process(classified model.ClassifiedInput, entities model.ExtractedEntity) model.TaskPayload {
	return model.TaskPayload{Kind: model.InputOOC, OOCText: classified.Content}
}

func (OOCProcessor) RequiresNPCResponse(model.ClassifiedInput, model.ExtractedEntity) bool { return false }

func (OOCProcessor) TargetNPC(model.ClassifiedInput, model.ExtractedEntity) (string, bool) {
	return "", false
}

func (OOCProcessor) TimeCost(model.TaskPayload) time.Duration { return 0 }

var commandTimeCosts = map[string]time.Duration{
	"end_turn":        5 * time.Second,
	"cast":            60 * time.Second,
	"roll":            5 * time.Second,
	"check_character": 0,
	"check_item":      0,
	"save":            5 * time.Second,
}

const defaultCommandTimeCost = 5 * time.Second

// CommandProcessor handles InputCommand, parsing sub-payloads for the
// recognized verbs (cast / roll / check_character); the other verbs in
// commandTimeCosts carry only their table time cost and no ParsedData.
// Anything else is left as a bare command with its raw args and costs
// defaultCommandTimeCost.
type CommandProcessor struct{}

func (CommandProcessor) Process(classified model.ClassifiedInput, entities model.ExtractedEntity) model.TaskPayload {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(classified.Content), "/"))
	payload := model.TaskPayload{Kind: model.InputCommand}
	if len(fields) == 0 {
		return payload
	}
	payload.Command = strings.ToLower(fields[0])
	payload.Args = fields[1:]

	switch payload.Command {
	case "cast":
		if spell, ok := firstSpellMention(entities); ok {
			payload.ParsedData = map[string]any{
				"command_type": "cast_spell",
				"spell":        spell.SurfaceName,
				"spell_id":     spell.MatchedEntityID,
				"is_new":       spell.IsNew,
				"found_entity": true,
			}
		} else {
			var spellName any
			if len(payload.Args) > 0 {
				spellName = payload.Args[0]
			}
			payload.ParsedData = map[string]any{
				"command_type": "cast_spell",
				"spell":        spellName,
				"spell_id":     nil,
				"is_new":       spellName != nil,
				"found_entity": false,
			}
		}
	case "roll":
		raw := ""
		if len(payload.Args) > 0 {
			raw = payload.Args[0]
		}
		payload.ParsedData = parseDice(raw)
	case "check_character":
		payload.ParsedData = map[string]any{"command_type": "check_character", "character": classified.CharacterName}
	}
	return payload
}

func (CommandProcessor) RequiresNPCResponse(model.ClassifiedInput, model.ExtractedEntity) bool { return false }

func (CommandProcessor) TargetNPC(model.ClassifiedInput, model.ExtractedEntity) (string, bool) {
	return "", false
}

func (CommandProcessor) TimeCost(payload model.TaskPayload) time.Duration {
	if cost, ok := commandTimeCosts[payload.Command]; ok {
		return cost
	}
	return defaultCommandTimeCost
}

// ProcessorFor maps a closed InputType to its built-in Processor.
func ProcessorFor(it model.InputType) Processor {
	switch it {
	case model.InputAction:
		return ActionProcessor{}
	case model.InputDialogue:
		return DialogueProcessor{}
	case model.InputThought:
		return ThoughtProcessor{}
	case model.InputCommand:
		return CommandProcessor{}
	default:
		return OOCProcessor{}
	}
}
