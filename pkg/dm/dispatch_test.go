package dm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleforge/dungeonmaster/pkg/dm/model"
)

func TestDispatchActionTargetingNPCRequiresResponse(t *testing.T) {
	d := NewDispatcher()
	classified := []model.ClassifiedInput{
		{
			PlayerInput: model.PlayerInput{Content: "attack the guard"},
			InputType:   model.InputAction,
			ActionType:  "attack",
			Target:      "guard",
		},
	}
	entities := []model.ExtractedEntity{
		{Mentions: []model.EntityMention{{SurfaceName: "guard", EntityKind: model.EntityNPC, MatchedEntityID: "npc-guard"}}},
	}

	tasks := d.Dispatch(classified, entities)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.True(t, task.RequiresNPCResponse)
	assert.Equal(t, "npc-guard", task.TargetNPCID)
	assert.Equal(t, 5*time.Second, task.TimeCost)
	assert.NotEmpty(t, task.TaskID)
}

func TestDispatchPreservesInputOrder(t *testing.T) {
	d := NewDispatcher()
	classified := []model.ClassifiedInput{
		{PlayerInput: model.PlayerInput{Content: "a"}, InputType: model.InputThought},
		{PlayerInput: model.PlayerInput{Content: "b"}, InputType: model.InputOOC},
		{PlayerInput: model.PlayerInput{Content: "c"}, InputType: model.InputDialogue, Target: "innkeeper"},
	}
	entities := make([]model.ExtractedEntity, len(classified))

	tasks := d.Dispatch(classified, entities)
	require.Len(t, tasks, 3)
	assert.Equal(t, model.InputThought, tasks[0].InputType)
	assert.Equal(t, model.InputOOC, tasks[1].InputType)
	assert.Equal(t, model.InputDialogue, tasks[2].InputType)
}

func TestDispatchThoughtNeverRequiresNPCResponse(t *testing.T) {
	d := NewDispatcher()
	classified := []model.ClassifiedInput{
		{PlayerInput: model.PlayerInput{Content: "I wonder if he's lying"}, InputType: model.InputThought, Target: "innkeeper"},
	}
	entities := []model.ExtractedEntity{
		{Mentions: []model.EntityMention{{SurfaceName: "innkeeper", EntityKind: model.EntityNPC, MatchedEntityID: "npc-1"}}},
	}

	tasks := d.Dispatch(classified, entities)
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].RequiresNPCResponse)
	assert.Zero(t, tasks[0].TimeCost)
}

func TestDispatchCommandParsesSubPayload(t *testing.T) {
	d := NewDispatcher()
	classified := []model.ClassifiedInput{
		{PlayerInput: model.PlayerInput{Content: "/cast fireball", CharacterName: "Ari"}, InputType: model.InputCommand, Target: "goblin"},
	}
	entities := []model.ExtractedEntity{{}}

	tasks := d.Dispatch(classified, entities)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "cast", task.Payload.Command)
	assert.Equal(t, "fireball", task.Payload.ParsedData["spell"])
	assert.Equal(t, 60*time.Second, task.TimeCost)
}
