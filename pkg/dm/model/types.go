// Package model holds the data entities shared by the dungeon-master
// turn pipeline and the supporting subsystems (time manager, session
// persistence, storage adapters). Keeping these types dependency-free
// lets every component share one vocabulary without import cycles.
package model

import "time"

// InputType is the closed classification set for a PlayerInput.
type InputType string

const (
	InputAction   InputType = "ACTION"
	InputDialogue InputType = "DIALOGUE"
	InputThought  InputType = "THOUGHT"
	InputOOC      InputType = "OOC"
	InputCommand  InputType = "COMMAND"
)

// EntityKind enumerates the kinds an EntityMention can resolve against.
type EntityKind string

const (
	EntityCharacter EntityKind = "CHARACTER"
	EntityNPC       EntityKind = "NPC"
	EntityItem      EntityKind = "ITEM"
	EntitySpell     EntityKind = "SPELL"
	EntitySkill     EntityKind = "SKILL"
	EntityPlace     EntityKind = "PLACE"
)

// PlayerInput is a single raw submission from a player. Immutable once
// received; nothing downstream mutates its fields.
type PlayerInput struct {
	PlayerID      string
	CharacterName string
	Content       string
	Timestamp     time.Time
}

// ClassifiedInput is a PlayerInput tagged with exactly one InputType.
type ClassifiedInput struct {
	PlayerInput
	InputType  InputType
	ActionType string // meaningful only when InputType == InputAction or InputCommand
	Target     string // free-form target surface name, resolved later against entities
}

// EntityMention is a candidate reference to a game entity found in an
// input's text. IsNew is true exactly when MatchedEntityID is empty.
type EntityMention struct {
	SurfaceName     string
	EntityKind      EntityKind
	MatchedEntityID string
	IsNew           bool
}

// ExtractedEntity binds a sequence of mentions to the ClassifiedInput
// they were extracted from.
type ExtractedEntity struct {
	Mentions []EntityMention
}

// TaskPayload is a tagged union of the structured data each processor
// produces. Only the field matching InputType is populated; the rest
// remain zero values.
type TaskPayload struct {
	Kind InputType

	// ACTION
	ActionType string
	Target     string

	// DIALOGUE
	Speaker  string
	Listener string
	Line     string

	// THOUGHT
	Thought string

	// OOC
	OOCText string

	// COMMAND
	Command     string
	Args        []string
	ParsedData  map[string]any
}

// DispatchedTask is the unit of work handed from the dispatcher to the
// NPC pool / time manager. Invariant: RequiresNPCResponse implies
// TargetNPCID is non-empty.
type DispatchedTask struct {
	TaskID               string
	InputType            InputType
	ClassifiedInput      ClassifiedInput
	Entities             ExtractedEntity
	Payload              TaskPayload
	RequiresNPCResponse  bool
	TargetNPCID          string
	TimeCost             time.Duration
}

// NPCResponse is what an NPC agent returns for the tasks routed to it
// in one turn. EmotionDelta and MemoryDelta are interior state and
// must never surface in a PerceptibleInfo.
type NPCResponse struct {
	NPCID        string
	Dialogue     string
	Action       string
	EmotionDelta map[string]any
	MemoryDelta  []string
}

// GameEvent is produced by an event rule firing during time advance.
type GameEvent struct {
	EventID     string
	EventType   string
	Description string
	Effects     map[string]any
}

// PerceptibleInfo is the subset of a turn's outcome that may be
// revealed to players. It never carries NPC interior state.
type PerceptibleInfo struct {
	PlayerActions   []ClassifiedInput
	NPCResponses    []PerceptibleNPCResponse
	Events          []GameEvent
	SceneDescription string
	ChangedEntities []string
}

// PerceptibleNPCResponse is the observable projection of an
// NPCResponse: dialogue and action only, never emotion/memory deltas.
type PerceptibleNPCResponse struct {
	NPCID    string
	Dialogue string
	Action   string
}

// ToPerceptible strips the non-perceptible fields from an NPCResponse.
func (r NPCResponse) ToPerceptible() PerceptibleNPCResponse {
	return PerceptibleNPCResponse{NPCID: r.NPCID, Dialogue: r.Dialogue, Action: r.Action}
}

// DMStyle configures the response generator's narrative voice.
type DMStyle struct {
	DMStyle            string
	NarrativeTone      string
	CombatDetail       string
	CustomStyleName    string
	CustomSystemPrompt string
}

// GameSession is the persistent root entity for one ongoing campaign
// session.
type GameSession struct {
	SessionID        string
	DMID             string
	CampaignID       string
	Name             string
	Description      string
	CurrentTime      time.Duration
	CurrentSceneID   string
	PlayerCharacters []string
	ActiveNPCs       []string
	Style            DMStyle
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int
	Checksum         string
}

// SnapshotTrigger enumerates why a SessionSnapshot was taken.
type SnapshotTrigger string

const (
	TriggerManual          SnapshotTrigger = "MANUAL"
	TriggerAutoSave        SnapshotTrigger = "AUTO_SAVE"
	TriggerBeforeRollback  SnapshotTrigger = "BEFORE_ROLLBACK"
	TriggerEventTriggered  SnapshotTrigger = "EVENT_TRIGGERED"
)

// SessionSnapshot is a point-in-time, restorable copy of a GameSession.
type SessionSnapshot struct {
	SnapshotID   string
	SessionID    string
	Name         string
	Description  string
	CreatedAt    time.Time
	CreatedBy    string
	SessionState GameSession
	Tags         []string
	IsAuto       bool
	Trigger      SnapshotTrigger
}

// RollbackAction enumerates the two operations a RollbackLog row can record.
type RollbackAction string

const (
	ActionCreatePoint RollbackAction = "create_point"
	ActionRollback    RollbackAction = "rollback"
)

// RollbackLog is an audit row for rollback-point creation and for the
// rollback operation itself.
type RollbackLog struct {
	LogID       string
	SessionID   string
	SnapshotID  string
	Timestamp   time.Time
	Action      RollbackAction
	Operator    string
	BeforeState map[string]any
	AfterState  map[string]any
	Conflicts   []string
	Resolution  string
}
