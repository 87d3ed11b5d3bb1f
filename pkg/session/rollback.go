package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taleforge/dungeonmaster/pkg/dm/model"
)

// CreateRollbackPoint atomically writes a BEFORE_ROLLBACK snapshot of
// the session's current state and a create_point log row (§4.15).
func (s *Store) CreateRollbackPoint(ctx context.Context, sessionID, operator string) (model.SessionSnapshot, error) {
	current, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return model.SessionSnapshot{}, fmt.Errorf("session: create rollback point: %w", err)
	}

	snap := model.SessionSnapshot{
		SnapshotID:   uuid.NewString(),
		SessionID:    sessionID,
		CreatedAt:    time.Now().UTC(),
		CreatedBy:    operator,
		SessionState: current,
		IsAuto:       false,
		Trigger:      model.TriggerBeforeRollback,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	defer tx.Rollback()

	if err := s.saveSnapshotTx(ctx, tx, snap); err != nil {
		return model.SessionSnapshot{}, err
	}
	logEntry := model.RollbackLog{
		LogID:      uuid.NewString(),
		SessionID:  sessionID,
		SnapshotID: snap.SnapshotID,
		Timestamp:  snap.CreatedAt,
		Action:     model.ActionCreatePoint,
		Operator:   operator,
	}
	if err := s.saveRollbackLogTx(ctx, tx, logEntry); err != nil {
		return model.SessionSnapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.SessionSnapshot{}, err
	}
	return snap, nil
}

// Rollback restores sessionID to the state captured in snapshotID and
// records a new log row with the before/after diff and any unresolved
// conflicts listed verbatim. Conflicts are fields the live session
// changed since the snapshot was taken that the restore silently
// overwrites; callers may inspect the returned log entry to surface
// them.
func (s *Store) Rollback(ctx context.Context, sessionID, snapshotID, operator string, conflicts []string) (model.RollbackLog, error) {
	before, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return model.RollbackLog{}, fmt.Errorf("session: rollback: load current: %w", err)
	}
	snap, err := s.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return model.RollbackLog{}, fmt.Errorf("session: rollback: load snapshot: %w", err)
	}
	if snap.SessionID != sessionID {
		return model.RollbackLog{}, fmt.Errorf("session: rollback: snapshot %s does not belong to session %s", snapshotID, sessionID)
	}

	after := snap.SessionState
	after.Version = before.Version + 1

	logEntry := model.RollbackLog{
		LogID:       uuid.NewString(),
		SessionID:   sessionID,
		SnapshotID:  snapshotID,
		Timestamp:   time.Now().UTC(),
		Action:      model.ActionRollback,
		Operator:    operator,
		BeforeState: toDict(before),
		AfterState:  toDict(after),
		Conflicts:   conflicts,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RollbackLog{}, err
	}
	defer tx.Rollback()

	if err := s.saveSessionTx(ctx, tx, after); err != nil {
		return model.RollbackLog{}, err
	}
	if err := s.saveRollbackLogTx(ctx, tx, logEntry); err != nil {
		return model.RollbackLog{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.RollbackLog{}, err
	}
	return logEntry, nil
}

func toDict(s model.GameSession) map[string]any {
	return map[string]any{
		"session_id":      s.SessionID,
		"current_time":    s.CurrentTime.String(),
		"current_scene":   s.CurrentSceneID,
		"version":         s.Version,
		"active_npcs":     s.ActiveNPCs,
		"player_characters": s.PlayerCharacters,
	}
}
