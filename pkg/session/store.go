// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session implements Session Persistence (C16): three
// repositories (sessions, snapshots, rollback log) backed by
// database/sql against whichever driver the deployment's
// config.DatabaseConfig names.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/taleforge/dungeonmaster/pkg/config"
	"github.com/taleforge/dungeonmaster/pkg/dm/model"
)

// Store bundles the three repositories over one *sql.DB connection.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open connects via the shared DBPool (so sessions share a connection
// pool with any other component pointed at the same DSN) and ensures
// the schema exists.
func Open(ctx context.Context, pool *config.DBPool, cfg config.DatabaseConfig) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid database config: %w", err)
	}
	db, err := pool.Get(&cfg)
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}
	s := &Store{db: db, dialect: cfg.Dialect()}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open *sql.DB, useful for tests against an
// in-memory sqlite connection.
func NewWithDB(db *sql.DB, dialect string) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			snapshot_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rollback_log (
			log_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			entry TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("session: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// ph renders the Nth positional placeholder for the store's dialect.
func (s *Store) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// --- Sessions repository ---

// execer is satisfied by both *sql.DB and *sql.Tx, letting the
// repository write helpers run standalone or as part of a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveSession inserts or replaces state.
func (s *Store) SaveSession(ctx context.Context, state model.GameSession) error {
	return s.saveSessionWith(ctx, s.db, state)
}

func (s *Store) saveSessionTx(ctx context.Context, tx *sql.Tx, state model.GameSession) error {
	return s.saveSessionWith(ctx, tx, state)
}

func (s *Store) saveSessionWith(ctx context.Context, ex execer, state model.GameSession) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := fmt.Sprintf(
		`INSERT INTO sessions (session_id, state, created_at, updated_at) VALUES (%s, %s, %s, %s)
		 ON CONFLICT (session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	if s.dialect == "mysql" {
		query = fmt.Sprintf(
			`INSERT INTO sessions (session_id, state, created_at, updated_at) VALUES (%s, %s, %s, %s)
			 ON DUPLICATE KEY UPDATE state = VALUES(state), updated_at = VALUES(updated_at)`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	}
	_, err = ex.ExecContext(ctx, query, state.SessionID, string(blob), now, now)
	return err
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (model.GameSession, error) {
	var blob string
	query := fmt.Sprintf(`SELECT state FROM sessions WHERE session_id = %s`, s.ph(1))
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&blob); err != nil {
		return model.GameSession{}, err
	}
	var out model.GameSession
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return model.GameSession{}, fmt.Errorf("session: unmarshal: %w", err)
	}
	return out, nil
}

// UpdateSession applies patch to the stored session and re-saves it.
func (s *Store) UpdateSession(ctx context.Context, id string, patch func(*model.GameSession)) error {
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	patch(&current)
	current.Version++
	return s.SaveSession(ctx, current)
}

// ApplyPatch merges a loosely-typed field patch (as produced by a tool
// call or an external API request) into the stored session. mapstructure
// decodes directly onto the already-loaded GameSession, so a key absent
// from patch leaves that field untouched; this is the decode-onto-
// existing-value idiom that stands in for the teacher's field-by-field
// setattr(config, key, value) reflection. Unknown keys are rejected
// rather than silently ignored.
func (s *Store) ApplyPatch(ctx context.Context, id string, patch map[string]any) error {
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &current,
	})
	if err != nil {
		return fmt.Errorf("session: build patch decoder: %w", err)
	}
	if err := decoder.Decode(patch); err != nil {
		return fmt.Errorf("session: apply patch: %w", err)
	}

	current.Version++
	return s.SaveSession(ctx, current)
}

// DeleteSession removes a session by id.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM sessions WHERE session_id = %s`, s.ph(1))
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// ExistsSession reports whether id is present.
func (s *Store) ExistsSession(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = %s)`, s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).Scan(&exists)
	return exists, err
}

// SessionFilter narrows ListSessions by DM or campaign; zero values
// mean "no filter on that field."
type SessionFilter struct {
	DMID       string
	CampaignID string
}

// ListSessions returns sessions matching filters, newest-updated first,
// capped at limit starting at offset.
func (s *Store) ListSessions(ctx context.Context, filter SessionFilter, limit, offset int) ([]model.GameSession, error) {
	query := `SELECT state FROM sessions ORDER BY updated_at DESC LIMIT ` + fmt.Sprintf("%d OFFSET %d", limit, offset)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GameSession
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var sess model.GameSession
		if err := json.Unmarshal([]byte(blob), &sess); err != nil {
			return nil, err
		}
		if filter.DMID != "" && sess.DMID != filter.DMID {
			continue
		}
		if filter.CampaignID != "" && sess.CampaignID != filter.CampaignID {
			continue
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// --- Snapshots repository ---

// SaveSnapshot inserts a snapshot; snapshot ids are unique so this never
// updates an existing row.
func (s *Store) SaveSnapshot(ctx context.Context, snap model.SessionSnapshot) error {
	return s.saveSnapshotWith(ctx, s.db, snap)
}

func (s *Store) saveSnapshotTx(ctx context.Context, tx *sql.Tx, snap model.SessionSnapshot) error {
	return s.saveSnapshotWith(ctx, tx, snap)
}

func (s *Store) saveSnapshotWith(ctx context.Context, ex execer, snap model.SessionSnapshot) error {
	if snap.SnapshotID == "" {
		snap.SnapshotID = uuid.NewString()
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: marshal snapshot: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO snapshots (snapshot_id, session_id, snapshot, created_at) VALUES (%s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	_, err = ex.ExecContext(ctx, query, snap.SnapshotID, snap.SessionID, string(blob), snap.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// GetSnapshot fetches one snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (model.SessionSnapshot, error) {
	var blob string
	query := fmt.Sprintf(`SELECT snapshot FROM snapshots WHERE snapshot_id = %s`, s.ph(1))
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&blob); err != nil {
		return model.SessionSnapshot{}, err
	}
	var out model.SessionSnapshot
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return model.SessionSnapshot{}, err
	}
	return out, nil
}

// ListSnapshotsBySession returns a session's snapshots, newest first.
func (s *Store) ListSnapshotsBySession(ctx context.Context, sessionID string, limit int) ([]model.SessionSnapshot, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM snapshots WHERE session_id = %s ORDER BY created_at DESC LIMIT %s`, s.ph(1), fmt.Sprintf("%d", limit))
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionSnapshot
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var snap model.SessionSnapshot
		if err := json.Unmarshal([]byte(blob), &snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes a snapshot by id.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM snapshots WHERE snapshot_id = %s`, s.ph(1))
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// ExistsSnapshot reports whether id is present.
func (s *Store) ExistsSnapshot(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM snapshots WHERE snapshot_id = %s)`, s.ph(1))
	err := s.db.QueryRowContext(ctx, query, id).Scan(&exists)
	return exists, err
}

// --- Rollback log repository ---

// SaveRollbackLog inserts a rollback log row.
func (s *Store) SaveRollbackLog(ctx context.Context, entry model.RollbackLog) error {
	return s.saveRollbackLogWith(ctx, s.db, entry)
}

func (s *Store) saveRollbackLogTx(ctx context.Context, tx *sql.Tx, entry model.RollbackLog) error {
	return s.saveRollbackLogWith(ctx, tx, entry)
}

func (s *Store) saveRollbackLogWith(ctx context.Context, ex execer, entry model.RollbackLog) error {
	if entry.LogID == "" {
		entry.LogID = uuid.NewString()
	}
	blob, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("session: marshal rollback log: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO rollback_log (log_id, session_id, entry, timestamp) VALUES (%s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	_, err = ex.ExecContext(ctx, query, entry.LogID, entry.SessionID, string(blob), entry.Timestamp.UTC().Format(time.RFC3339Nano))
	return err
}

// ListRollbackLog returns a session's log rows, newest first.
func (s *Store) ListRollbackLog(ctx context.Context, sessionID string, limit int) ([]model.RollbackLog, error) {
	query := fmt.Sprintf(`SELECT entry FROM rollback_log WHERE session_id = %s ORDER BY timestamp DESC LIMIT %s`, s.ph(1), fmt.Sprintf("%d", limit))
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RollbackLog
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var entry model.RollbackLog
		if err := json.Unmarshal([]byte(blob), &entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// LatestRollbackPoint returns the snapshot id of the most recent
// create_point entry for sessionID, if any.
func (s *Store) LatestRollbackPoint(ctx context.Context, sessionID string) (string, bool, error) {
	entries, err := s.ListRollbackLog(ctx, sessionID, 100)
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if e.Action == model.ActionCreatePoint {
			return e.SnapshotID, true, nil
		}
	}
	return "", false, nil
}
