package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taleforge/dungeonmaster/pkg/config"
	"github.com/taleforge/dungeonmaster/pkg/dm/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(dir, "test.db")}
	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })
	store, err := Open(context.Background(), pool, cfg)
	require.NoError(t, err)
	return store
}

func TestSaveAndGetSessionRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := model.GameSession{
		SessionID:        "sess-1",
		DMID:             "dm-1",
		CampaignID:       "camp-1",
		Name:             "The Sunken Keep",
		PlayerCharacters: []string{"pc-1", "pc-2"},
		ActiveNPCs:       []string{"npc-1"},
		CurrentTime:      3 * time.Hour,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.SaveSession(ctx, sess))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, sess.Name, got.Name)
	assert.Equal(t, sess.PlayerCharacters, got.PlayerCharacters)

	exists, err := s.ExistsSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))
	exists, err = s.ExistsSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdateSessionAppliesPatchAndBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, model.GameSession{SessionID: "sess-1", Name: "Old Name"}))
	require.NoError(t, s.UpdateSession(ctx, "sess-1", func(g *model.GameSession) { g.Name = "New Name" }))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.Name)
	assert.Equal(t, 1, got.Version)
}

func TestApplyPatchMergesKnownFieldsOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, model.GameSession{
		SessionID:      "sess-1",
		Name:           "Old Name",
		CurrentSceneID: "scene-1",
		CurrentTime:    time.Hour,
	}))

	require.NoError(t, s.ApplyPatch(ctx, "sess-1", map[string]any{
		"Name":        "New Name",
		"CurrentTime": "90m",
	}))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.Name)
	assert.Equal(t, "scene-1", got.CurrentSceneID, "unset fields must survive the patch")
	assert.Equal(t, 90*time.Minute, got.CurrentTime)
	assert.Equal(t, 1, got.Version)
}

func TestApplyPatchRejectsUnknownField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, model.GameSession{SessionID: "sess-1"}))
	err := s.ApplyPatch(ctx, "sess-1", map[string]any{"NotAField": "x"})
	assert.Error(t, err)
}

func TestListSessionsFiltersByDM(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, model.GameSession{SessionID: "s1", DMID: "dm-a", UpdatedAt: time.Now()}))
	require.NoError(t, s.SaveSession(ctx, model.GameSession{SessionID: "s2", DMID: "dm-b", UpdatedAt: time.Now()}))

	list, err := s.ListSessions(ctx, SessionFilter{DMID: "dm-a"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].SessionID)
}

func TestCreateRollbackPointWritesSnapshotAndLogAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, model.GameSession{SessionID: "sess-1", Name: "Before"}))
	snap, err := s.CreateRollbackPoint(ctx, "sess-1", "dm-1")
	require.NoError(t, err)
	assert.Equal(t, model.TriggerBeforeRollback, snap.Trigger)

	logs, err := s.ListRollbackLog(ctx, "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActionCreatePoint, logs[0].Action)
	assert.Equal(t, snap.SnapshotID, logs[0].SnapshotID)

	point, ok, err := s.LatestRollbackPoint(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.SnapshotID, point)
}

func TestRollbackRestoresSnapshotStateAndRecordsConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, model.GameSession{SessionID: "sess-1", Name: "Before", CurrentSceneID: "scene-a"}))
	snap, err := s.CreateRollbackPoint(ctx, "sess-1", "dm-1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateSession(ctx, "sess-1", func(g *model.GameSession) { g.CurrentSceneID = "scene-b" }))

	entry, err := s.Rollback(ctx, "sess-1", snap.SnapshotID, "dm-1", []string{"current_scene_id diverged"})
	require.NoError(t, err)
	assert.Equal(t, model.ActionRollback, entry.Action)
	assert.Equal(t, []string{"current_scene_id diverged"}, entry.Conflicts)

	restored, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "scene-a", restored.CurrentSceneID)
}
