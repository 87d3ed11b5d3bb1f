package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGraphStoreCreateGetMatch(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraphStore()

	require.NoError(t, g.CreateEntity(ctx, Entity{ID: "npc-1", Kind: "NPC", Name: "Old Tom", Properties: map[string]any{"mood": "grumpy"}}))
	require.NoError(t, g.CreateEntity(ctx, Entity{ID: "npc-2", Kind: "NPC", Name: "Young Tim"}))

	e, ok, err := g.GetEntity(ctx, "npc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Old Tom", e.Name)

	require.NoError(t, g.UpdateEntity(ctx, "npc-1", map[string]any{"mood": "cheerful"}))
	e, _, _ = g.GetEntity(ctx, "npc-1")
	assert.Equal(t, "cheerful", e.Properties["mood"])

	matched, err := g.Match(ctx, MatchFilter{Kind: "NPC"})
	require.NoError(t, err)
	assert.Len(t, matched, 2)
}

func TestMemoryGraphStoreRelationshipRequiresBothEntities(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraphStore()
	require.NoError(t, g.CreateEntity(ctx, Entity{ID: "a", Kind: "NPC", Name: "A"}))
	err := g.CreateRelationship(ctx, Relationship{FromID: "a", ToID: "missing", Kind: "knows"})
	assert.Error(t, err)
}

func TestMemoryKVStoreGetSetTTL(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()

	require.NoError(t, kv.Set(ctx, "k1", "v1", time.Hour))
	v, ok, err := kv.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, kv.Set(ctx, "k2", "v2", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err = kv.Get(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must not be returned")
}

func TestMemoryKVStoreInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()
	require.NoError(t, kv.Set(ctx, "session:1:a", "x", 0))
	require.NoError(t, kv.Set(ctx, "session:1:b", "y", 0))
	require.NoError(t, kv.Set(ctx, "other", "z", 0))

	removed, err := kv.InvalidatePattern(ctx, "session:1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok, _ := kv.Get(ctx, "other")
	assert.True(t, ok)
}

func TestMemoryKVStoreHashAndList(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()
	require.NoError(t, kv.HashSetAll(ctx, "h1", map[string]string{"a": "1", "b": "2"}))
	fields, err := kv.HashGetAll(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "1", fields["a"])

	require.NoError(t, kv.ListPush(ctx, "l1", "x", "y", "z"))
	v, ok, err := kv.ListPop(ctx, "l1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", v)

	rng, err := kv.ListRange(ctx, "l1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "z"}, rng)
}

func TestLocalFileStoreWriteReadJSON(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	type doc struct {
		Name string `json:"name"`
	}
	require.NoError(t, store.WriteJSON(ctx, "sub/doc.json", doc{Name: "hi"}))

	var got doc
	require.NoError(t, store.ReadJSON(ctx, "sub/doc.json", &got))
	assert.Equal(t, "hi", got.Name)

	exists, err := store.Exists(ctx, "sub/doc.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalFileStoreRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.resolve("../../etc/passwd")
	assert.Error(t, err)

	_, err = store.Exists(ctx, "/etc/passwd")
	assert.Error(t, err, "absolute paths must be rejected")
}

func TestLocalFileStoreCopyMoveDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.WriteJSON(ctx, "a.json", map[string]string{"k": "v"}))
	require.NoError(t, store.Copy(ctx, "a.json", "b.json"))
	require.NoError(t, store.Move(ctx, "b.json", "c/b.json"))

	exists, _ := store.Exists(ctx, "c/b.json")
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "c", true))
	exists, _ = store.Exists(ctx, "c/b.json")
	assert.False(t, exists)
}
