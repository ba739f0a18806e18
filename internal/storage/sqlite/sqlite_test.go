package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratamem/strata/internal/storage"
	"github.com/stratamem/strata/pkg/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testItem(agentID, id string) *types.RecallItem {
	return &types.RecallItem{
		ID:         id,
		AgentID:    agentID,
		Kind:       types.KindPreference,
		Content:    "User prefers short answers",
		Confidence: 0.8,
		Importance: 0.5,
		IsActive:   true,
		Embedding:  []float32{0.1, 0.2, 0.3},
		Evidence:   types.EvidenceRef{RecordID: "rec-1", SessionID: "s1", TurnID: 3},
	}
}

func TestRecallStoreCreateGetRoundTrip(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	item := testItem("agent-1", "item-1")
	require.NoError(t, store.Create(ctx, item))

	got, err := store.Get(ctx, "agent-1", "item-1")
	require.NoError(t, err)
	assert.Equal(t, item.Content, got.Content)
	assert.Equal(t, types.KindPreference, got.Kind)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, item.Evidence, got.Evidence)
	assert.True(t, got.IsActive)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.ValidTo)
}

func TestRecallStoreCreateConflict(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testItem("agent-1", "item-1")))
	err := store.Create(ctx, testItem("agent-1", "item-1"))
	assert.ErrorIs(t, err, storage.ErrConflict)

	// Same id under another agent is a distinct row, not a conflict.
	require.NoError(t, store.Create(ctx, testItem("agent-2", "item-1")))
}

func TestRecallStoreRejectsInvalidItems(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*types.RecallItem)
	}{
		{"missing agent id", func(it *types.RecallItem) { it.AgentID = "" }},
		{"missing item id", func(it *types.RecallItem) { it.ID = "" }},
		{"empty content", func(it *types.RecallItem) { it.Content = "" }},
		{"unknown kind", func(it *types.RecallItem) { it.Kind = "opinion" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := testItem("agent-1", "item-x")
			tt.mutate(item)
			assert.ErrorIs(t, store.Create(ctx, item), storage.ErrInvalidInput)
		})
	}
}

func TestRecallStoreAgentScoping(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testItem("agent-1", "item-1")))

	// A row owned by another agent is indistinguishable from absence.
	_, err := store.Get(ctx, "agent-2", "item-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Delete(ctx, "agent-2", "item-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := store.Get(ctx, "agent-1", "item-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.AgentID)
}

func TestRecallStoreMarkInactiveAndListActive(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testItem("agent-1", "item-1")))
	require.NoError(t, store.Create(ctx, testItem("agent-1", "item-2")))

	validTo := time.Now().UTC()
	require.NoError(t, store.MarkInactive(ctx, "agent-1", "item-1", validTo))

	active, err := store.ListActive(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "item-2", active[0].ID)

	all, err := store.List(ctx, "agent-1", storage.ListOptions{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := store.Get(ctx, "agent-1", "item-1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.ValidTo)
	assert.WithinDuration(t, validTo, *got.ValidTo, time.Second)
}

func TestRecallStoreListActiveIsUnbounded(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	// Past any default listing page size. ListActive feeds index
	// rebuilds and must return every active row.
	const n = 1001
	for i := 0; i < n; i++ {
		require.NoError(t, store.Create(ctx, testItem("agent-1", fmt.Sprintf("item-%04d", i))))
	}

	active, err := store.ListActive(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, active, n)

	// The unbounded listing form backs the compliance export.
	all, err := store.List(ctx, "agent-1", storage.ListOptions{Limit: -1, IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, n)

	// A positive limit still truncates.
	page, err := store.List(ctx, "agent-1", storage.ListOptions{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page, 100)
}

func TestRecallStoreListMissingEmbeddings(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	withVec := testItem("agent-1", "item-1")
	require.NoError(t, store.Create(ctx, withVec))

	noVec := testItem("agent-1", "item-2")
	noVec.Embedding = nil
	require.NoError(t, store.Create(ctx, noVec))

	missing, err := store.ListMissingEmbeddings(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "item-2", missing[0].ID)
}

func TestRecallStoreTouchTimestamps(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testItem("agent-1", "item-1")))

	at := time.Now().UTC()
	// Missing ids are skipped, not errors.
	require.NoError(t, store.TouchLastUsed(ctx, "agent-1", []string{"item-1", "item-missing"}, at))
	require.NoError(t, store.TouchConfirmed(ctx, "agent-1", "item-1", at))

	got, err := store.Get(ctx, "agent-1", "item-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	require.NotNil(t, got.LastConfirmedAt)

	assert.ErrorIs(t, store.TouchConfirmed(ctx, "agent-1", "item-missing", at), storage.ErrNotFound)
}

func TestRecallStoreSearchActiveOnly(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	item := testItem("agent-1", "item-1")
	item.Content = "User drinks oat milk lattes"
	require.NoError(t, store.Create(ctx, item))

	got, err := store.Search(ctx, "agent-1", "oat milk", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, store.MarkInactive(ctx, "agent-1", "item-1", time.Now().UTC()))
	got, err = store.Search(ctx, "agent-1", "oat milk", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecallStoreDeleteAgentAndAgents(t *testing.T) {
	store := NewRecallStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testItem("agent-1", "item-1")))
	require.NoError(t, store.Create(ctx, testItem("agent-1", "item-2")))
	require.NoError(t, store.Create(ctx, testItem("agent-2", "item-1")))

	agents, err := store.Agents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-1", "agent-2"}, agents)

	n, err := store.DeleteAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := store.Count(ctx, "agent-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = store.Count(ctx, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testRecord(agentID, sessionID string, turn int, content string) *types.ArchivalRecord {
	return &types.ArchivalRecord{
		AgentID:   agentID,
		SessionID: sessionID,
		TurnID:    turn,
		Role:      types.RoleUser,
		Content:   content,
		Tags:      []string{"test"},
	}
}

func TestArchiveStoreInsertAssignsSortableIDs(t *testing.T) {
	store := NewArchiveStore(openTestDB(t))
	ctx := context.Background()

	var prev string
	for i := 1; i <= 5; i++ {
		rec := testRecord("agent-1", "s1", i, "turn content")
		require.NoError(t, store.Insert(ctx, rec))
		require.NotEmpty(t, rec.ID)
		if prev != "" {
			assert.Greater(t, rec.ID, prev, "ULIDs must sort by insertion order")
		}
		prev = rec.ID
	}
}

func TestArchiveStoreGetRoundTrip(t *testing.T) {
	store := NewArchiveStore(openTestDB(t))
	ctx := context.Background()

	rec := testRecord("agent-1", "s1", 1, "User mentioned the quarterly report")
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Get(ctx, "agent-1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, types.RoleUser, got.Role)
	assert.Equal(t, []string{"test"}, got.Tags)

	_, err = store.Get(ctx, "agent-2", rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestArchiveStoreListSessionInTurnOrder(t *testing.T) {
	store := NewArchiveStore(openTestDB(t))
	ctx := context.Background()

	for _, turn := range []int{3, 1, 2} {
		require.NoError(t, store.Insert(ctx, testRecord("agent-1", "s1", turn, "content")))
	}
	require.NoError(t, store.Insert(ctx, testRecord("agent-1", "s2", 1, "other session")))

	recs, err := store.ListSession(ctx, "agent-1", "s1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, i+1, rec.TurnID)
	}
}

func TestArchiveStoreSearch(t *testing.T) {
	store := NewArchiveStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testRecord("agent-1", "s1", 1, "Deployed the payment service")))
	require.NoError(t, store.Insert(ctx, testRecord("agent-1", "s1", 2, "Lunch plans for tomorrow")))

	recs, err := store.Search(ctx, "agent-1", "payment", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Content, "payment")
}

func TestArchiveStoreDeleteBefore(t *testing.T) {
	store := NewArchiveStore(openTestDB(t))
	ctx := context.Background()

	old := testRecord("agent-1", "s1", 1, "old content")
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.Insert(ctx, old))
	require.NoError(t, store.Insert(ctx, testRecord("agent-1", "s1", 2, "fresh content")))

	n, err := store.DeleteBefore(ctx, "agent-1", time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := store.Count(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIndexMapStorePutMarkList(t *testing.T) {
	store := NewIndexMapStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.PutEntry(ctx, "agent-1", "item-1", 0))
	require.NoError(t, store.PutEntry(ctx, "agent-1", "item-2", 1))
	require.NoError(t, store.MarkDeleted(ctx, "agent-1", "item-1"))

	entries, err := store.ListEntries(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Deleted)
	assert.False(t, entries[1].Deleted)

	n, err := store.CountEntries(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-putting a tombstoned item revives it with the new internal id.
	require.NoError(t, store.PutEntry(ctx, "agent-1", "item-1", 2))
	n, err = store.CountEntries(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIndexMapStoreReplaceEntries(t *testing.T) {
	store := NewIndexMapStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.PutEntry(ctx, "agent-1", "item-1", 0))
	require.NoError(t, store.PutEntry(ctx, "agent-1", "item-2", 1))

	require.NoError(t, store.ReplaceEntries(ctx, "agent-1", []storage.IndexMapEntry{
		{ItemID: "item-2", InternalID: 0},
		{ItemID: "item-3", InternalID: 1},
	}))

	entries, err := store.ListEntries(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "item-2", entries[0].ItemID)
	assert.Equal(t, "item-3", entries[1].ItemID)
}

func TestIndexMapStoreDeleteAgentEntries(t *testing.T) {
	store := NewIndexMapStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.PutEntry(ctx, "agent-1", "item-1", 0))
	require.NoError(t, store.PutEntry(ctx, "agent-2", "item-1", 0))

	n, err := store.DeleteAgentEntries(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := store.ListEntries(ctx, "agent-2")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
