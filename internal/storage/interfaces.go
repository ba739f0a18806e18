// Package storage defines the persistence interfaces for the layered
// memory engine.
//
// The surface is split into small, focused interfaces that can be
// implemented independently and composed as needed: the hot recall
// tier (RecallStore), the cold append-only archive tier (ArchiveStore),
// and the durable index id map (IndexMapStore). Every operation is
// scoped by agent_id; no call may return or mutate a row belonging to
// another agent.
package storage

import (
	"context"
	"time"

	"github.com/stratamem/strata/pkg/types"
)

// RecallStore owns RecallItem persistence and is the single writer for
// the hot tier. All writes are durable before the corresponding
// similarity index operation is attempted; on a crash between the two,
// an index rebuild restores consistency from this store.
type RecallStore interface {
	// Create inserts a new recall item. The item's ID and AgentID must
	// be set. Returns ErrConflict if the (agent_id, id) pair exists.
	Create(ctx context.Context, item *types.RecallItem) error

	// Get retrieves one item. Returns ErrNotFound if the id is absent
	// or belongs to another agent.
	Get(ctx context.Context, agentID, id string) (*types.RecallItem, error)

	// Update rewrites an existing item's mutable fields (content,
	// title, scores, validity, embedding, usage timestamps).
	// Returns ErrNotFound if the item doesn't exist under the agent.
	Update(ctx context.Context, item *types.RecallItem) error

	// List returns items for the agent, newest first.
	List(ctx context.Context, agentID string, opts ListOptions) ([]*types.RecallItem, error)

	// ListActive returns every active item for the agent. This is the
	// index rebuild source.
	ListActive(ctx context.Context, agentID string) ([]*types.RecallItem, error)

	// ListMissingEmbeddings returns active items that have no stored
	// vector (embedding generation failed at write time). The
	// maintenance pass re-embeds them.
	ListMissingEmbeddings(ctx context.Context, agentID string) ([]*types.RecallItem, error)

	// MarkInactive deactivates an item and closes its validity window
	// at validTo. The row is retained for audit.
	MarkInactive(ctx context.Context, agentID, id string, validTo time.Time) error

	// TouchLastUsed updates last_used_at for the given items. Missing
	// ids are skipped, not errors: this is a best-effort side effect of
	// retrieval.
	TouchLastUsed(ctx context.Context, agentID string, ids []string, at time.Time) error

	// TouchConfirmed updates last_confirmed_at for one item.
	TouchConfirmed(ctx context.Context, agentID, id string, at time.Time) error

	// Search performs a keyword match over title and content of active
	// items, newest first. This is the lexical fallback path, not the
	// primary retrieval mechanism.
	Search(ctx context.Context, agentID, query string, limit int) ([]*types.RecallItem, error)

	// Delete hard-deletes one item. Used only for explicit user
	// erasure; decay and supersession deactivate instead.
	Delete(ctx context.Context, agentID, id string) error

	// DeleteAgent removes every row for the agent and returns the
	// count. Used by full compliance erasure.
	DeleteAgent(ctx context.Context, agentID string) (int, error)

	// Count returns the number of rows (active or not) for the agent.
	Count(ctx context.Context, agentID string) (int, error)

	// Agents returns the distinct agent ids present in the store.
	// Used by the maintenance pass to walk partitions.
	Agents(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// ArchiveStore is the append-only cold tier of raw events. Records are
// never mutated in place; the only write besides insert is deletion
// for privacy erasure.
type ArchiveStore interface {
	// Insert appends a record. If rec.ID is empty the store assigns a
	// ULID and writes it back, so ids sort by insertion time.
	Insert(ctx context.Context, rec *types.ArchivalRecord) error

	// Get retrieves one record, ErrNotFound on absence or wrong agent.
	Get(ctx context.Context, agentID, id string) (*types.ArchivalRecord, error)

	// ListRecent returns the newest records for the agent, newest first.
	ListRecent(ctx context.Context, agentID string, limit int) ([]*types.ArchivalRecord, error)

	// ListSession returns every record of one session in turn order.
	ListSession(ctx context.Context, agentID, sessionID string) ([]*types.ArchivalRecord, error)

	// Search performs a keyword match over record content, newest first.
	Search(ctx context.Context, agentID, query string, limit int) ([]*types.ArchivalRecord, error)

	// Delete removes one record (privacy erasure).
	Delete(ctx context.Context, agentID, id string) error

	// DeleteBefore removes records created before cutoff and returns
	// the count. Backs the archive TTL sweep.
	DeleteBefore(ctx context.Context, agentID string, cutoff time.Time) (int, error)

	// DeleteAll removes every record for the agent and returns the count.
	DeleteAll(ctx context.Context, agentID string) (int, error)

	// Count returns the number of records for the agent.
	Count(ctx context.Context, agentID string) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// IndexMapStore persists the (agent_id, item_id) -> internal index id
// map, including tombstone flags. A live map row must always reference
// an existing recall item and vice versa; Rebuild checks and repairs
// this invariant with the recall table as source of truth.
type IndexMapStore interface {
	// PutEntry upserts the map row for one item.
	PutEntry(ctx context.Context, agentID, itemID string, internalID int) error

	// MarkDeleted tombstones the map row for one item.
	MarkDeleted(ctx context.Context, agentID, itemID string) error

	// ListEntries returns every map row for the agent, tombstoned
	// included.
	ListEntries(ctx context.Context, agentID string) ([]IndexMapEntry, error)

	// ReplaceEntries atomically replaces the agent's map rows with the
	// given set. Used after compaction and rebuild.
	ReplaceEntries(ctx context.Context, agentID string, entries []IndexMapEntry) error

	// DeleteAgentEntries removes every map row for the agent and
	// returns the count.
	DeleteAgentEntries(ctx context.Context, agentID string) (int, error)

	// CountEntries returns the number of live (non-tombstoned) map rows.
	CountEntries(ctx context.Context, agentID string) (int, error)
}
