package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stratamem/strata/internal/storage"
)

// IndexMapStore implements storage.IndexMapStore on SQLite.
type IndexMapStore struct {
	db *sql.DB
}

// NewIndexMapStore creates an index map store over the shared database.
func NewIndexMapStore(d *DB) *IndexMapStore {
	return &IndexMapStore{db: d.Handle()}
}

// PutEntry upserts the map row for one item.
func (s *IndexMapStore) PutEntry(ctx context.Context, agentID, itemID string, internalID int) error {
	if agentID == "" || itemID == "" {
		return fmt.Errorf("%w: agent id and item id are required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_map (agent_id, item_id, internal_id, deleted, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(agent_id, item_id) DO UPDATE SET
			internal_id = excluded.internal_id,
			deleted = 0,
			updated_at = excluded.updated_at`,
		agentID, itemID, internalID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put index map entry: %w", err)
	}
	return nil
}

// MarkDeleted tombstones the map row for one item.
func (s *IndexMapStore) MarkDeleted(ctx context.Context, agentID, itemID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_map SET deleted = 1, updated_at = ?
		WHERE agent_id = ? AND item_id = ?`,
		time.Now().UTC(), agentID, itemID)
	if err != nil {
		return fmt.Errorf("failed to tombstone index map entry: %w", err)
	}
	return requireRow(res)
}

// ListEntries returns every map row for the agent, tombstoned included,
// ordered by internal id.
func (s *IndexMapStore) ListEntries(ctx context.Context, agentID string) ([]storage.IndexMapEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, internal_id, deleted FROM index_map
		WHERE agent_id = ? ORDER BY internal_id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list index map entries: %w", err)
	}
	defer rows.Close()

	var entries []storage.IndexMapEntry
	for rows.Next() {
		var (
			e       storage.IndexMapEntry
			deleted int
		)
		if err := rows.Scan(&e.ItemID, &e.InternalID, &deleted); err != nil {
			return nil, err
		}
		e.Deleted = deleted != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceEntries atomically replaces the agent's map rows.
func (s *IndexMapStore) ReplaceEntries(ctx context.Context, agentID string, entries []storage.IndexMapEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index map transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_map WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("failed to clear index map entries: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_map (agent_id, item_id, internal_id, deleted, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			agentID, e.ItemID, e.InternalID, boolToInt(e.Deleted), now); err != nil {
			return fmt.Errorf("failed to insert index map entry: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteAgentEntries removes every map row for the agent.
func (s *IndexMapStore) DeleteAgentEntries(ctx context.Context, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM index_map WHERE agent_id = ?`, agentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete agent index map entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountEntries returns the number of live (non-tombstoned) map rows.
func (s *IndexMapStore) CountEntries(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM index_map WHERE agent_id = ? AND deleted = 0`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count index map entries: %w", err)
	}
	return n, nil
}
