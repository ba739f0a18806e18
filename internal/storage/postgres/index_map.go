package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stratamem/strata/internal/storage"
)

// IndexMapStore implements storage.IndexMapStore on PostgreSQL.
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
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (agent_id, item_id) DO UPDATE SET
			internal_id = EXCLUDED.internal_id,
			deleted = FALSE,
			updated_at = EXCLUDED.updated_at`,
		agentID, itemID, internalID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: failed to put index map entry: %w", err)
	}
	return nil
}

// MarkDeleted tombstones the map row for one item.
func (s *IndexMapStore) MarkDeleted(ctx context.Context, agentID, itemID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_map SET deleted = TRUE, updated_at = $1
		WHERE agent_id = $2 AND item_id = $3`,
		time.Now().UTC(), agentID, itemID)
	if err != nil {
		return fmt.Errorf("postgres: failed to tombstone index map entry: %w", err)
	}
	return requireRow(res)
}

// ListEntries returns every map row for the agent, tombstoned included,
// ordered by internal id.
func (s *IndexMapStore) ListEntries(ctx context.Context, agentID string) ([]storage.IndexMapEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, internal_id, deleted FROM index_map
		WHERE agent_id = $1 ORDER BY internal_id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list index map entries: %w", err)
	}
	defer rows.Close()

	var entries []storage.IndexMapEntry
	for rows.Next() {
		var e storage.IndexMapEntry
		if err := rows.Scan(&e.ItemID, &e.InternalID, &e.Deleted); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceEntries atomically replaces the agent's map rows.
func (s *IndexMapStore) ReplaceEntries(ctx context.Context, agentID string, entries []storage.IndexMapEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin index map transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_map WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("postgres: failed to clear index map entries: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_map (agent_id, item_id, internal_id, deleted, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			agentID, e.ItemID, e.InternalID, e.Deleted, now); err != nil {
			return fmt.Errorf("postgres: failed to insert index map entry: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteAgentEntries removes every map row for the agent.
func (s *IndexMapStore) DeleteAgentEntries(ctx context.Context, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM index_map WHERE agent_id = $1`, agentID)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete agent index map entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountEntries returns the number of live (non-tombstoned) map rows.
func (s *IndexMapStore) CountEntries(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM index_map WHERE agent_id = $1 AND deleted = FALSE`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count index map entries: %w", err)
	}
	return n, nil
}
