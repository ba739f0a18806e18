package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stratamem/strata/internal/storage"
	"github.com/stratamem/strata/pkg/types"
)

// RecallStore implements storage.RecallStore on SQLite.
type RecallStore struct {
	db *sql.DB
}

// NewRecallStore creates a recall store over the shared database.
func NewRecallStore(d *DB) *RecallStore {
	return &RecallStore{db: d.Handle()}
}

const recallColumns = `agent_id, id, kind, title, content, confidence, importance,
	is_active, valid_from, valid_to, last_used_at, last_confirmed_at,
	evidence_record_id, evidence_session_id, evidence_turn_id,
	embedding, embedding_model, created_at, updated_at`

// Create inserts a new recall item.
func (s *RecallStore) Create(ctx context.Context, item *types.RecallItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	if item.ValidFrom.IsZero() {
		item.ValidFrom = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recall_items (`+recallColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.AgentID, item.ID, string(item.Kind), item.Title, item.Content,
		item.Confidence, item.Importance, boolToInt(item.IsActive),
		item.ValidFrom, nullTime(item.ValidTo), nullTime(item.LastUsedAt), nullTime(item.LastConfirmedAt),
		item.Evidence.RecordID, item.Evidence.SessionID, item.Evidence.TurnID,
		encodeVector(item.Embedding), item.EmbeddingModel,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: recall item %s already exists", storage.ErrConflict, item.ID)
		}
		return fmt.Errorf("failed to create recall item: %w", err)
	}
	return nil
}

// Get retrieves one item scoped to the agent.
func (s *RecallStore) Get(ctx context.Context, agentID, id string) (*types.RecallItem, error) {
	if agentID == "" || id == "" {
		return nil, fmt.Errorf("%w: agent id and item id are required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+recallColumns+` FROM recall_items
		WHERE agent_id = ? AND id = ?`, agentID, id)

	item, err := scanRecallItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recall item: %w", err)
	}
	return item, nil
}

// Update rewrites the mutable fields of an existing item.
func (s *RecallStore) Update(ctx context.Context, item *types.RecallItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	item.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE recall_items SET
			title = ?, content = ?, confidence = ?, importance = ?,
			is_active = ?, valid_from = ?, valid_to = ?,
			last_used_at = ?, last_confirmed_at = ?,
			evidence_record_id = ?, evidence_session_id = ?, evidence_turn_id = ?,
			embedding = ?, embedding_model = ?, updated_at = ?
		WHERE agent_id = ? AND id = ?`,
		item.Title, item.Content, item.Confidence, item.Importance,
		boolToInt(item.IsActive), item.ValidFrom, nullTime(item.ValidTo),
		nullTime(item.LastUsedAt), nullTime(item.LastConfirmedAt),
		item.Evidence.RecordID, item.Evidence.SessionID, item.Evidence.TurnID,
		encodeVector(item.Embedding), item.EmbeddingModel, item.UpdatedAt,
		item.AgentID, item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update recall item: %w", err)
	}
	return requireRow(res)
}

// List returns items for the agent, newest first.
func (s *RecallStore) List(ctx context.Context, agentID string, opts storage.ListOptions) ([]*types.RecallItem, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", storage.ErrInvalidInput)
	}
	opts.Normalize()

	query := `SELECT ` + recallColumns + ` FROM recall_items WHERE agent_id = ?`
	args := []any{agentID}
	if !opts.IncludeInactive {
		query += ` AND is_active = 1`
	}
	if opts.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, opts.Kind)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	return s.queryItems(ctx, query, args...)
}

// ListActive returns every active item for the agent, unbounded: this
// is the index rebuild source and must not truncate.
func (s *RecallStore) ListActive(ctx context.Context, agentID string) ([]*types.RecallItem, error) {
	return s.List(ctx, agentID, storage.ListOptions{Limit: -1})
}

// ListMissingEmbeddings returns active items without a stored vector.
func (s *RecallStore) ListMissingEmbeddings(ctx context.Context, agentID string) ([]*types.RecallItem, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", storage.ErrInvalidInput)
	}
	return s.queryItems(ctx, `
		SELECT `+recallColumns+` FROM recall_items
		WHERE agent_id = ? AND is_active = 1
		  AND (embedding IS NULL OR length(embedding) = 0)
		ORDER BY created_at ASC`, agentID)
}

// MarkInactive deactivates an item and closes its validity window.
func (s *RecallStore) MarkInactive(ctx context.Context, agentID, id string, validTo time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recall_items SET is_active = 0, valid_to = ?, updated_at = ?
		WHERE agent_id = ? AND id = ?`,
		validTo, time.Now().UTC(), agentID, id)
	if err != nil {
		return fmt.Errorf("failed to mark recall item inactive: %w", err)
	}
	return requireRow(res)
}

// TouchLastUsed updates last_used_at for the given items. Best-effort:
// ids that no longer exist are silently skipped.
func (s *RecallStore) TouchLastUsed(ctx context.Context, agentID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE recall_items SET last_used_at = ? WHERE agent_id = ? AND id = ?`,
			at, agentID, id); err != nil {
			return fmt.Errorf("failed to touch last_used_at: %w", err)
		}
	}
	return nil
}

// TouchConfirmed updates last_confirmed_at for one item.
func (s *RecallStore) TouchConfirmed(ctx context.Context, agentID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recall_items SET last_confirmed_at = ?, updated_at = ? WHERE agent_id = ? AND id = ?`,
		at, time.Now().UTC(), agentID, id)
	if err != nil {
		return fmt.Errorf("failed to touch last_confirmed_at: %w", err)
	}
	return requireRow(res)
}

// Search performs a LIKE match over title and content of active items.
func (s *RecallStore) Search(ctx context.Context, agentID, query string, limit int) ([]*types.RecallItem, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	return s.queryItems(ctx, `
		SELECT `+recallColumns+` FROM recall_items
		WHERE agent_id = ? AND is_active = 1 AND (content LIKE ? OR title LIKE ?)
		ORDER BY created_at DESC LIMIT ?`, agentID, pattern, pattern, limit)
}

// Delete hard-deletes one item.
func (s *RecallStore) Delete(ctx context.Context, agentID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recall_items WHERE agent_id = ? AND id = ?`, agentID, id)
	if err != nil {
		return fmt.Errorf("failed to delete recall item: %w", err)
	}
	return requireRow(res)
}

// DeleteAgent removes every row for the agent.
func (s *RecallStore) DeleteAgent(ctx context.Context, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recall_items WHERE agent_id = ?`, agentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete agent recall items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of rows for the agent.
func (s *RecallStore) Count(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recall_items WHERE agent_id = ?`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recall items: %w", err)
	}
	return n, nil
}

// Agents returns the distinct agent ids present in the store.
func (s *RecallStore) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT agent_id FROM recall_items ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		agents = append(agents, id)
	}
	return agents, rows.Err()
}

// Close is a no-op: the shared DB owns the connection.
func (s *RecallStore) Close() error { return nil }

func (s *RecallStore) queryItems(ctx context.Context, query string, args ...any) ([]*types.RecallItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recall items: %w", err)
	}
	defer rows.Close()

	var items []*types.RecallItem
	for rows.Next() {
		item, err := scanRecallItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecallItem.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecallItem(sc scanner) (*types.RecallItem, error) {
	var (
		item                     types.RecallItem
		kind                     string
		active                   int
		validTo, used, confirmed sql.NullTime
		blob                     []byte
	)
	err := sc.Scan(
		&item.AgentID, &item.ID, &kind, &item.Title, &item.Content,
		&item.Confidence, &item.Importance, &active,
		&item.ValidFrom, &validTo, &used, &confirmed,
		&item.Evidence.RecordID, &item.Evidence.SessionID, &item.Evidence.TurnID,
		&blob, &item.EmbeddingModel, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Kind = types.Kind(kind)
	item.IsActive = active != 0
	item.ValidTo = timePtr(validTo)
	item.LastUsedAt = timePtr(used)
	item.LastConfirmedAt = timePtr(confirmed)

	item.Embedding, err = decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("recall item %s: %w", item.ID, err)
	}
	return &item, nil
}

func validateItem(item *types.RecallItem) error {
	if item == nil {
		return storage.ErrInvalidInput
	}
	if item.AgentID == "" || item.ID == "" {
		return fmt.Errorf("%w: agent id and item id are required", storage.ErrInvalidInput)
	}
	if item.Content == "" {
		return fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if !types.ValidKind(item.Kind) {
		return fmt.Errorf("%w: unknown kind %q", storage.ErrInvalidInput, item.Kind)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// isUniqueViolation reports whether err is a primary-key violation.
// modernc.org/sqlite surfaces these as "constraint failed" errors
// without a typed error, so this is a string check.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
