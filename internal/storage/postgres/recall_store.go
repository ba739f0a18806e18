package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/stratamem/strata/internal/storage"
	"github.com/stratamem/strata/pkg/types"
)

// RecallStore implements storage.RecallStore on PostgreSQL.
type RecallStore struct {
	db       *sql.DB
	pgvector bool
}

// NewRecallStore creates a recall store over the shared database.
func NewRecallStore(d *DB) *RecallStore {
	return &RecallStore{db: d.Handle(), pgvector: d.PgvectorAvailable()}
}

const recallColumns = `agent_id, id, kind, title, content, confidence, importance,
	is_active, valid_from, valid_to, last_used_at, last_confirmed_at,
	evidence_record_id, evidence_session_id, evidence_turn_id,
	embedding, embedding_model, created_at, updated_at`

// embeddingArg converts a vector to the driver value for the embedding
// column: a pgvector value when the extension is available, a bytea
// blob otherwise. nil stays nil in both modes.
func (s *RecallStore) embeddingArg(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	if s.pgvector {
		return pgvector.NewVector(vec)
	}
	return encodeBlob(vec)
}

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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		item.AgentID, item.ID, string(item.Kind), item.Title, item.Content,
		item.Confidence, item.Importance, item.IsActive,
		item.ValidFrom, nullTime(item.ValidTo), nullTime(item.LastUsedAt), nullTime(item.LastConfirmedAt),
		item.Evidence.RecordID, item.Evidence.SessionID, item.Evidence.TurnID,
		s.embeddingArg(item.Embedding), item.EmbeddingModel,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("%w: recall item %s already exists", storage.ErrConflict, item.ID)
		}
		return fmt.Errorf("postgres: failed to create recall item: %w", err)
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
		WHERE agent_id = $1 AND id = $2`, agentID, id)

	item, err := s.scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get recall item: %w", err)
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
			title = $1, content = $2, confidence = $3, importance = $4,
			is_active = $5, valid_from = $6, valid_to = $7,
			last_used_at = $8, last_confirmed_at = $9,
			evidence_record_id = $10, evidence_session_id = $11, evidence_turn_id = $12,
			embedding = $13, embedding_model = $14, updated_at = $15
		WHERE agent_id = $16 AND id = $17`,
		item.Title, item.Content, item.Confidence, item.Importance,
		item.IsActive, item.ValidFrom, nullTime(item.ValidTo),
		nullTime(item.LastUsedAt), nullTime(item.LastConfirmedAt),
		item.Evidence.RecordID, item.Evidence.SessionID, item.Evidence.TurnID,
		s.embeddingArg(item.Embedding), item.EmbeddingModel, item.UpdatedAt,
		item.AgentID, item.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update recall item: %w", err)
	}
	return requireRow(res)
}

// List returns items for the agent, newest first.
func (s *RecallStore) List(ctx context.Context, agentID string, opts storage.ListOptions) ([]*types.RecallItem, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", storage.ErrInvalidInput)
	}
	opts.Normalize()

	query := `SELECT ` + recallColumns + ` FROM recall_items WHERE agent_id = $1`
	args := []any{agentID}
	if !opts.IncludeInactive {
		query += ` AND is_active = TRUE`
	}
	if opts.Kind != "" {
		args = append(args, opts.Kind)
		query += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
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
		WHERE agent_id = $1 AND is_active = TRUE AND embedding IS NULL
		ORDER BY created_at ASC`, agentID)
}

// MarkInactive deactivates an item and closes its validity window.
func (s *RecallStore) MarkInactive(ctx context.Context, agentID, id string, validTo time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recall_items SET is_active = FALSE, valid_to = $1, updated_at = $2
		WHERE agent_id = $3 AND id = $4`,
		validTo, time.Now().UTC(), agentID, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to mark recall item inactive: %w", err)
	}
	return requireRow(res)
}

// TouchLastUsed updates last_used_at for the given items.
func (s *RecallStore) TouchLastUsed(ctx context.Context, agentID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE recall_items SET last_used_at = $1 WHERE agent_id = $2 AND id = $3`,
			at, agentID, id); err != nil {
			return fmt.Errorf("postgres: failed to touch last_used_at: %w", err)
		}
	}
	return nil
}

// TouchConfirmed updates last_confirmed_at for one item.
func (s *RecallStore) TouchConfirmed(ctx context.Context, agentID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recall_items SET last_confirmed_at = $1, updated_at = $2 WHERE agent_id = $3 AND id = $4`,
		at, time.Now().UTC(), agentID, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to touch last_confirmed_at: %w", err)
	}
	return requireRow(res)
}

// Search performs an ILIKE match over title and content of active items.
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
		WHERE agent_id = $1 AND is_active = TRUE AND (content ILIKE $2 OR title ILIKE $2)
		ORDER BY created_at DESC LIMIT $3`, agentID, pattern, limit)
}

// Delete hard-deletes one item.
func (s *RecallStore) Delete(ctx context.Context, agentID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recall_items WHERE agent_id = $1 AND id = $2`, agentID, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete recall item: %w", err)
	}
	return requireRow(res)
}

// DeleteAgent removes every row for the agent.
func (s *RecallStore) DeleteAgent(ctx context.Context, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recall_items WHERE agent_id = $1`, agentID)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete agent recall items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of rows for the agent.
func (s *RecallStore) Count(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recall_items WHERE agent_id = $1`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count recall items: %w", err)
	}
	return n, nil
}

// Agents returns the distinct agent ids present in the store.
func (s *RecallStore) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT agent_id FROM recall_items ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list agents: %w", err)
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
		return nil, fmt.Errorf("postgres: failed to query recall items: %w", err)
	}
	defer rows.Close()

	var items []*types.RecallItem
	for rows.Next() {
		item, err := s.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *RecallStore) scanItem(sc scanner) (*types.RecallItem, error) {
	var (
		item                     types.RecallItem
		kind                     string
		validTo, used, confirmed sql.NullTime
	)

	dest := []any{
		&item.AgentID, &item.ID, &kind, &item.Title, &item.Content,
		&item.Confidence, &item.Importance, &item.IsActive,
		&item.ValidFrom, &validTo, &used, &confirmed,
		&item.Evidence.RecordID, &item.Evidence.SessionID, &item.Evidence.TurnID,
	}

	var vec pgvector.Vector
	var vecValid bool
	var blob []byte
	if s.pgvector {
		// pgvector.Vector does not handle NULL; scan through a pointer.
		dest = append(dest, &nullVector{vec: &vec, valid: &vecValid})
	} else {
		dest = append(dest, &blob)
	}
	dest = append(dest, &item.EmbeddingModel, &item.CreatedAt, &item.UpdatedAt)

	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	item.Kind = types.Kind(kind)
	item.ValidTo = timePtr(validTo)
	item.LastUsedAt = timePtr(used)
	item.LastConfirmedAt = timePtr(confirmed)

	if s.pgvector {
		if vecValid {
			item.Embedding = vec.Slice()
		}
	} else if len(blob) > 0 {
		var err error
		item.Embedding, err = decodeBlob(blob)
		if err != nil {
			return nil, fmt.Errorf("recall item %s: %w", item.ID, err)
		}
	}
	return &item, nil
}

// nullVector scans a nullable vector column.
type nullVector struct {
	vec   *pgvector.Vector
	valid *bool
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		*n.valid = false
		return nil
	}
	*n.valid = true
	return n.vec.Scan(src)
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

// encodeBlob and decodeBlob serialize embeddings as little-endian
// float32 for the non-pgvector fallback, matching the SQLite layout.

func encodeBlob(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeBlob(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
