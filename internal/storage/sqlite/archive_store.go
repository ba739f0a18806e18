package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stratamem/strata/internal/storage"
	"github.com/stratamem/strata/pkg/types"
)

// ArchiveStore implements storage.ArchiveStore on SQLite. Records are
// append-only: insert and delete are the only writes.
type ArchiveStore struct {
	db *sql.DB

	// ULID entropy source; guarded because math/rand sources are not
	// safe for concurrent use.
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewArchiveStore creates an archive store over the shared database.
func NewArchiveStore(d *DB) *ArchiveStore {
	return &ArchiveStore{
		db:      d.Handle(),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// newID returns a fresh ULID; ids sort lexicographically by time.
func (s *ArchiveStore) newID(at time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

// Insert appends a record, assigning a ULID when rec.ID is empty.
func (s *ArchiveStore) Insert(ctx context.Context, rec *types.ArchivalRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	if rec.AgentID == "" {
		return fmt.Errorf("%w: agent id is required", storage.ErrInvalidInput)
	}
	if rec.Content == "" {
		return fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = s.newID(rec.CreatedAt)
	}

	var tagsJSON []byte
	if len(rec.Tags) > 0 {
		var err error
		tagsJSON, err = json.Marshal(rec.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archival_records (agent_id, id, session_id, turn_id, role, content, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AgentID, rec.ID, rec.SessionID, rec.TurnID, string(rec.Role),
		rec.Content, tagsJSON, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert archival record: %w", err)
	}
	return nil
}

const archiveColumns = `agent_id, id, session_id, turn_id, role, content, tags, created_at`

// Get retrieves one record scoped to the agent.
func (s *ArchiveStore) Get(ctx context.Context, agentID, id string) (*types.ArchivalRecord, error) {
	if agentID == "" || id == "" {
		return nil, fmt.Errorf("%w: agent id and record id are required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+archiveColumns+` FROM archival_records
		WHERE agent_id = ? AND id = ?`, agentID, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get archival record: %w", err)
	}
	return rec, nil
}

// ListRecent returns the newest records for the agent, newest first.
func (s *ArchiveStore) ListRecent(ctx context.Context, agentID string, limit int) ([]*types.ArchivalRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRecords(ctx, `
		SELECT `+archiveColumns+` FROM archival_records
		WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, agentID, limit)
}

// ListSession returns every record of one session in turn order.
func (s *ArchiveStore) ListSession(ctx context.Context, agentID, sessionID string) ([]*types.ArchivalRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+archiveColumns+` FROM archival_records
		WHERE agent_id = ? AND session_id = ?
		ORDER BY turn_id ASC, id ASC`, agentID, sessionID)
}

// Search performs a LIKE match over record content, newest first.
func (s *ArchiveStore) Search(ctx context.Context, agentID, query string, limit int) ([]*types.ArchivalRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRecords(ctx, `
		SELECT `+archiveColumns+` FROM archival_records
		WHERE agent_id = ? AND content LIKE ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, agentID, "%"+query+"%", limit)
}

// Delete removes one record.
func (s *ArchiveStore) Delete(ctx context.Context, agentID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM archival_records WHERE agent_id = ? AND id = ?`, agentID, id)
	if err != nil {
		return fmt.Errorf("failed to delete archival record: %w", err)
	}
	return requireRow(res)
}

// DeleteBefore removes records created before cutoff.
func (s *ArchiveStore) DeleteBefore(ctx context.Context, agentID string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM archival_records WHERE agent_id = ? AND created_at < ?`, agentID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archival records before cutoff: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteAll removes every record for the agent.
func (s *ArchiveStore) DeleteAll(ctx context.Context, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM archival_records WHERE agent_id = ?`, agentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete agent archival records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of records for the agent.
func (s *ArchiveStore) Count(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archival_records WHERE agent_id = ?`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count archival records: %w", err)
	}
	return n, nil
}

// Close is a no-op: the shared DB owns the connection.
func (s *ArchiveStore) Close() error { return nil }

func (s *ArchiveStore) queryRecords(ctx context.Context, query string, args ...any) ([]*types.ArchivalRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query archival records: %w", err)
	}
	defer rows.Close()

	var recs []*types.ArchivalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRecord(sc scanner) (*types.ArchivalRecord, error) {
	var (
		rec      types.ArchivalRecord
		role     string
		tagsJSON []byte
	)
	err := sc.Scan(&rec.AgentID, &rec.ID, &rec.SessionID, &rec.TurnID,
		&role, &rec.Content, &tagsJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Role = types.Role(role)
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
			return nil, fmt.Errorf("record %s: failed to unmarshal tags: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
