package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/model"
)

// SyncOp is the vector-index operation a ledger row asks for.
type SyncOp string

const (
	OpUpsert SyncOp = "upsert"
	OpDelete SyncOp = "delete"
)

// LedgerEntry is one row of the sync ledger. Version increases every time a
// new sync is requested for the id; results of older attempts are discarded.
type LedgerEntry struct {
	ID          string          `json:"id"`
	Op          SyncOp          `json:"op"`
	State       model.SyncState `json:"state"`
	Version     int64           `json:"version"`
	Attempts    int             `json:"attempts"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Ledger is the durable sync-state ledger.
type Ledger interface {
	MarkPending(ctx context.Context, id string, op SyncOp) error
	LedgerEntry(ctx context.Context, id string) (*LedgerEntry, error)
	MarkSynced(ctx context.Context, id string, version int64) (bool, error)
	ClearLedger(ctx context.Context, id string, version int64) (bool, error)
	RecordFailure(ctx context.Context, id string, version int64, cause string) (int, error)
	MarkFailed(ctx context.Context, id string, version int64) (bool, error)
	ListLedger(ctx context.Context, state model.SyncState, limit int) ([]LedgerEntry, error)
	ResetFailed(ctx context.Context) (int, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func markPending(ctx context.Context, ex execer, id string, op SyncOp, now time.Time) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO sync_ledger (id, op, state, version, attempt_count, updated_at_ms)
		VALUES (?, ?, 'pending', 1, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			op = excluded.op,
			state = 'pending',
			version = sync_ledger.version + 1,
			attempt_count = 0,
			last_error = NULL,
			updated_at_ms = excluded.updated_at_ms`,
		id, string(op), now.UnixMilli())
	if err != nil {
		return ioErr(err, "mark pending", goerr.V("id", id), goerr.V("op", op))
	}
	return nil
}

// MarkPending requests a fresh sync of id.
func (s *SQLiteStore) MarkPending(ctx context.Context, id string, op SyncOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markPending(ctx, s.db, id, op, time.Now().UTC())
}

func (s *SQLiteStore) LedgerEntry(ctx context.Context, id string) (*LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, selectLedger+` WHERE id = ?`, id)
	e, err := scanLedger(row)
	if err == sql.ErrNoRows {
		return nil, goerr.New("ledger entry not found", goerr.V("id", id), goerr.T(model.TagNotFound))
	}
	if err != nil {
		return nil, ioErr(err, "get ledger entry", goerr.V("id", id))
	}
	return &e, nil
}

// MarkSynced records a successful upsert. It reports false when the entry has
// moved on to a newer version or a delete.
func (s *SQLiteStore) MarkSynced(ctx context.Context, id string, version int64) (bool, error) {
	return s.execGuarded(ctx, "mark synced", id, `
		UPDATE sync_ledger SET state = 'synced', last_error = NULL, updated_at_ms = ?
		WHERE id = ? AND version = ? AND op = 'upsert'`,
		time.Now().UTC().UnixMilli(), id, version)
}

// ClearLedger drops the entry once the id is gone from both stores.
func (s *SQLiteStore) ClearLedger(ctx context.Context, id string, version int64) (bool, error) {
	return s.execGuarded(ctx, "clear ledger", id,
		`DELETE FROM sync_ledger WHERE id = ? AND version = ?`,
		id, version)
}

// RecordFailure bumps the attempt counter of the given version and returns
// the new count. A stale version yields 0.
func (s *SQLiteStore) RecordFailure(ctx context.Context, id string, version int64, cause string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_ledger
		SET attempt_count = attempt_count + 1, last_attempt_ms = ?, last_error = ?, updated_at_ms = ?
		WHERE id = ? AND version = ? AND state = 'pending'`,
		now, cause, now, id, version)
	if err != nil {
		return 0, ioErr(err, "record failure", goerr.V("id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, nil
	}

	var attempts int
	if err := s.db.QueryRowContext(ctx, `SELECT attempt_count FROM sync_ledger WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, ioErr(err, "read attempts", goerr.V("id", id))
	}
	return attempts, nil
}

// MarkFailed parks the entry until the next resync sweep.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, version int64) (bool, error) {
	return s.execGuarded(ctx, "mark failed", id, `
		UPDATE sync_ledger SET state = 'failed', updated_at_ms = ?
		WHERE id = ? AND version = ? AND state = 'pending'`,
		time.Now().UTC().UnixMilli(), id, version)
}

// ListLedger returns entries in the given state, oldest first. Limit 0 means
// unbounded.
func (s *SQLiteStore) ListLedger(ctx context.Context, state model.SyncState, limit int) ([]LedgerEntry, error) {
	query := selectLedger + ` WHERE state = ? ORDER BY updated_at_ms, id`
	args := []interface{}{string(state)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioErr(err, "list ledger", goerr.V("state", state))
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, ioErr(err, "scan ledger")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(err, "iterate ledger")
	}
	return entries, nil
}

// ResetFailed moves every failed entry back to pending with a fresh attempt
// budget. Returns how many were reset.
func (s *SQLiteStore) ResetFailed(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_ledger
		SET state = 'pending', attempt_count = 0, version = version + 1, updated_at_ms = ?
		WHERE state = 'failed'`,
		time.Now().UTC().UnixMilli())
	if err != nil {
		return 0, ioErr(err, "reset failed")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) execGuarded(ctx context.Context, what, id, query string, args ...interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, ioErr(err, what, goerr.V("id", id))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const selectLedger = `
	SELECT id, op, state, version, attempt_count, last_attempt_ms, last_error, updated_at_ms
	FROM sync_ledger`

func scanLedger(row scanner) (LedgerEntry, error) {
	var e LedgerEntry
	var op, state string
	var lastAttempt sql.NullInt64
	var lastError sql.NullString
	var updatedMS int64

	if err := row.Scan(&e.ID, &op, &state, &e.Version, &e.Attempts, &lastAttempt, &lastError, &updatedMS); err != nil {
		return e, err
	}
	e.Op = SyncOp(op)
	e.State = model.SyncState(state)
	e.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	if lastAttempt.Valid {
		t := time.UnixMilli(lastAttempt.Int64).UTC()
		e.LastAttempt = &t
	}
	e.LastError = lastError.String
	return e, nil
}
