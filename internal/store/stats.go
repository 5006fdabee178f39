package store

import (
	"context"
	"os"

	"github.com/rcliao/layered-memory/internal/model"
)

// Stats holds database statistics.
type Stats struct {
	DBPath          string                 `json:"db_path"`
	DBSizeBytes     int64                  `json:"db_size_bytes"`
	TotalRecords    int                    `json:"total_records"`
	ActiveRecords   int                    `json:"active_records"`
	ArchivedRecords int                    `json:"archived_records"`
	ByCategory      map[model.Category]int `json:"by_category"`
	PendingSync     int                    `json:"pending_sync"`
	FailedSync      int                    `json:"failed_sync"`
	SyncedRecords   int                    `json:"synced_records"`
}

// Stats returns database statistics. ByCategory counts active records only.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		DBPath:     s.path,
		ByCategory: make(map[model.Category]int),
	}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN archived = 1 THEN 1 ELSE 0 END), 0)
		FROM memories`).Scan(&st.TotalRecords, &st.ArchivedRecords)
	if err != nil {
		return nil, ioErr(err, "count memories")
	}
	st.ActiveRecords = st.TotalRecords - st.ArchivedRecords

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) AS cnt
		FROM memories WHERE archived = 0
		GROUP BY category ORDER BY cnt DESC`)
	if err != nil {
		return nil, ioErr(err, "count categories")
	}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return nil, ioErr(err, "scan category count")
		}
		st.ByCategory[model.Category(cat)] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM sync_ledger GROUP BY state`)
	if err != nil {
		return nil, ioErr(err, "count ledger")
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, ioErr(err, "scan ledger count")
		}
		switch model.SyncState(state) {
		case model.SyncPending:
			st.PendingSync = n
		case model.SyncFailed:
			st.FailedSync = n
		case model.SyncSynced:
			st.SyncedRecords = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(err, "iterate ledger counts")
	}
	return st, nil
}
