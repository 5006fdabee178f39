package store

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/model"
)

// ExportAll returns every memory, archived ones included, oldest first.
// Optionally filtered by category.
func (s *SQLiteStore) ExportAll(ctx context.Context, category model.Category) ([]model.Memory, error) {
	where, args := attrFilter(category, true)
	query := selectMemories
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY m.created_at_ms, m.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioErr(err, "export memories")
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, ioErr(err, "scan memory")
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(err, "iterate export")
	}
	return memories, nil
}

// Import inserts records keeping their ids and timestamps. Records whose id
// already exists are skipped. Returns the number inserted.
func (s *SQLiteStore) Import(ctx context.Context, mems []model.Memory) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ioErr(err, "begin import")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	imported := 0
	for i := range mems {
		m := mems[i]
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.ID == "" {
			m.ID = s.newID(now)
		}
		if !model.ValidCategories[m.Category] {
			m.Category = model.CategoryGeneral
		}
		if model.ValidateImportance(m.Importance) != nil {
			m.Importance = 0.5
		}
		m.Importance = model.ClampImportance(m.Importance)
		m.Tags = model.NormalizeTags(m.Tags)
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}

		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE id = ?`, m.ID).Scan(&exists)
		if err != nil {
			return 0, ioErr(err, "check existing", goerr.V("id", m.ID))
		}
		if exists > 0 {
			continue
		}
		if err := insertMemory(ctx, tx, &m); err != nil {
			return 0, err
		}
		if err := markPending(ctx, tx, m.ID, OpUpsert, now); err != nil {
			return 0, err
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return 0, ioErr(err, "commit import")
	}
	return imported, nil
}

