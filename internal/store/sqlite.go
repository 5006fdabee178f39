package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/layered-memory/internal/model"
)

// SQLiteStore implements Store using SQLite. Writes go through mu so there is
// exactly one writer at a time; reads use the pool freely.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr(err, "create db dir", goerr.V("dir", dir))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, ioErr(err, "open db", goerr.V("path", dbPath))
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, ioErr(err, "migrate", goerr.V("path", dbPath))
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// newID must be called with mu held; the entropy source is not goroutine safe.
func (s *SQLiteStore) newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		seq              INTEGER PRIMARY KEY,
		id               TEXT NOT NULL UNIQUE,
		content          TEXT NOT NULL,
		category         TEXT NOT NULL DEFAULT 'general',
		importance       REAL NOT NULL DEFAULT 0.5,
		tags             TEXT,
		created_at_ms    INTEGER NOT NULL,
		last_accessed_ms INTEGER,
		access_count     INTEGER NOT NULL DEFAULT 0,
		archived         INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category, archived);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at_ms DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance DESC);

	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		content,
		content=memories,
		content_rowid=seq,
		tokenize='unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, content) VALUES (new.seq, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.seq, old.content);
	END;

	CREATE TABLE IF NOT EXISTS sync_ledger (
		id              TEXT PRIMARY KEY,
		op              TEXT NOT NULL,
		state           TEXT NOT NULL,
		version         INTEGER NOT NULL DEFAULT 1,
		attempt_count   INTEGER NOT NULL DEFAULT 0,
		last_attempt_ms INTEGER,
		last_error      TEXT,
		updated_at_ms   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_state ON sync_ledger(state, updated_at_ms);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, p InsertParams) (*model.Memory, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, goerr.New("content is required", goerr.T(model.TagValidation))
	}
	category := p.Category
	if category == "" {
		category = model.CategoryGeneral
	}
	if !model.ValidCategories[category] {
		return nil, goerr.New("unknown category", goerr.V("category", category), goerr.T(model.TagValidation))
	}
	if err := model.ValidateImportance(p.Importance); err != nil {
		return nil, err
	}

	mem := &model.Memory{
		Content:    p.Content,
		Category:   category,
		Importance: model.ClampImportance(p.Importance),
		Tags:       model.NormalizeTags(p.Tags),
		SyncState:  model.SyncPending,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	mem.ID = s.newID(now)
	mem.CreatedAt = now.Truncate(time.Millisecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ioErr(err, "begin insert")
	}
	defer tx.Rollback()

	if err := insertMemory(ctx, tx, mem); err != nil {
		return nil, err
	}
	if err := markPending(ctx, tx, mem.ID, OpUpsert, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, ioErr(err, "commit insert", goerr.V("id", mem.ID))
	}
	return mem, nil
}

func insertMemory(ctx context.Context, tx *sql.Tx, m *model.Memory) error {
	var tagsJSON *string
	if len(m.Tags) > 0 {
		b, _ := json.Marshal(m.Tags)
		s := string(b)
		tagsJSON = &s
	}
	var lastAccessed *int64
	if m.LastAccessedAt != nil {
		ms := m.LastAccessedAt.UnixMilli()
		lastAccessed = &ms
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, content, category, importance, tags, created_at_ms, last_accessed_ms, access_count, archived)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, string(m.Category), m.Importance, tagsJSON,
		m.CreatedAt.UnixMilli(), lastAccessed, m.AccessCount, boolInt(m.Archived))
	if err != nil {
		return ioErr(err, "insert memory", goerr.V("id", m.ID))
	}
	return nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, selectMemories+` WHERE m.id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, ioErr(err, "get memory", goerr.V("id", id))
	}
	return &m, nil
}

// GetByIDs loads the given records. Missing ids are simply absent from the
// result; archived records are dropped unless includeArchived.
func (s *SQLiteStore) GetByIDs(ctx context.Context, ids []string, includeArchived bool) (map[string]model.Memory, error) {
	out := make(map[string]model.Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := selectMemories + ` WHERE m.id IN (` + strings.Join(placeholders, ",") + `)`
	if !includeArchived {
		query += ` AND m.archived = 0`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioErr(err, "get memories")
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, ioErr(err, "scan memory")
		}
		out[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(err, "iterate memories")
	}
	return out, nil
}

// Archive hides a memory from default queries. Archiving an archived memory
// is a no-op.
func (s *SQLiteStore) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioErr(err, "begin archive")
	}
	defer tx.Rollback()

	var archived int
	err = tx.QueryRowContext(ctx, `SELECT archived FROM memories WHERE id = ?`, id).Scan(&archived)
	if err == sql.ErrNoRows {
		return notFound(id)
	}
	if err != nil {
		return ioErr(err, "load memory", goerr.V("id", id))
	}
	if archived == 1 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE memories SET archived = 1 WHERE id = ?`, id); err != nil {
		return ioErr(err, "archive memory", goerr.V("id", id))
	}
	if err := markPending(ctx, tx, id, OpUpsert, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ioErr(err, "commit archive", goerr.V("id", id))
	}
	return nil
}

// Delete removes a memory permanently and queues removal of its vector.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioErr(err, "begin delete")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return ioErr(err, "delete memory", goerr.V("id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	if err := markPending(ctx, tx, id, OpDelete, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ioErr(err, "commit delete", goerr.V("id", id))
	}
	return nil
}

func (s *SQLiteStore) UpdateAccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_ms = ? WHERE id = ?`,
		time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return ioErr(err, "update access", goerr.V("id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectMemories = `
	SELECT m.id, m.content, m.category, m.importance, m.tags, m.created_at_ms,
	       m.last_accessed_ms, m.access_count, m.archived, COALESCE(l.state, 'pending')
	FROM memories m
	LEFT JOIN sync_ledger l ON l.id = m.id`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var tagsJSON sql.NullString
	var lastAccessed sql.NullInt64
	var createdMS int64
	var archived int
	var category, state string

	err := row.Scan(
		&m.ID, &m.Content, &category, &m.Importance, &tagsJSON, &createdMS,
		&lastAccessed, &m.AccessCount, &archived, &state,
	)
	if err != nil {
		return m, err
	}

	m.Category = model.Category(category)
	m.SyncState = model.SyncState(state)
	m.Archived = archived == 1
	m.CreatedAt = time.UnixMilli(createdMS).UTC()
	if lastAccessed.Valid {
		t := time.UnixMilli(lastAccessed.Int64).UTC()
		m.LastAccessedAt = &t
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &m.Tags)
	}
	return m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ioErr(err error, msg string, opts ...goerr.Option) error {
	return goerr.Wrap(err, msg, append(opts, goerr.T(model.TagStoreIO))...)
}

func notFound(id string) error {
	return goerr.New("memory not found", goerr.V("id", id), goerr.T(model.TagNotFound))
}
