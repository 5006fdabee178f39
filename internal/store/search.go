package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/model"
)

const (
	defaultKeywordLimit = 50
	maxKeywords         = 16
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "am": true, "do": true, "does": true, "did": true,
	"what": true, "who": true, "whom": true, "which": true, "when": true, "where": true,
	"why": true, "how": true, "my": true, "me": true, "i": true, "you": true, "your": true,
	"it": true, "its": true, "of": true, "to": true, "in": true, "on": true, "at": true,
	"for": true, "and": true, "or": true, "with": true, "about": true, "that": true,
	"this": true, "there": true, "have": true, "has": true, "had": true, "can": true,
	"tell": true, "know": true, "any": true, "some": true,
}

// Keywords splits text into lower-cased letter/digit tokens, drops stop words
// and single letters, and dedupes while keeping first-seen order.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if stopWords[f] || seen[f] {
			continue
		}
		if len([]rune(f)) < 2 && !unicode.IsDigit([]rune(f)[0]) {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

func ftsQuery(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// KeywordSearch returns memories ranked by keyword relevance: FTS5 matches of
// the query's keywords ordered by bm25, followed by records that contain the
// whole query as a substring but matched no keyword.
func (s *SQLiteStore) KeywordSearch(ctx context.Context, p KeywordParams) ([]model.Memory, error) {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return nil, goerr.New("query is required", goerr.T(model.TagValidation))
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultKeywordLimit
	}

	var results []model.Memory
	seen := map[string]bool{}

	if tokens := Keywords(query); len(tokens) > 0 {
		where, args := attrFilter(p.Category, p.IncludeArchived)
		where = append([]string{"memories_fts MATCH ?"}, where...)
		args = append([]interface{}{ftsQuery(tokens)}, args...)

		sql := fmt.Sprintf(`%s
			JOIN memories_fts f ON f.rowid = m.seq
			WHERE %s
			ORDER BY bm25(memories_fts), m.importance DESC, m.created_at_ms DESC
			LIMIT ?`, selectMemories, strings.Join(where, " AND "))
		args = append(args, limit)

		rows, err := s.db.QueryContext(ctx, sql, args...)
		if err != nil {
			return nil, ioErr(err, "keyword search", goerr.V("query", query))
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMemory(rows)
			if err != nil {
				return nil, ioErr(err, "scan memory")
			}
			seen[m.ID] = true
			results = append(results, m)
		}
		if err := rows.Err(); err != nil {
			return nil, ioErr(err, "iterate keyword hits")
		}
	}

	if len(results) < limit {
		// every FTS hit may reappear here, so room for limit new ones
		substr, err := s.FindByPattern(ctx, PatternParams{
			Pattern:         query,
			Category:        p.Category,
			IncludeArchived: p.IncludeArchived,
			Limit:           limit,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range substr {
			if seen[m.ID] {
				continue
			}
			results = append(results, m)
			if len(results) == limit {
				break
			}
		}
	}

	return results, nil
}

// FindByPattern returns memories whose content contains the pattern,
// compared case-insensitively, newest first. SQLite's lower() only folds
// ASCII, so an ASCII pattern is narrowed in SQL and every candidate is
// confirmed here with Unicode folding.
func (s *SQLiteStore) FindByPattern(ctx context.Context, p PatternParams) ([]model.Memory, error) {
	if p.Pattern == "" {
		return nil, goerr.New("pattern is required", goerr.T(model.TagValidation))
	}
	needle := strings.ToLower(p.Pattern)

	where, args := attrFilter(p.Category, p.IncludeArchived)
	if isASCII(needle) {
		where = append(where, "instr(lower(m.content), ?) > 0")
		args = append(args, needle)
	}
	sql := selectMemories
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY m.created_at_ms DESC, m.id DESC"

	rows, err := s.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, ioErr(err, "pattern scan", goerr.V("pattern", p.Pattern))
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, ioErr(err, "scan memory")
		}
		if !strings.Contains(strings.ToLower(m.Content), needle) {
			continue
		}
		out = append(out, m)
		if p.Limit > 0 && len(out) == p.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(err, "iterate pattern scan")
	}
	return out, nil
}

// FindByFilter lists memories by attributes.
func (s *SQLiteStore) FindByFilter(ctx context.Context, p FilterParams) ([]model.Memory, error) {
	where, args := attrFilter(p.Category, p.IncludeArchived)
	if p.MinImportance > 0 {
		where = append(where, "m.importance >= ?")
		args = append(args, p.MinImportance)
	}
	if !p.Since.IsZero() {
		where = append(where, "m.created_at_ms >= ?")
		args = append(args, p.Since.UnixMilli())
	}
	for _, tag := range p.Tags {
		where = append(where, "m.tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}

	sql := selectMemories
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	switch p.OrderBy {
	case OrderImportance:
		sql += " ORDER BY m.importance DESC, m.created_at_ms DESC, m.id DESC"
	default:
		sql += " ORDER BY m.created_at_ms DESC, m.id DESC"
	}
	if p.Limit > 0 {
		sql += " LIMIT ?"
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, ioErr(err, "filter memories")
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, ioErr(err, "scan memory")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(err, "iterate memories")
	}
	return out, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func attrFilter(category model.Category, includeArchived bool) ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if !includeArchived {
		where = append(where, "m.archived = 0")
	}
	if category != "" {
		where = append(where, "m.category = ?")
		args = append(args, string(category))
	}
	return where, args
}
