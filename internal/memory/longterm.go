package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // cgo-free driver, registered as "sqlite"
)

// LongTerm persists memory entries across restarts in SQLite.
type LongTerm struct {
	db *sql.DB
}

// NewLongTerm opens (or creates) the long-term store at the given path.
func NewLongTerm(dbPath string) (*LongTerm, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &LongTerm{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewLongTermWithDB wraps an existing database connection.
func NewLongTermWithDB(db *sql.DB) (*LongTerm, error) {
	s := &LongTerm{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *LongTerm) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT,
			importance REAL NOT NULL DEFAULT 0.5,
			created_at TEXT NOT NULL,
			accessed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
		CREATE INDEX IF NOT EXISTS idx_memories_accessed ON memories(accessed_at DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *LongTerm) Close() error {
	return s.db.Close()
}

// Save inserts an entry, or replaces it if the ID already exists.
func (s *LongTerm) Save(e Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO memories (id, category, content, tags, importance, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			content = excluded.content,
			tags = excluded.tags,
			importance = excluded.importance,
			accessed_at = excluded.accessed_at
	`, e.ID.String(), e.Category, e.Content, strings.Join(e.Tags, ","), e.Importance,
		e.CreatedAt.Format(time.RFC3339), e.AccessedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID and bumps its access time.
func (s *LongTerm) Get(id uuid.UUID) (*Entry, error) {
	e, err := s.scanEntry(s.db.QueryRow(`
		SELECT id, category, content, tags, importance, created_at, accessed_at
		FROM memories WHERE id = ?
	`, id.String()))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, _ = s.db.Exec(`UPDATE memories SET accessed_at = ? WHERE id = ?`,
		now.Format(time.RFC3339), id.String())
	e.AccessedAt = now

	return e, nil
}

// SetImportance updates an entry's importance after the fact, clamping
// to [0, 1].
func (s *LongTerm) SetImportance(id uuid.UUID, importance float64) error {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	result, err := s.db.Exec(`UPDATE memories SET importance = ? WHERE id = ?`,
		importance, id.String())
	if err != nil {
		return fmt.Errorf("set importance: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

// Search returns entries relevant to the query, best first. The LIKE
// pre-filter keeps the candidate set small; final ordering comes from
// the same scorer working memory uses.
func (s *LongTerm) Search(query string, limit int, now time.Time) ([]Entry, error) {
	candidates, err := s.candidates(query)
	if err != nil {
		return nil, err
	}
	return rankEntries(candidates, query, limit, now), nil
}

func (s *LongTerm) candidates(query string) ([]Entry, error) {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(words)*2)
	args := make([]any, 0, len(words)*2)
	for _, w := range words {
		clauses = append(clauses, "content LIKE ?", "tags LIKE ?")
		pattern := "%" + w + "%"
		args = append(args, pattern, pattern)
	}

	rows, err := s.db.Query(`
		SELECT id, category, content, tags, importance, created_at, accessed_at
		FROM memories
		WHERE `+strings.Join(clauses, " OR ")+`
		ORDER BY accessed_at DESC
		LIMIT 200
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := s.scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ByCategory retrieves all entries in a category, newest first.
func (s *LongTerm) ByCategory(category Category) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, category, content, tags, importance, created_at, accessed_at
		FROM memories WHERE category = ? ORDER BY created_at DESC
	`, category)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := s.scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Delete removes an entry.
func (s *LongTerm) Delete(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

// Stats returns entry counts, total and per category.
func (s *LongTerm) Stats() map[string]any {
	var total int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&total)

	cats := make(map[string]int)
	rows, _ := s.db.Query(`SELECT category, COUNT(*) FROM memories GROUP BY category`)
	if rows != nil {
		defer rows.Close()
		for rows.Next() {
			var cat string
			var count int
			if err := rows.Scan(&cat, &count); err != nil {
				continue
			}
			cats[cat] = count
		}
	}

	return map[string]any{
		"total":      total,
		"categories": cats,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *LongTerm) scanEntry(row *sql.Row) (*Entry, error)      { return scanMemory(row) }
func (s *LongTerm) scanEntryRow(rows *sql.Rows) (*Entry, error) { return scanMemory(rows) }

func scanMemory(row rowScanner) (*Entry, error) {
	var e Entry
	var idStr, catStr, createdStr, accessedStr string
	var tags sql.NullString

	err := row.Scan(&idStr, &catStr, &e.Content, &tags, &e.Importance, &createdStr, &accessedStr)
	if err != nil {
		return nil, err
	}

	e.ID, _ = uuid.Parse(idStr)
	e.Category = Category(catStr)
	if tags.Valid && tags.String != "" {
		e.Tags = strings.Split(tags.String, ",")
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	e.AccessedAt, _ = time.Parse(time.RFC3339, accessedStr)

	return &e, nil
}
