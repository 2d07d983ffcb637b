package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	tag     TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_tag ON messages(tag, id);
`

// SQLite stores messages in a single table; a tag plays the role of a list
// key and insertion order gives recency.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Name() string { return BackendSQLite }

func (s *SQLite) Save(ctx context.Context, tag string, msg ChatMessage) error {
	payload, err := msg.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO messages (tag, payload) VALUES (?, ?)`, tag, payload); err != nil {
		return fmt.Errorf("insert message into %s: %w", tag, err)
	}
	return nil
}

func (s *SQLite) FetchRaw(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE tag = ? ORDER BY id DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", key, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

func (s *SQLite) FetchMessages(ctx context.Context, key string, limit int) ([]ChatMessage, error) {
	raw, err := s.FetchRaw(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll(raw)
}

func (s *SQLite) FetchStats(ctx context.Context, pattern string) ([]KeyStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, COUNT(*) FROM messages WHERE tag GLOB ? GROUP BY tag ORDER BY tag`, pattern)
	if err != nil {
		return nil, fmt.Errorf("query stats %s: %w", pattern, err)
	}
	defer rows.Close()

	var stats []KeyStat
	for rows.Next() {
		var st KeyStat
		if err := rows.Scan(&st.Key, &st.Length); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
