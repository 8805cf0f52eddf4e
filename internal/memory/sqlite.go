package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps memories in a single SQLite file. Embeddings are stored
// as JSON-encoded float arrays; rows that fail to decode are skipped.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps appends ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS user_memories (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			message TEXT NOT NULL,
			summary TEXT NOT NULL,
			embedding TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_memories_user ON user_memories (user_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	var embeddingJSON []byte
	if entry.Embedding != nil {
		var err error
		embeddingJSON, err = json.Marshal(entry.Embedding)
		if err != nil {
			return fmt.Errorf("memory sqlite: marshal embedding: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_memories (id, user_id, message, summary, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Message,
		entry.Summary,
		nullableText(embeddingJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("memory sqlite: insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message, summary, embedding, created_at
		FROM user_memories WHERE user_id = ? ORDER BY seq ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e             Entry
			embeddingJSON sql.NullString
			createdAt     string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Message, &e.Summary, &embeddingJSON, &createdAt); err != nil {
			s.logger.Warn("memory sqlite: skip malformed row", "err", err)
			continue
		}
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &e.Embedding); err != nil {
				// Keep the entry listable; ranking skips it for lacking a vector.
				s.logger.Warn("memory sqlite: undecodable embedding", "memory_id", e.ID, "err", err)
				e.Embedding = nil
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: iterate rows: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, userID, memoryID, message string, embedding []float32) error {
	var (
		res sql.Result
		err error
	)
	if embedding != nil {
		embeddingJSON, merr := json.Marshal(embedding)
		if merr != nil {
			return fmt.Errorf("memory sqlite: marshal embedding: %w", merr)
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE user_memories SET message = ?, embedding = ? WHERE user_id = ? AND id = ?`,
			message, string(embeddingJSON), userID, memoryID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE user_memories SET message = ? WHERE user_id = ? AND id = ?`,
			message, userID, memoryID)
	}
	if err != nil {
		return fmt.Errorf("memory sqlite: update: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *SQLiteStore) Delete(ctx context.Context, userID, memoryID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_memories WHERE user_id = ? AND id = ?`, userID, memoryID)
	if err != nil {
		return fmt.Errorf("memory sqlite: delete: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("memory sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

var _ Store = (*SQLiteStore)(nil)
