package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	match_id   TEXT PRIMARY KEY,
	game_name  TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteStore persists sessions in a local SQLite file, one row per match.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if missing) a SQLite-backed store at dsn.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", dsn, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, matchID string) (Session, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE match_id=?`, matchID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: load %s: %w", matchID, err)
	}
	var out Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return Session{}, fmt.Errorf("session: decode %s: %w", matchID, err)
	}
	return out, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", sess.MatchID, err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO sessions (match_id, game_name, payload, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(match_id) DO UPDATE SET
            game_name  = excluded.game_name,
            payload    = excluded.payload,
            updated_at = excluded.updated_at`,
		sess.MatchID, sess.GameName, raw, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("session: save %s: %w", sess.MatchID, err)
	}
	return nil
}
