package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// TokenKey is the fixed name the session token is stored under.
const TokenKey = "token"

// SQLiteTokenStore persists the session token in a local SQLite file.
// It implements session.TokenStore.
type SQLiteTokenStore struct {
	db *sql.DB
}

func NewSQLiteTokenStore(dbPath string) (*SQLiteTokenStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteTokenStore{db: db}, nil
}

func (s *SQLiteTokenStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load returns the stored token, or "" when none is stored.
func (s *SQLiteTokenStore) Load(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_state WHERE name = ?`, TokenKey).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select token: %w", err)
	}
	return token, nil
}

func (s *SQLiteTokenStore) Save(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_state (name, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		TokenKey, token)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}

	slog.DebugContext(ctx, "Session token saved to SQLite")
	return nil
}

// Delete removes the stored token. Deleting a missing token is not an error.
func (s *SQLiteTokenStore) Delete(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE name = ?`, TokenKey)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		slog.DebugContext(ctx, "Session token removed from SQLite")
	}
	return nil
}
