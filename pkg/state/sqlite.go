// Copyright 2024-2026 Aiku AI

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fsm_state (
	user_id    TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS fsm_data (
	user_id    TEXT PRIMARY KEY,
	data_json  BLOB NOT NULL
);
`

// SQLStore persists state in a SQLite database.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock replaces the time source used for TTL checks.
func (s *SQLStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLStore) GetState(ctx context.Context, userID string) (string, error) {
	var name string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT state, expires_at FROM fsm_state WHERE user_id = ?`, userID,
	).Scan(&name, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to get state: %w", err)
	}
	if expiresAt != 0 && s.now().UnixMilli() >= expiresAt {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM fsm_state WHERE user_id = ? AND expires_at = ?`, userID, expiresAt,
		); err != nil {
			return "", fmt.Errorf("failed to expire state: %w", err)
		}
		return "", nil
	}
	return name, nil
}

func (s *SQLStore) SetState(ctx context.Context, userID string, st State, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fsm_state (user_id, state, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET state = excluded.state, expires_at = excluded.expires_at`,
		userID, st.String(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteState(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fsm_state WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

func (s *SQLStore) GetData(ctx context.Context, userID string) (map[string]any, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data_json FROM fsm_data WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get data: %w", err)
	}
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode data: %w", err)
	}
	return data, nil
}

func (s *SQLStore) UpdateData(ctx context.Context, userID string, patch map[string]any) error {
	existing, err := s.GetData(ctx, userID)
	if err != nil {
		return err
	}
	maps.Copy(existing, patch)
	raw, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fsm_data (user_id, data_json) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET data_json = excluded.data_json`,
		userID, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to set data: %w", err)
	}
	return nil
}
