// Package kv is the device-local key-value database. It keeps the small
// records that must survive a restart before any data directory is
// connected: the granted capability handle and the UI-state document.
package kv

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"elkhaled/pos/internal/docstore"
)

//go:embed schema.sql
var schemaSQL string

// HandleKey is the entry holding the granted data directory handle.
const HandleKey = "dataDirectory"

type Store struct {
	db *sql.DB
}

// Open creates or opens the database file and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: SQLite has a single writer and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (key, value, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	return err
}

// LoadHandle implements docstore.HandleStore. A corrupt entry reads as
// absent so the operator is asked to pick a directory again.
func (s *Store) LoadHandle(ctx context.Context) (docstore.Handle, bool, error) {
	raw, ok, err := s.Get(ctx, HandleKey)
	if err != nil || !ok {
		return docstore.Handle{}, false, err
	}
	var h docstore.Handle
	if err := json.Unmarshal(raw, &h); err != nil || h.Kind == "" {
		return docstore.Handle{}, false, nil
	}
	return h, true, nil
}

func (s *Store) SaveHandle(ctx context.Context, h docstore.Handle) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return s.Put(ctx, HandleKey, raw)
}

func (s *Store) ClearHandle(ctx context.Context) error {
	return s.Delete(ctx, HandleKey)
}
