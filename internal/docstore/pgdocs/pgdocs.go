// Package pgdocs backs the document store with a PostgreSQL table, for
// installations that keep their data folder on a shared database.
package pgdocs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"elkhaled/pos/internal/docstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	space      TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	body       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (space, name)
)`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(12)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Open is the docstore.Opener for docstore.KindPostgres handles; the
// handle's location names the document space.
func (s *Store) Open(_ context.Context, handle docstore.Handle) (docstore.Directory, error) {
	space := strings.TrimSpace(handle.Location)
	if space == "" {
		return nil, errors.New("open document space: empty location")
	}
	return &Space{db: s.db, space: space}, nil
}

// Handle builds the persisted handle for a document space.
func Handle(space string) docstore.Handle {
	return docstore.Handle{Kind: docstore.KindPostgres, Location: space, Name: space}
}

type Space struct {
	db    *sql.DB
	space string
}

func (p *Space) Name() string {
	return p.space
}

func (p *Space) QueryPermission(ctx context.Context) (docstore.Permission, error) {
	var allowed bool
	err := p.db.QueryRowContext(ctx, `
		SELECT has_table_privilege('documents', 'SELECT')
			AND has_table_privilege('documents', 'INSERT')
			AND has_table_privilege('documents', 'UPDATE')
	`).Scan(&allowed)
	if err != nil {
		return docstore.PermissionDenied, err
	}
	if !allowed {
		return docstore.PermissionDenied, nil
	}
	return docstore.PermissionGranted, nil
}

// RequestPermission cannot prompt anyone: grants live in the database.
func (p *Space) RequestPermission(ctx context.Context) (docstore.Permission, error) {
	return p.QueryPermission(ctx)
}

func (p *Space) ReadFile(ctx context.Context, name string) ([]byte, error) {
	var body string
	err := p.db.QueryRowContext(ctx, `
		SELECT body::text
		FROM documents
		WHERE space = $1 AND name = $2
	`, p.space, name).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
		}
		return nil, mapError(err)
	}
	return []byte(body), nil
}

func (p *Space) WriteFile(ctx context.Context, name string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%s: body is not valid JSON", name)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO documents (space, name, body, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (space, name)
		DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`, p.space, name, string(data))
	return mapError(err)
}

func (p *Space) Exists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM documents WHERE space = $1 AND name = $2)
	`, p.space, name).Scan(&ok)
	return ok, mapError(err)
}

// mapError surfaces revoked grants as os.ErrPermission so the document
// store flips to its permission-needed state.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isInsufficientPrivilege(err) {
		return fmt.Errorf("%w: %v", os.ErrPermission, err)
	}
	return err
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42501"
	}
	return false
}
