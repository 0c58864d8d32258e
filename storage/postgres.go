package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/spacemeshos/poe/registry"
)

const createClaimsTable = `
	CREATE TABLE IF NOT EXISTS claims (
		fingerprint   BYTEA PRIMARY KEY,
		owner         BYTEA NOT NULL,
		registered_at BIGINT NOT NULL
	)
`

// Postgres keeps claims in a PostgreSQL table.
type Postgres struct {
	db *sql.DB
}

var _ registry.Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and prepares the claims table.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	store, err := NewPostgres(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgres wraps an open connection pool and creates the claims table
// if missing. The store takes ownership of db.
func NewPostgres(ctx context.Context, db *sql.DB) (*Postgres, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createClaimsTable); err != nil {
		return nil, fmt.Errorf("creating claims table: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) Get(ctx context.Context, fingerprint registry.Fingerprint) (registry.Record, error) {
	var (
		owner        []byte
		registeredAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, registered_at FROM claims WHERE fingerprint = $1`,
		[]byte(fingerprint),
	).Scan(&owner, &registeredAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return registry.Record{}, registry.ErrNotFound
	case err != nil:
		return registry.Record{}, fmt.Errorf("get claim %s: %w", fingerprint, err)
	}
	return toRecord(owner, registeredAt)
}

func (s *Postgres) Put(ctx context.Context, fingerprint registry.Fingerprint, record registry.Record) error {
	query := `
		INSERT INTO claims (fingerprint, owner, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO UPDATE SET
			owner = EXCLUDED.owner,
			registered_at = EXCLUDED.registered_at
	`
	_, err := s.db.ExecContext(ctx, query, []byte(fingerprint), record.Owner.Bytes(), int64(record.RegisteredAt))
	if err != nil {
		return fmt.Errorf("store claim: %w", err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, fingerprint registry.Fingerprint) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE fingerprint = $1`, []byte(fingerprint)); err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	return nil
}

// Iterate relies on bytea comparing bytewise in PostgreSQL.
func (s *Postgres) Iterate(ctx context.Context, fn func(registry.Fingerprint, registry.Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, owner, registered_at FROM claims ORDER BY fingerprint`,
	)
	if err != nil {
		return fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fingerprint  []byte
			owner        []byte
			registeredAt int64
		)
		if err := rows.Scan(&fingerprint, &owner, &registeredAt); err != nil {
			return fmt.Errorf("scan claim: %w", err)
		}
		record, err := toRecord(owner, registeredAt)
		if err != nil {
			return err
		}
		if err := fn(fingerprint, record); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

func toRecord(owner []byte, registeredAt int64) (registry.Record, error) {
	id, err := registry.IdentityFromBytes(owner)
	if err != nil {
		return registry.Record{}, fmt.Errorf("corrupted claim owner: %w", err)
	}
	return registry.Record{Owner: id, RegisteredAt: registry.BlockNumber(registeredAt)}, nil
}
