// Package pg stores gateway state in PostgreSQL.
package pg

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"passkeygate.org/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema migrations for the state table.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store is a store.KV backed by the controller_state table.
type Store struct {
	db *sql.DB
}

var _ store.KV = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `select value from controller_state where key = $1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Scan returns entries whose key starts with prefix, ordered by key.
func (s *Store) Scan(ctx context.Context, prefix []byte) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select key, value from controller_state
		where substring(key from 1 for $2) = $1
		order by key
	`, prefix, len(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(e.Key, prefix) {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Commit applies all changes in one transaction.
func (s *Store) Commit(ctx context.Context, changes []store.Change) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range changes {
		if c.Delete {
			if _, err := tx.ExecContext(ctx, `delete from controller_state where key = $1`, c.Key); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			insert into controller_state(key, value, updated_at)
			values ($1, $2, now())
			on conflict (key) do update
			set value = excluded.value, updated_at = excluded.updated_at
		`, c.Key, c.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}
