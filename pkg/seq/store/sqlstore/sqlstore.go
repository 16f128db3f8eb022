// Package sqlstore keeps records in a SQLite database through the pure Go
// modernc.org/sqlite driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ib-77/ropseq/pkg/seq/store"
)

const schema = `CREATE TABLE IF NOT EXISTS records (
	name       TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BLOB NOT NULL,
	cid        TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (name, key)
)`

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlstore: database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	// one connection: an in-memory database is per connection, and SQLite
	// serialises writers anyway
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Fetch(ctx context.Context, name, key string) ([]byte, error) {
	if err := store.ValidName(name, key); err != nil {
		return nil, err
	}
	var (
		data []byte
		id   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, cid FROM records WHERE name = ? AND key = ?`, name, key).Scan(&data, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := store.Check(data, id); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Store(ctx context.Context, name, key string, data []byte) error {
	if err := store.ValidName(name, key); err != nil {
		return err
	}
	id, err := store.CID(data)
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO records (name, key, data, cid, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name, key) DO UPDATE SET data = excluded.data, cid = excluded.cid, updated_at = excluded.updated_at`,
		name, key, data, id.String(), time.Now().UTC().UnixNano())
	return err
}

func (s *Store) Delete(ctx context.Context, name, key string) error {
	if err := store.ValidName(name, key); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE name = ? AND key = ?`, name, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
