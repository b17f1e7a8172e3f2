// Package sqlitestate stores named records in a local SQLite file.
package sqlitestate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_records (
	name       TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "create state dir")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply sqlite schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadRecords returns the stored values of the requested names. Missing
// names are absent from the result.
func (s *Store) LoadRecords(ctx context.Context, names ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		var v []byte
		err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_records WHERE name = ?`, name).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "load record %s", name)
		}
		out[name] = v
	}
	return out, nil
}

// SaveRecords upserts all records in one transaction.
func (s *Store) SaveRecords(ctx context.Context, records map[string][]byte) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, name := range names {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO kv_records(name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, name, records[name], now); err != nil {
			return errors.Wrapf(err, "save record %s", name)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit records")
	}
	return nil
}
