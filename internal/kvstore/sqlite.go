package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentic-research/rethread/internal/graph"
	_ "modernc.org/sqlite"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
	name INTEGER PRIMARY KEY,
	data BLOB NOT NULL
);
`

// SQLiteStore keeps records in a single SQLite table. Every bulk call runs in
// its own transaction with one prepared statement, so a batch either commits
// completely or not at all.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("missing db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps the pragmas below in effect and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(recordsSchema); err != nil {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := newSQLiteStore(db)
	s.path = path
	return s, nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Path returns the database file the store was opened from.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// inTx runs fn inside a transaction and commits only if fn succeeds.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// BulkGet implements Store.
func (s *SQLiteStore) BulkGet(ctx context.Context, names []graph.Name) ([]Record, error) {
	out := make([]Record, 0, len(names))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `SELECT data FROM records WHERE name = ?`)
		if err != nil {
			return fmt.Errorf("prepare get: %w", err)
		}
		defer func() { _ = stmt.Close() }() // safe to ignore

		for _, n := range names {
			var data []byte
			err := stmt.QueryRowContext(ctx, int64(n)).Scan(&data)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("get %s: %w", n, ErrRecordNotFound)
			}
			if err != nil {
				return fmt.Errorf("get %s: %w", n, err)
			}
			out = append(out, Record{Name: n, Data: data})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkSet implements Store.
func (s *SQLiteStore) BulkSet(ctx context.Context, records []Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return setRecords(ctx, tx, records)
	})
}

// BulkRemove implements Store.
func (s *SQLiteStore) BulkRemove(ctx context.Context, names []graph.Name) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return removeRecords(ctx, tx, names)
	})
}

// BulkReplace implements Replacer: the removal and the insert share one
// transaction.
func (s *SQLiteStore) BulkReplace(ctx context.Context, remove []graph.Name, set []Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := removeRecords(ctx, tx, remove); err != nil {
			return err
		}
		return setRecords(ctx, tx, set)
	})
}

func setRecords(ctx context.Context, tx *sql.Tx, records []Record) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO records (name, data) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare set: %w", err)
	}
	defer func() { _ = stmt.Close() }() // safe to ignore

	for _, r := range records {
		data := r.Data
		if data == nil {
			data = []byte{} // data is NOT NULL
		}
		if _, err := stmt.ExecContext(ctx, int64(r.Name), data); err != nil {
			return fmt.Errorf("set %s: %w", r.Name, err)
		}
	}
	return nil
}

func removeRecords(ctx context.Context, tx *sql.Tx, names []graph.Name) error {
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM records WHERE name = ?`)
	if err != nil {
		return fmt.Errorf("prepare remove: %w", err)
	}
	defer func() { _ = stmt.Close() }() // safe to ignore

	for _, n := range names {
		if _, err := stmt.ExecContext(ctx, int64(n)); err != nil {
			return fmt.Errorf("remove %s: %w", n, err)
		}
	}
	return nil
}

// List implements Lister.
func (s *SQLiteStore) List(ctx context.Context) ([]graph.Name, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM records ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var names []graph.Name
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		names = append(names, graph.Name(n))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return names, nil
}

var (
	_ Store    = (*SQLiteStore)(nil)
	_ Replacer = (*SQLiteStore)(nil)
	_ Lister   = (*SQLiteStore)(nil)
)
