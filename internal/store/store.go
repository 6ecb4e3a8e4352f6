// Package store is the SQLite-backed knowledge index: notes,
// chunks, links, topics, tags, an FTS5 lexical index, and a vec0 dense
// vector index, behind a single *sql.DB connection pool.
//
// The store is a mutex-guarded *sql.DB with a forward-only migration
// runner applied at open, and Scan-heavy CRUD methods using
// sql.NullString/sql.NullInt64 for optional columns. A note's version is a
// single monotonic counter per row, not full version history, so each
// upsert overwrites its row in place.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/sirupsen/logrus"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

// Store is the SQLite-backed knowledge index. Thread-safe: reads proceed
// concurrently, writes are serialized through the caller-supplied per-note
// file lock (see pkg/ingest) plus SQLite's own writer lock.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	dim int // configured embedding dimension; 0 disables the vec0 table
	log *logrus.Entry
}

// Open creates (if needed) and opens the SQLite index at path, applies the
// schema, and creates the vec0 virtual table sized to dim (if dim > 0).
//
// The sqlite-vec extension registers itself as a process-wide SQLite
// auto-extension via this file's blank import side effect, which Go runs
// exactly once before any connection can open, so no explicit init gate
// is needed.
func Open(ctx context.Context, path string, dim int, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "open sqlite index", err)
	}
	db.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-64000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, komaerr.Wrap(komaerr.KindSQL, "apply pragma "+p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, dim: dim, log: log}
	if dim > 0 {
		if err := s.createVectorTable(ctx, dim); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

// migrate applies the forward-only migration sequence, tracking progress in
// PRAGMA user_version so an already-current index is left untouched.
func migrate(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return komaerr.Wrap(komaerr.KindMigrate, "read schema version", err)
	}
	if current > len(migrations) {
		return komaerr.New(komaerr.KindMigrate, fmt.Sprintf("index schema version %d is newer than this build supports (%d)", current, len(migrations)))
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return komaerr.Wrap(komaerr.KindMigrate, "begin migration transaction", err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return komaerr.Wrap(komaerr.KindMigrate, fmt.Sprintf("apply migration %d", i+1), err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return komaerr.Wrap(komaerr.KindMigrate, "bump schema version", err)
		}
		if err := tx.Commit(); err != nil {
			return komaerr.Wrap(komaerr.KindMigrate, fmt.Sprintf("commit migration %d", i+1), err)
		}
	}
	return nil
}

func (s *Store) createVectorTable(ctx context.Context, dim int) error {
	stmt := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS note_vectors USING vec0(
			note_id TEXT PARTITION KEY,
			ordinal INTEGER,
			embedding FLOAT[%d]
		)`, dim)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return komaerr.Wrap(komaerr.KindSqliteVec, "create note_vectors virtual table", err)
	}
	return nil
}

// DB exposes the underlying pool for components (reconciler, graph, search)
// that run their own queries directly.
func (s *Store) DB() *sql.DB { return s.db }

// Dimension returns the configured embedding dimension (0 if unset).
func (s *Store) Dimension() int { return s.dim }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
