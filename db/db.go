// Package db owns the relational store backing VFS nodes, the recycle bin,
// note pages, background tasks, summaries and login history. It is a thin
// wrapper over database/sql and mattn/go-sqlite3 — the driver storj-storj
// reaches for wherever it needs an embedded relational store in tests and
// small tools — applying schema.sql idempotently at Open rather than
// through a migration chain (see schema.sql for why).
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps *sql.DB for a single-process, concurrently-accessed sqlite
// file: WAL journaling, a 5s busy timeout and foreign keys on. The pool
// holds one connection, so reads and writes from all goroutines run one
// at a time through it.
type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "db: open")
	}
	sqlDB.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers across connections

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, errors.Wrapf(err, "db: apply pragma %q", p)
		}
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "db: apply schema")
	}

	return &DB{DB: sqlDB}, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "db: begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// NowMS is the millisecond Unix timestamp convention every timestamp column
// in this package uses.
func NowMS() int64 { return time.Now().UnixMilli() }
