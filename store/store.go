// Package store provides SQLite-backed storage for content trees and their
// version history.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"bough/tree"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrTrackerNotFound = errors.New("tracker not found")
	ErrCommitNotFound  = errors.New("commit not found")
	// ErrReferenced is returned when a delete would orphan a tracker or
	// commit row that still points at a node.
	ErrReferenced = errors.New("node is still referenced")
	// ErrFrozenRow is returned when storage refuses to modify a frozen node.
	ErrFrozenRow = errors.New("storage refused to modify a frozen node")
)

// DB wraps a SQLite connection for tree storage.
type DB struct {
	conn  *sql.DB
	path  string
	kinds *tree.Registry

	reads  atomic.Int64
	writes atomic.Int64
}

// Stats counts statements issued against storage since open or the last
// ResetStats.
type Stats struct {
	Reads  int64
	Writes int64
}

// Open opens or creates a database at dbPath. kinds resolves stored content
// kinds; unregistered names load as tree.Unknown.
func Open(dbPath string, kinds *tree.Registry) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Pragmas are per connection; pin the pool to one.
	conn.SetMaxOpenConns(1)

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	if kinds == nil {
		kinds = tree.NewRegistry()
	}
	return &DB{conn: conn, path: dbPath, kinds: kinds}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Kinds returns the registry used to resolve stored content kinds.
func (db *DB) Kinds() *tree.Registry {
	return db.kinds
}

// Stats returns the read and write counters.
func (db *DB) Stats() Stats {
	return Stats{Reads: db.reads.Load(), Writes: db.writes.Load()}
}

// ResetStats zeroes the counters.
func (db *DB) ResetStats() {
	db.reads.Store(0)
	db.writes.Store(0)
}

// SetBusyTimeout changes how long a statement waits on a locked database.
func (db *DB) SetBusyTimeout(d time.Duration) error {
	if _, err := db.conn.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", d.Milliseconds())); err != nil {
		return fmt.Errorf("setting busy timeout: %w", err)
	}
	return nil
}

// Update runs fn inside a read-write transaction. The transaction commits
// when fn returns nil and rolls back otherwise. Update must not be nested:
// the pool holds a single connection.
func (db *DB) Update(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	tx := &Tx{ctx: ctx, tx: sqlTx, db: db}

	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", mapErr(err))
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back.
func (db *DB) View(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()
	return fn(&Tx{ctx: ctx, tx: sqlTx, db: db})
}

// Tx is an open storage transaction.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
	db  *DB
	sp  int
}

// Context returns the context the transaction was opened with.
func (t *Tx) Context() context.Context {
	return t.ctx
}

// Kinds returns the registry used to resolve content kinds.
func (t *Tx) Kinds() *tree.Registry {
	return t.db.kinds
}

func (t *Tx) exec(query string, args ...interface{}) (sql.Result, error) {
	t.db.writes.Add(1)
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	return res, mapErr(err)
}

func (t *Tx) query(query string, args ...interface{}) (*sql.Rows, error) {
	t.db.reads.Add(1)
	return t.tx.QueryContext(t.ctx, query, args...)
}

func (t *Tx) queryRow(query string, args ...interface{}) *sql.Row {
	t.db.reads.Add(1)
	return t.tx.QueryRowContext(t.ctx, query, args...)
}

// ----- Savepoints -----

// Savepoint marks a point inside a transaction that can be rolled back to
// without abandoning the transaction.
type Savepoint struct {
	tx   *Tx
	name string
	done bool
}

// Savepoint opens a new savepoint.
func (t *Tx) Savepoint() (*Savepoint, error) {
	t.sp++
	name := fmt.Sprintf("sp_%d", t.sp)
	if _, err := t.tx.ExecContext(t.ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("opening savepoint: %w", err)
	}
	return &Savepoint{tx: t, name: name}, nil
}

// Rollback undoes everything since the savepoint and closes it.
func (s *Savepoint) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	if _, err := s.tx.tx.ExecContext(s.tx.ctx, "ROLLBACK TO "+s.name); err != nil {
		return fmt.Errorf("rolling back savepoint: %w", err)
	}
	if _, err := s.tx.tx.ExecContext(s.tx.ctx, "RELEASE "+s.name); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

// Release keeps everything since the savepoint and closes it.
func (s *Savepoint) Release() error {
	if s.done {
		return nil
	}
	s.done = true
	if _, err := s.tx.tx.ExecContext(s.tx.ctx, "RELEASE "+s.name); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

// mapErr translates constraint failures into package sentinels, keeping the
// driver error in the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	code := se.Code()
	msg := se.Error()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
		code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "FOREIGN KEY"):
		return fmt.Errorf("%w: %w", ErrReferenced, err)
	case code == sqlite3.SQLITE_CONSTRAINT_TRIGGER,
		code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "node is frozen"):
		return fmt.Errorf("%w: %w", ErrFrozenRow, err)
	}
	return err
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// upper returns the exclusive upper bound of the descendant range of prefix.
func upper(prefix string) string {
	return prefix + tree.PathUpper
}
