package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/wasmdiff/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// DefaultImplementations is the engine catalogue seeded into new stores.
var DefaultImplementations = []ir.Implementation{
	{ID: 1, Name: "wazero-interpreter"},
	{ID: 2, Name: "wazero-compiler"},
}

// Store provides durable storage for campaign results.
//
// Inserts are batched into a transaction that is committed by Flush, so a
// hard crash loses at most the writes since the last Flush. The store is
// meant to be driven from a single goroutine; it does no locking of its own.
type Store struct {
	db      *sql.DB
	tx      *sql.Tx
	pending int
	created bool
}

type options struct {
	implementations []ir.Implementation
}

// Option configures Open.
type Option func(*options)

// WithImplementations replaces the catalogue seeded into a new store.
// It has no effect when the store file already exists.
func WithImplementations(impls ...ir.Implementation) Option {
	return func(o *options) {
		o.implementations = impls
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// The implementation catalogue is seeded only when the file did not exist
// before this call. Reopening an existing store never touches it.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{implementations: DefaultImplementations}
	for _, opt := range opts {
		opt(&o)
	}

	_, statErr := os.Stat(path)
	created := errors.Is(statErr, fs.ErrNotExist)

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// This also means reads must go through the open batch transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if created {
		if err := seedImplementations(db, o.implementations); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to seed implementations: %w", err)
		}
	}

	return &Store{db: db, created: created}, nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query runs an ad-hoc read. It sees unflushed writes.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.reader().QueryContext(ctx, query, args...)
}

// Created reports whether Open created the store file.
func (s *Store) Created() bool {
	return s.created
}

// Close flushes pending writes and closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	flushErr := s.Flush()
	closeErr := s.db.Close()
	s.db = nil
	return errors.Join(flushErr, closeErr)
}

// Flush commits every write since the previous Flush.
func (s *Store) Flush() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	s.pending = 0
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Pending returns the number of inserts not yet flushed.
func (s *Store) Pending() int {
	return s.pending
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// writer returns the batch transaction, beginning one if needed.
func (s *Store) writer(ctx context.Context) (querier, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	// The batch outlives the caller; cancelling ctx must not roll it back.
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// reader returns the batch transaction when one is open, so reads see
// unflushed writes and do not wait on the single connection.
func (s *Store) reader() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and records the version.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func seedImplementations(db *sql.DB, impls []ir.Implementation) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, impl := range impls {
		if _, err := tx.Exec(`INSERT INTO implementations (id, name) VALUES (?, ?)`, impl.ID, impl.Name); err != nil {
			return fmt.Errorf("insert implementation %d: %w", impl.ID, err)
		}
	}
	return tx.Commit()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
