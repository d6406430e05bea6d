package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a targeted row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks input the schema cannot hold, such as a scopeNumber outside 1..5.
	ErrInvalid = errors.New("invalid input")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the process-wide handle to the MoFASA database file. It is created
// once at startup and passed to every repository caller.
type Store struct {
	db            *sql.DB
	log           *slog.Logger
	migrationsDir string
}

// Options tunes Open.
type Options struct {
	Logger *slog.Logger
	// MigrationsDir overrides the embedded SQL migrations when set and present.
	MigrationsDir string
}

// Open opens (creating if needed) the SQLite file at path.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s, err := NewStore(sqlDB, opts)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an already opened database. The pool is pinned to a single
// connection: all calls are serialized through it.
func NewStore(sqlDB *sql.DB, opts Options) (*Store, error) {
	if sqlDB == nil {
		return nil, errors.New("nil db")
	}
	sqlDB.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := sqlDB.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: sqlDB, log: logger, migrationsDir: opts.MigrationsDir}, nil
}

// Init brings the schema up to date and reconciles reference data. Hosts call
// it once before serving any repository call.
func (s *Store) Init(ctx context.Context) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	return s.Reconcile(ctx)
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the raw handle for diagnostics and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) logErr(prefix string, err error) {
	if err != nil {
		s.log.Warn("sqlite store: "+prefix, "error", err)
	}
}

// withTx runs fn inside a transaction. Any error or panic rolls back.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logErr("rollback", rbErr)
			}
			return
		}
		if err = tx.Commit(); err != nil {
			err = fmt.Errorf("commit transaction: %w", err)
		}
	}()
	return fn(tx)
}

func (s *Store) closeRows(rows *sql.Rows, op string) {
	if cerr := rows.Close(); cerr != nil {
		s.logErr(op+": rows.Close", cerr)
	}
}

// queryEach runs query and hands every row to fn. The result set is fully
// drained and closed before it returns, which the single pooled connection
// requires before the next statement can run.
func (s *Store) queryEach(ctx context.Context, q DBTX, op, query string, args []any, fn func(r rowScanner) error) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer s.closeRows(rows, op)
	for rows.Next() {
		if err := fn(rows); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
