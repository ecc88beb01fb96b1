// Package sqlite implements registry.Store on SQLite.
//
// The default build uses the pure-Go modernc.org/sqlite driver; build
// with -tags cgo_sqlite to use mattn/go-sqlite3 instead. Databases are
// opened in WAL mode with foreign keys enforced. Every query is a
// prepared statement compiled at open time, and every execution is
// logged at debug level with its duration.
//
// Methods called directly on the store run in autocommit mode. Use
// RunInTransaction when several writes must land together, such as a
// queue and its attachments.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/frobware/go-one/registry"
)

//go:embed schema.sql
var schemaSQL string

// timeFormat is how timestamps are stored. It sorts lexically.
const timeFormat = time.RFC3339Nano

func msec(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d.Microseconds())/1000)
}

type sqliteStore struct {
	db     *sql.DB
	logger *slog.Logger
	stmts  statements
	inTx   bool
}

var _ registry.Store = (*sqliteStore)(nil)

// New opens, creating if necessary, the registry database at dbPath.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (registry.Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return open(ctx, dbPath, [][2]string{{"journal_mode", "WAL"}, {"foreign_keys", "1"}, {"busy_timeout", "5000"}}, logger)
}

// NewInMemory opens a private in-memory registry for tests.
func NewInMemory(ctx context.Context, logger *slog.Logger) (registry.Store, error) {
	return open(ctx, ":memory:", [][2]string{{"foreign_keys", "1"}}, logger)
}

func open(ctx context.Context, path string, pragmas [][2]string, logger *slog.Logger) (registry.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "registry", "db", path)

	db, err := sql.Open(driverName, dsn(path, pragmas))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &sqliteStore{db: db, logger: logger}
	if err := s.stmts.prepare(ctx, db); err != nil {
		s.stmts.close()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.Debug("opened database")
	return s, nil
}

func (s *sqliteStore) Close() error {
	s.stmts.close()
	return s.db.Close()
}

// RunInTransaction binds the prepared statements to one transaction
// and runs fn against a store that uses them. The bound handles are
// only valid until commit or rollback; the master statements stay
// valid for the life of the store. Nested calls join the enclosing
// transaction.
func (s *sqliteStore) RunInTransaction(ctx context.Context, fn func(registry.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &sqliteStore{
		db:     s.db,
		logger: s.logger,
		stmts:  s.stmts.bind(ctx, tx),
		inTx:   true,
	}
	if err := fn(txStore); err != nil {
		return err
	}
	return tx.Commit()
}

// logExec logs one statement execution at debug level.
func (s *sqliteStore) logExec(stmt string, args []any, start time.Time, err error, attrs ...any) {
	attrs = append([]any{"stmt", stmt, "args", args, "duration_ms", msec(time.Since(start))}, attrs...)
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.Debug("sql", attrs...)
}
