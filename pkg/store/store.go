// Package store implements the Relational Store (spec.md §4.1): a durable,
// WAL-mode SQLite file holding conversations, messages, hierarchical
// summaries, semantic tags, and the dead-letter / pending-delete
// reconciliation tables. It is the ground truth; the Vector Store is a
// derived index reconciled asynchronously.
//
// The connection setup and pool tuning follow the teacher's
// pkg/core/store_init.go (modernc.org/sqlite, WAL + busy_timeout + foreign
// keys on).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sekha-ai/sekha/internal/sekherr"
	"github.com/sekha-ai/sekha/pkg/sekhalog"
)

// Store is the Relational Store. All methods are safe for concurrent use;
// SQLite's own WAL mode enforces single-writer/many-reader discipline, so the
// mutex here only protects the closed flag and the *sql.DB handle swap.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	logger sekhalog.Logger
	path   string
}

// Config configures the Relational Store.
type Config struct {
	// Path is the filesystem path to the SQLite database file, e.g.
	// $HOME/.sekha/data/sekha.db.
	Path           string
	MaxConnections int
	Logger         sekhalog.Logger
}

// Open creates (if necessary) and opens the database file, applies pragmas,
// and runs the embedded schema migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, sekherr.Validation("store.open", "database path cannot be empty")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 25
	}
	if cfg.Logger == nil {
		cfg.Logger = sekhalog.NewStd()
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, "store.open", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(min(cfg.MaxConnections, 10))
	db.SetConnMaxLifetime(2 * time.Hour)

	// modernc.org/sqlite serializes writers internally per connection; force a
	// single physical connection, for reads and writes alike (this replaces the
	// MaxConnections limit set above), to avoid "database is locked"
	// storms under WAL, mirroring the teacher's single-writer discipline.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: cfg.Logger, path: cfg.Path}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, sekherr.New(sekherr.KindInternal, "store.open", err)
	}

	s.logger.Info("relational store opened", "path", cfg.Path)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sekherr.New(sekherr.KindInternal, op, sekherr.ErrClosed)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on any error returned by fn, matching the teacher's "all writes go through
// a transaction" rule (spec.md §4.6).
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sekherr.New(sekherr.KindInternal, op, fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return sekherr.New(sekherr.KindInternal, op, fmt.Errorf("commit: %w", err))
	}
	return nil
}
