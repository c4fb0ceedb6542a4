package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the query surface shared by sessions and raw transactions.
// pgx.Tx satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Session is the caller's ambient transaction. The first statement lazily
// begins a transaction on a pooled connection; Commit and Rollback end it and
// release the connection. Rollback additionally fires the registered hooks so
// in-memory identity caches can be dropped.
type Session struct {
	pool *pgxpool.Pool

	mu         sync.Mutex
	tx         pgx.Tx
	onRollback []func()
}

// NewSession wraps the pool in an explicit-commit session.
func NewSession(pool *pgxpool.Pool) *Session {
	return &Session{pool: pool}
}

// OnRollback registers fn to run whenever the session rolls back.
func (s *Session) OnRollback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRollback = append(s.onRollback, fn)
}

func (s *Session) begin(ctx context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// Exec runs a statement inside the ambient transaction.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return tx.Exec(ctx, sql, args...)
}

// Query runs a query inside the ambient transaction.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx.Query(ctx, sql, args...)
}

// QueryRow runs a single-row query inside the ambient transaction.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	tx, err := s.begin(ctx)
	if err != nil {
		return errRow{err}
	}
	return tx.QueryRow(ctx, sql, args...)
}

// Commit commits the ambient transaction. Committing with no open
// transaction is a no-op.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()

	if tx == nil {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback aborts the ambient transaction and fires the rollback hooks.
// Rolling back with no open transaction still fires the hooks.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	hooks := make([]func(), len(s.onRollback))
	copy(hooks, s.onRollback)
	s.mu.Unlock()

	var err error
	if tx != nil {
		err = tx.Rollback(ctx)
	}
	for _, fn := range hooks {
		fn()
	}
	if err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

// errRow defers a begin failure until Scan, matching pgx.Row semantics.
type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
