// Package database is the Postgres persistence gateway. Tenant-scoped reads
// and writes run inside sessions that set the transaction-local
// app.tenant_id variable consumed by row-level-security policies; the
// audit_log table is intentionally unscoped.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Store owns the connection pool and exposes the two session factories:
// unscoped (WithSession) and tenant-scoped (WithTenant).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to Postgres and verifies connectivity.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	logger.Info("postgres connected")
	return &Store{db: db, logger: logger}, nil
}

// Close shuts down the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping probes connectivity; used by the status endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate applies the schema. Idempotent: every statement is IF NOT EXISTS
// or an upsert.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, seedProviders); err != nil {
		return fmt.Errorf("seed providers: %w", err)
	}
	return nil
}

// WithTenant runs fn inside a transaction whose app.tenant_id variable is
// set before any other statement. Every RLS policy on tenant tables keys off
// this variable, so a forgotten scope fails closed (zero visible rows).
func (s *Store) WithTenant(ctx context.Context, tenantID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tenant tx: %w", err)
	}
	// set_config with is_local=true scopes the variable to this transaction.
	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID); err != nil {
		tx.Rollback()
		return fmt.Errorf("set tenant context: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tenant tx: %w", err)
	}
	return nil
}

// WithSession runs fn inside an unscoped transaction. Reserved for admin
// tooling, auth lookups and the audit log.
func (s *Store) WithSession(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ErrNotFound is returned when a row is absent under the current scope.
// Cross-tenant probes see the same error as a genuinely missing row.
var ErrNotFound = sql.ErrNoRows

// ErrDuplicate is returned on unique-constraint conflicts.
type ErrDuplicate struct {
	Constraint string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate: %s", e.Constraint)
}

// isUniqueViolation detects Postgres unique-constraint violations (23505).
func isUniqueViolation(err error) (string, bool) {
	var pqe *pq.Error
	if errors.As(err, &pqe) && pqe.Code == "23505" {
		return pqe.Constraint, true
	}
	return "", false
}
