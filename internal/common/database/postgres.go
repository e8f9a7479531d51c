// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-workers/internal/common/config"

	"github.com/lib/pq"
)

// Postgres SQLSTATE codes the stores react to.
const (
	PgSerializationFailure = "40001"
	PgDeadlockDetected     = "40P01"
	PgUniqueViolation      = "23505"
)

// ErrTxConflict is returned by WithTx when every attempt hit a
// serialization failure or deadlock.
var ErrTxConflict = errors.New("transaction conflict")

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB

	txMaxAttempts int
}

// NewPostgres creates a new PostgreSQL client
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return NewPostgresFromDB(db, cfg.TxMaxAttempts), nil
}

// NewPostgresFromDB wraps an existing handle, e.g. a sqlmock connection.
func NewPostgresFromDB(db *sql.DB, txMaxAttempts int) *PostgresClient {
	if txMaxAttempts < 1 {
		txMaxAttempts = 1
	}
	return &PostgresClient{DB: db, txMaxAttempts: txMaxAttempts}
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// Query executes a query that returns rows
func (c *PostgresClient) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.DB.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row
func (c *PostgresClient) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// Exec executes a query that doesn't return rows
func (c *PostgresClient) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.DB.ExecContext(ctx, query, args...)
}

// WithTx runs fn in a transaction and commits when fn returns nil. A
// serialization failure or deadlock rolls back and reruns fn from scratch,
// so fn must not keep state between attempts. Any other error from fn is
// returned unchanged after rollback.
func (c *PostgresClient) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.txMaxAttempts; attempt++ {
		err := c.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableTxError(err) {
			return err
		}
		lastErr = err

		if attempt < c.txMaxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrTxConflict, c.txMaxAttempts, lastErr)
}

func (c *PostgresClient) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsRetryableTxError reports a serialization failure or deadlock.
func IsRetryableTxError(err error) bool {
	code := PgErrorCode(err)
	return code == PgSerializationFailure || code == PgDeadlockDetected
}

func IsUniqueViolation(err error) bool {
	return PgErrorCode(err) == PgUniqueViolation
}

// PgErrorCode extracts the SQLSTATE from a wrapped *pq.Error.
func PgErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
