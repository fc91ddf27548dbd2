package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrTenantRequired is returned when a tenant-scoped session is opened
// without a tenant id.
var ErrTenantRequired = errors.New("tenant id is required")

// Querier is the subset of *sql.DB and *sql.Tx used by repositories.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTenant runs fn inside a transaction whose app.current_tenant_id
// setting is the given tenant. Row level security policies key off that
// setting, so every tenant-scoped statement must go through here.
func WithTenant(ctx context.Context, db *sql.DB, tenantID string, fn func(q Querier) error) (err error) {
	if tenantID == "" {
		return ErrTenantRequired
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tenant tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT set_config('app.current_tenant_id', $1, true)`, tenantID); err != nil {
		return fmt.Errorf("set tenant scope: %w", err)
	}
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tenant tx: %w", err)
	}
	return nil
}
