package mcp

import (
	"context"
	"database/sql"
	"fmt"
)

// Registry answers whether a tenant owns an MCP server. It is consulted on
// every call, independent of the cached tenant configuration.
type Registry interface {
	OwnedBy(ctx context.Context, serverID, tenantID string) (bool, error)
}

// PostgresRegistry checks ownership against the mcp_servers table.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry creates a registry backed by db.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

const ownedByQuery = `SELECT EXISTS (
	SELECT 1 FROM mcp_servers
	WHERE id = $1 AND tenant_id = $2 AND is_active = TRUE
)`

// OwnedBy implements Registry.
func (r *PostgresRegistry) OwnedBy(ctx context.Context, serverID, tenantID string) (bool, error) {
	if serverID == "" || tenantID == "" {
		return false, nil
	}
	var owned bool
	if err := r.db.QueryRowContext(ctx, ownedByQuery, serverID, tenantID).Scan(&owned); err != nil {
		return false, fmt.Errorf("check mcp server ownership: %w", err)
	}
	return owned, nil
}
