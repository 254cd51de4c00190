// Package health provides readiness checks for the service's dependencies.
package health

import (
	"context"
	"database/sql"
)

// DBChecker checks a SQL database with a ping.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// PingFunc adapts a ping method, such as the vector index's, to a checker.
type PingFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f PingFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}
