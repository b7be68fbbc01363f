package health

import (
	"context"
	"database/sql"
	"fmt"
)

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	name string
	db   *sql.DB
}

// NewDatabaseChecker creates a new database health checker
func NewDatabaseChecker(name string, db *sql.DB) *DatabaseChecker {
	return &DatabaseChecker{name: name, db: db}
}

// Name returns the checker name
func (d *DatabaseChecker) Name() string {
	return d.name
}

// Check pings the database and reports pool usage
func (d *DatabaseChecker) Check(ctx context.Context) Check {
	if d.db == nil {
		return Check{Status: StatusUnhealthy, Message: "database connection is nil"}
	}
	if err := d.db.PingContext(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("database ping failed: %v", err)}
	}

	stats := d.db.Stats()
	return Check{
		Status: StatusHealthy,
		Metadata: map[string]any{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		},
	}
}

// PingChecker adapts any error-returning check, such as a driver's
// connectivity check or an HTTP ping
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker creates a checker that is healthy while ping succeeds
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// Name returns the checker name
func (p *PingChecker) Name() string {
	return p.name
}

// Check runs the ping function
func (p *PingChecker) Check(ctx context.Context) Check {
	if err := p.ping(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}
	return Check{Status: StatusHealthy}
}
