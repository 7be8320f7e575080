package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus is what /healthz reports for the database: reachability,
// schema readiness, connection pool statistics, and how many sessions are
// currently being processed.
type HealthStatus struct {
	Status          string        `json:"status"`
	ResponseTime    time.Duration `json:"response_time_ms"`
	InProgress      int           `json:"in_progress_sessions"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration_ms"`
	MaxOpenConns    int           `json:"max_open_conns"`
}

// Health checks database connectivity and schema readiness. A ping can
// succeed against a database the migrations never ran on, so the sessions
// table is probed too — a mispointed DSN surfaces here instead of at the
// first session claim.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unreachable",
			ResponseTime: time.Since(start),
		}, err
	}

	var inProgress int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE status = 'in_progress'`,
	).Scan(&inProgress); err != nil {
		return &HealthStatus{
			Status:       "schema missing",
			ResponseTime: time.Since(start),
		}, err
	}

	stats := db.Stats()

	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start),
		InProgress:      inProgress,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
		MaxOpenConns:    stats.MaxOpenConnections,
	}, nil
}
