package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus is one health probe of the evidence database.
type HealthStatus struct {
	Healthy       bool
	Latency       time.Duration
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	Error         error
}

// Ping reports whether the database answers at all.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}
	return pool.Ping(ctx)
}

// Check pings the database and snapshots the pool counters. The returned
// status carries the error instead of failing, so callers can render
// unhealthy states.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	status := &HealthStatus{}

	if pool == nil {
		status.Error = fmt.Errorf("pool is nil")
		return status
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.Latency = time.Since(start)

	if err != nil {
		status.Error = fmt.Errorf("ping failed: %w", err)
		return status
	}

	stats := pool.Stat()
	status.Healthy = true
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()

	return status
}

// WaitForReady polls until the database answers or the context ends. Used
// by the enrichment worker, which often boots alongside Postgres.
func WaitForReady(ctx context.Context, pool *pgxpool.Pool, pollInterval time.Duration) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}

	if err := pool.Ping(ctx); err == nil {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := pool.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}
