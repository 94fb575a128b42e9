package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one .sql file in the migrations directory. Version is the
// filename without its extension; numeric prefixes give the ordering.
type Migration struct {
	Version string
	Name    string
	Path    string
}

// MigrationResult summarizes one migration run.
type MigrationResult struct {
	Applied []string
	Skipped []string
	Errors  []error
}

// MigrationStatusEntry is one migration in a status report. AppliedAt is
// nil while the migration is pending.
type MigrationStatusEntry struct {
	Version   string
	Name      string
	AppliedAt *time.Time
}

// MigrationStatus reconciles the migrations directory against the
// schema_migrations table. Drift holds versions recorded as applied whose
// file has since disappeared.
type MigrationStatus struct {
	Applied []MigrationStatusEntry
	Pending []MigrationStatusEntry
	Drift   []MigrationStatusEntry
}

// RunMigrations applies every pending .sql file from the directory, in
// version order. Applied versions are tracked in schema_migrations and
// never re-run; the run stops at the first failure.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) (*MigrationResult, error) {
	return runMigrations(ctx, pool, migrationsDir, "")
}

// RunMigrationsToTarget applies pending migrations up to and including
// targetVersion, which must exist in the directory.
func RunMigrationsToTarget(ctx context.Context, pool *pgxpool.Pool, migrationsDir, targetVersion string) (*MigrationResult, error) {
	if targetVersion == "" {
		return nil, fmt.Errorf("target version is required")
	}
	return runMigrations(ctx, pool, migrationsDir, targetVersion)
}

// runMigrations is the shared implementation; an empty target means run
// everything.
func runMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsDir, targetVersion string) (*MigrationResult, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}

	result := &MigrationResult{}

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := findMigrations(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to find migrations: %w", err)
	}
	if len(migrations) == 0 {
		return result, nil
	}

	stopAfter := len(migrations) - 1
	if targetVersion != "" {
		stopAfter = -1
		for i, m := range migrations {
			if m.Version == targetVersion {
				stopAfter = i
				break
			}
		}
		if stopAfter < 0 {
			return nil, fmt.Errorf("target version %s not found in migrations directory", targetVersion)
		}
	}

	applied, err := getAppliedMigrations(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range migrations[:stopAfter+1] {
		if _, done := applied[m.Version]; done {
			result.Skipped = append(result.Skipped, m.Version)
			continue
		}

		if err := applyMigration(ctx, pool, m); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("migration %s failed: %w", m.Version, err))
			return result, err
		}
		result.Applied = append(result.Applied, m.Version)
	}

	return result, nil
}

func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`)
	return err
}

// findMigrations lists the .sql files in the directory, sorted by version.
func findMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".sql") {
			continue
		}
		migrations = append(migrations, Migration{
			Version: strings.TrimSuffix(name, filepath.Ext(name)),
			Name:    name,
			Path:    filepath.Join(dir, name),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// normalizeVersion strips a .sql suffix so versions recorded with the full
// filename (external tooling does this) compare equal to ours.
func normalizeVersion(v string) string {
	if len(v) > 4 && strings.EqualFold(v[len(v)-4:], ".sql") {
		return v[:len(v)-4]
	}
	return v
}

// getAppliedMigrations maps normalized applied versions to their applied_at
// timestamps.
func getAppliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]time.Time, error) {
	applied := make(map[string]time.Time)

	rows, err := pool.Query(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, err
		}
		applied[normalizeVersion(version)] = appliedAt
	}

	return applied, rows.Err()
}

// applyMigration executes one file and records it, in one transaction. The
// recorded version keeps the .sql suffix for consistency with migrations
// applied by external tooling.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, m Migration) error {
	content, err := os.ReadFile(m.Path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return fmt.Errorf("migration file is empty")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit(ctx)
}

// GetPendingMigrations lists migrations on disk that have not been applied.
func GetPendingMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) ([]Migration, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	migrations, err := findMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}

	applied, err := getAppliedMigrations(ctx, pool)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, m := range migrations {
		if _, done := applied[m.Version]; !done {
			pending = append(pending, m)
		}
	}

	return pending, nil
}

// GetMigrationStatus reconciles files against recorded versions: applied
// (both), pending (file only), and drift (recorded only).
func GetMigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) (*MigrationStatus, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	migrations, err := findMigrations(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to find migrations: %w", err)
	}

	applied, err := getAppliedMigrations(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	onDisk := make(map[string]bool, len(migrations))
	status := &MigrationStatus{
		Applied: []MigrationStatusEntry{},
		Pending: []MigrationStatusEntry{},
		Drift:   []MigrationStatusEntry{},
	}

	for _, m := range migrations {
		onDisk[m.Version] = true
		if appliedAt, done := applied[m.Version]; done {
			at := appliedAt
			status.Applied = append(status.Applied, MigrationStatusEntry{
				Version: m.Version, Name: m.Name, AppliedAt: &at,
			})
		} else {
			status.Pending = append(status.Pending, MigrationStatusEntry{
				Version: m.Version, Name: m.Name,
			})
		}
	}

	for version, appliedAt := range applied {
		if !onDisk[version] {
			at := appliedAt
			status.Drift = append(status.Drift, MigrationStatusEntry{
				Version: version, Name: version + ".sql", AppliedAt: &at,
			})
		}
	}

	return status, nil
}
