package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/evidify/evidify-cli/pkg/db"
)

// Database command flags.
var (
	dbDryRun       bool
	dbYes          bool
	dbTarget       string
	dbOutput       string
	dbMigrationDir string
)

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the evidence metadata store.

The db command connects directly to PostgreSQL and requires DATABASE_URL
or DB_* environment variables to be set.

Migration files are SQL files in the migrations directory, named with
numeric prefixes (e.g., 001_initial_schema.sql). Migrations are applied in
alphabetical order and tracked in the schema_migrations table.

Examples:
  # Show migration status
  evidify db status

  # Apply all pending migrations
  evidify db migrate

  # Preview migrations without applying
  evidify db migrate --dry-run`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.PersistentFlags().StringVarP(&dbMigrationDir, "migrations", "m", "migrations", "Path to migrations directory")

	cmd.AddCommand(newDbMigrateCommand())
	cmd.AddCommand(newDbStatusCommand())

	return cmd
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations before applying them. Each migration runs in a
transaction and is recorded in the schema_migrations table. If a migration
fails, the transaction is rolled back and no further migrations are
attempted.

Examples:
  evidify db migrate
  evidify db migrate --dry-run
  evidify db migrate --target 002
  evidify db migrate --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&dbDryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&dbYes, "yes", "y", false, "Apply without confirmation")
	cmd.Flags().StringVarP(&dbTarget, "target", "t", "", "Target version to migrate to (e.g., 002)")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

Displays applied migrations, pending migrations, and drift (migrations
that were applied but no longer have corresponding files).

Examples:
  evidify db status
  evidify db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&dbOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context) error {
	pool, err := connectPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	pending, err := db.GetPendingMigrations(ctx, pool, dbMigrationDir)
	if err != nil {
		return fmt.Errorf("getting pending migrations: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("No pending migrations.")
		return nil
	}

	fmt.Printf("Pending migrations (%d):\n", len(pending))
	for _, m := range pending {
		fmt.Printf("  %s - %s\n", m.Version, m.Name)
	}
	fmt.Println()

	if dbDryRun {
		fmt.Println("Dry run mode: no migrations applied.")
		return nil
	}

	if !dbYes {
		fmt.Print("Apply these migrations? (y/N): ")
		var response string
		fmt.Scanln(&response)
		if strings.ToLower(response) != "y" {
			fmt.Println("Migration cancelled.")
			return nil
		}
	}

	var result *db.MigrationResult
	if dbTarget != "" {
		fmt.Printf("Applying migrations up to version %s...\n", dbTarget)
		result, err = db.RunMigrationsToTarget(ctx, pool, dbMigrationDir, dbTarget)
	} else {
		fmt.Println("Applying all pending migrations...")
		result, err = db.RunMigrations(ctx, pool, dbMigrationDir)
	}

	if err != nil {
		fmt.Printf("\nMigration failed: %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Printf("\nSuccessfully applied before failure:\n")
			for _, v := range result.Applied {
				fmt.Printf("  %s\n", v)
			}
		}
		return err
	}

	fmt.Println()
	if len(result.Applied) > 0 {
		fmt.Printf("Successfully applied %d migration(s):\n", len(result.Applied))
		for _, v := range result.Applied {
			fmt.Printf("  %s\n", v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Printf("\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, v := range result.Skipped {
			fmt.Printf("  - %s\n", v)
		}
	}

	fmt.Println("\nMigrations completed successfully.")
	return nil
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context) error {
	pool, err := connectPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, dbMigrationDir)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	switch dbOutput {
	case "json":
		return outputJSON(status)
	case "yaml":
		data, err := yaml.Marshal(status)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	default:
		return outputMigrationStatusText(status)
	}
}

// outputMigrationStatusText formats migration status for terminal display.
func outputMigrationStatusText(status *db.MigrationStatus) error {
	if len(status.Applied) > 0 {
		fmt.Printf("Applied Migrations (%d):\n", len(status.Applied))
		fmt.Println("  VERSION   NAME                              APPLIED")
		fmt.Println("  -------   ----                              -------")
		for _, m := range status.Applied {
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("  %-9s %-33s %s\n",
				m.Version, truncateCmdString(m.Name, 33), appliedAt)
		}
		fmt.Println()
	}

	if len(status.Pending) > 0 {
		fmt.Printf("Pending Migrations (%d):\n", len(status.Pending))
		for _, m := range status.Pending {
			fmt.Printf("  %-9s %s\n", m.Version, m.Name)
		}
		fmt.Println()
	}

	if len(status.Drift) > 0 {
		fmt.Printf("Drift (%d) - applied but file missing:\n", len(status.Drift))
		for _, m := range status.Drift {
			fmt.Printf("  %-9s %s\n", m.Version, m.Name)
		}
		fmt.Println()
	}

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Println("No migrations found.")
		return nil
	}

	fmt.Printf("Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Printf(", %d drift", len(status.Drift))
	}
	fmt.Println()

	return nil
}
