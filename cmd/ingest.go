package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/evidify/evidify-cli/pkg/audit"
	"github.com/evidify/evidify-cli/pkg/connectors"
	"github.com/evidify/evidify-cli/pkg/pipeline"
	"github.com/evidify/evidify-cli/pkg/processors"
	"github.com/evidify/evidify-cli/pkg/store"
)

// Ingest command flags.
var ingestOutput string

// NewIngestCommand creates the ingest command with its subcommands.
func NewIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Collect, process, and store evidence",
		Long: `Collect evidence from the configured source connectors, run the
processing chain, and persist results to the object and metadata stores.

Each run is assigned a run ID that appears in every log line and custody
event produced during the run. A connector failure is recorded and the run
continues with the remaining sources; documents that fail to persist are
skipped and never indexed.

Examples:
  # Run the full pipeline with the default config
  evidify ingest run

  # Run with an explicit config file
  evidify ingest run --config matter-4582.yaml

  # Check a config file without touching any store
  evidify ingest validate --config matter-4582.yaml`,
	}

	cmd.AddCommand(newIngestRunCommand())
	cmd.AddCommand(newIngestValidateCommand())

	return cmd
}

func newIngestRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one full ingestion pass",
		Long: `Execute one full ingestion pass: fetch from every enabled connector,
apply the processing chain, persist to the object store, and index into
the metadata store.

Examples:
  evidify ingest run
  evidify ingest run --config matter-4582.yaml
  evidify ingest run --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&ingestOutput, "output", "o", "", "output format: text, json")

	return cmd
}

func newIngestValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the pipeline configuration",
		Long: `Load and validate the pipeline configuration without connecting to any
store or source. Reports the enabled connectors and selected store types.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Configuration OK.\n\n")
			fmt.Printf("Connectors (%d enabled of %d):\n", len(cfg.EnabledConnectors()), len(cfg.Connectors))
			for _, conn := range cfg.Connectors {
				state := "disabled"
				if conn.Enabled {
					state = "enabled"
				}
				fmt.Printf("  %-30s %-16s %s\n", conn.Name, conn.Type, state)
			}
			fmt.Printf("\nObject store:   %s\n", cfg.ObjectStore.Type)
			fmt.Printf("Metadata store: %s\n", cfg.MetadataStore.Type)
			if cfg.Security.AuditLogDestination != "" {
				fmt.Println("Audit stream:   configured")
			}
			return nil
		},
	}
}

// runIngest wires the pipeline from configuration and executes it.
func runIngest(ctx context.Context) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	factory := connectors.NewFactory()
	var conns []connectors.SourceConnector
	for _, cc := range cfg.EnabledConnectors() {
		conn, err := factory.Create(cc, log)
		if err != nil {
			return fmt.Errorf("building connector %q: %w", cc.Name, err)
		}
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		return fmt.Errorf("no enabled connectors in configuration")
	}

	procs := processors.BuildChain(cfg.Processing, log)

	objectStore, err := store.NewObjectStore(ctx, cfg.ObjectStore, cfg.Security, log)
	if err != nil {
		return fmt.Errorf("building object store: %w", err)
	}

	pool, err := connectPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	metadataStore, err := store.NewMetadataStore(pool, cfg.MetadataStore, log)
	if err != nil {
		return fmt.Errorf("building metadata store: %w", err)
	}

	auditor, err := audit.NewPublisher(ctx, cfg.Security.AuditLogDestination, log)
	if err != nil {
		return fmt.Errorf("connecting audit stream: %w", err)
	}
	defer auditor.Close()

	result, runErr := pipeline.New(conns, procs, objectStore, metadataStore, auditor, log).Run(ctx)
	if result != nil {
		if err := printIngestionResult(result); err != nil {
			return err
		}
	}
	return runErr
}

func printIngestionResult(result *pipeline.IngestionResult) error {
	if ingestOutput == "json" {
		return outputJSON(result)
	}

	fmt.Printf("Run %s completed in %s\n", result.RunID, result.Duration.Round(time.Millisecond))
	fmt.Printf("  Collected: %d\n", result.Collected)
	fmt.Printf("  Processed: %d\n", result.Processed)
	fmt.Printf("  Persisted: %d\n", result.Persisted)
	fmt.Printf("  Indexed:   %d\n", result.Indexed)
	if result.Failed > 0 {
		fmt.Printf("  Failed:    %d\n", result.Failed)
	}

	if len(result.Connectors) > 0 {
		fmt.Println("\nBy connector:")
		for _, cr := range result.Connectors {
			fmt.Printf("  %-30s collected=%d processed=%d persisted=%d indexed=%d failed=%d\n",
				cr.Connector, cr.Collected, cr.Processed, cr.Persisted, cr.Indexed, cr.Failed)
		}
	}

	if len(result.ConnectorErrors) > 0 {
		fmt.Println("\nConnector errors:")
		names := make([]string, 0, len(result.ConnectorErrors))
		for name := range result.ConnectorErrors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s: %s\n", name, result.ConnectorErrors[name])
		}
	}
	return nil
}
