package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/evidify/evidify-cli/pkg/db"
	"github.com/evidify/evidify-cli/pkg/enrich"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// Enrich command flags.
var (
	enrichBatch      int
	enrichAll        bool
	enrichDocuments  []string
	enrichPrompt     string
	enrichPromptFile string
	enrichTags       bool
	enrichRedact     bool
	enrichWorkers    int
	enrichReport     bool
	enrichOutput     string

	workerOnce        bool
	workerBatchSize   int
	workerSleep       time.Duration
	workerMetricsAddr string
)

// NewEnrichCommand creates the enrich command with its subcommands.
func NewEnrichCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Analyze documents with the configured LLM",
		Long: `Analyze indexed documents with the configured LLM and store relevance,
privilege risk, classification, and derived tags.

Documents without an analysis row are considered pending and are picked up
oldest first. A custom prompt replaces the default analysis instructions;
the structured response format is always appended so scores stay parsable.

The LLM API key is read from the environment variable named by
enrichment.api_key_env in the config (default OPENAI_API_KEY).

Examples:
  # Analyze the next 10 pending documents
  evidify enrich

  # Analyze a larger batch
  evidify enrich --batch 100

  # Analyze specific documents with a custom prompt
  evidify enrich --document EMAIL001 --document DOC0042 \
      --prompt "Focus on discussions of the Q3 revenue restatement."

  # Summarize enrichment state of the corpus
  evidify enrich --report`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&enrichBatch, "batch", 10, "number of pending documents to analyze")
	cmd.Flags().BoolVar(&enrichAll, "all", false, "analyze every pending document")
	cmd.Flags().StringArrayVarP(&enrichDocuments, "document", "d", nil, "analyze a specific document id (repeatable)")
	cmd.Flags().StringVarP(&enrichPrompt, "prompt", "p", "", "custom analysis prompt")
	cmd.Flags().StringVar(&enrichPromptFile, "prompt-file", "", "read the custom prompt from a file")
	cmd.Flags().BoolVar(&enrichTags, "tags", true, "create review tags from the analysis")
	cmd.Flags().BoolVar(&enrichRedact, "redact", false, "also produce redaction suggestions")
	cmd.Flags().IntVar(&enrichWorkers, "workers", 0, "concurrent analysis workers (default from config, max 10)")
	cmd.Flags().BoolVar(&enrichReport, "report", false, "print an enrichment summary instead of analyzing")
	cmd.Flags().StringVarP(&enrichOutput, "output", "o", "", "output format: text, json")

	cmd.AddCommand(newEnrichWorkerCommand())

	return cmd
}

func newEnrichWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the continuous enrichment worker",
		Long: `Pull pending documents in batches and analyze them until interrupted.
When the backlog is empty the worker sleeps and polls; with --once it
exits instead.

Examples:
  evidify enrich worker
  evidify enrich worker --once --batch-size 100
  evidify enrich worker --sleep 2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrichWorker(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&workerOnce, "once", false, "exit when the backlog is empty")
	cmd.Flags().IntVar(&workerBatchSize, "batch-size", 50, "documents per batch")
	cmd.Flags().DurationVar(&workerSleep, "sleep", 30*time.Second, "poll interval when the backlog is empty")
	cmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

// buildEngine assembles the enrichment engine from config and environment.
// The returned cleanup closes the database pool.
func buildEngine(ctx context.Context) (*enrich.Engine, *pgxpool.Pool, func(), error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log := newLogger()

	pool, err := connectPool(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := enrich.NewOpenAIClient(cfg.Enrichment)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	workers := enrichWorkers
	if workers == 0 {
		workers = cfg.Enrichment.MaxWorkers
	}

	engine := enrich.NewEngine(pool, client, enrich.NewRegistry(0), workers, log)
	return engine, pool, pool.Close, nil
}

func runEnrich(ctx context.Context) error {
	engine, _, cleanup, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if enrichReport {
		report, err := engine.BuildReport(ctx)
		if err != nil {
			return err
		}
		return printEnrichmentReport(report)
	}

	ids := enrichDocuments
	if len(ids) == 0 {
		limit := enrichBatch
		if enrichAll {
			limit = 100000
		}
		ids, err = engine.PendingDocumentIDs(ctx, limit)
		if err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		fmt.Println("No pending documents.")
		return nil
	}

	prompt := enrichPrompt
	if enrichPromptFile != "" {
		data, err := os.ReadFile(enrichPromptFile)
		if err != nil {
			return fmt.Errorf("reading prompt file: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}

	job := engine.Registry().StartJob(ids, prompt, enrich.JobOptions{
		CreateTags:    enrichTags,
		RedactionMode: enrichRedact,
	})

	progress, err := engine.RunJob(ctx, job)
	if err != nil {
		return err
	}
	return printJobResults(progress)
}

func runEnrichWorker(ctx context.Context) error {
	engine, pool, cleanup, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if workerMetricsAddr != "" {
		if _, err := db.RegisterPoolStatsCollector(pool, "evidify", "enrich_worker"); err != nil {
			return fmt.Errorf("registering pool metrics: %w", err)
		}
		go serveMetrics(workerMetricsAddr)
	}

	return engine.RunWorker(ctx, workerOnce, workerBatchSize, workerSleep)
}

// serveMetrics exposes Prometheus metrics for the long-running worker.
// Errors are reported and the worker keeps running without metrics.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		newLogger().Warn("metrics endpoint failed", logging.Err(err))
	}
}

func printJobResults(progress enrich.Progress) error {
	if enrichOutput == "json" {
		return outputJSON(progress)
	}

	fmt.Printf("Analyzed %d of %d document(s)\n\n", progress.Processed, progress.Total)
	fmt.Println("  DOCUMENT                   CLASS           RELEVANCE  PRIVILEGE")
	fmt.Println("  --------                   -----           ---------  ---------")

	failures := 0
	for _, r := range progress.Results {
		class := r.Classification
		if r.ParseFailed {
			class = class + " (unparsed)"
			failures++
		}
		fmt.Printf("  %-26s %-15s %9d  %9d\n",
			truncateCmdString(r.DocumentID, 26), class, r.RelevanceScore, r.PrivilegeRisk)
	}
	if failures > 0 {
		fmt.Printf("\n%d response(s) could not be parsed; defaults were stored for review.\n", failures)
	}
	if len(progress.Redactions) > 0 {
		fmt.Printf("\nRedaction suggestions: %d\n", len(progress.Redactions))
	}
	return nil
}

func printEnrichmentReport(report *enrich.Report) error {
	if enrichOutput == "json" {
		return outputJSON(report)
	}

	fmt.Printf("Analyzed documents:  %d\n", report.TotalAnalyzed)
	fmt.Printf("Average relevance:   %.1f\n", report.AverageRelevance)
	fmt.Printf("Potentially privileged: %d\n\n", report.PrivilegedCount)

	if len(report.ByClassification) > 0 {
		fmt.Println("By classification:")
		classes := make([]string, 0, len(report.ByClassification))
		for class := range report.ByClassification {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		for _, class := range classes {
			fmt.Printf("  %-15s %d\n", class, report.ByClassification[class])
		}
		fmt.Println()
	}

	if len(report.HotDocuments) > 0 {
		fmt.Println("Hot documents:")
		for _, hot := range report.HotDocuments {
			fmt.Printf("  [%3d] %-26s %s\n",
				hot.RelevanceScore, truncateCmdString(hot.DocumentID, 26), truncateCmdString(hot.Subject, 60))
		}
	}
	return nil
}

// truncateCmdString truncates a string to maxLen, adding "..." if truncated.
func truncateCmdString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
