package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evidify/evidify-cli/pkg/export"
)

// Export command flags.
var (
	exportDelimiter string
	exportOutput    string
)

// NewExportCommand creates the export command with its subcommands.
func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exchange data with review platforms",
		Long: `Exchange data with document review platforms: parse thorn-delimited
load files and produce the enrichment CSV overlay that carries AI fields
back into review.

Examples:
  # Inspect a load file
  evidify export loadfile production_001.dat

  # Write the enrichment overlay for all analyzed documents
  evidify export analysis enrichment.csv

  # Use the thorn delimiter for direct load-file import
  evidify export analysis enrichment.dat --delimiter thorn`,
	}

	cmd.AddCommand(newExportLoadfileCommand())
	cmd.AddCommand(newExportAnalysisCommand())

	return cmd
}

func newExportLoadfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadfile <path>",
		Short: "Parse and inspect a review-tool load file",
		Long: `Parse a thorn-delimited load file and report its schema and record
count. Rows that fail to parse are skipped with a warning. With
--output json the parsed records are printed in full.

Examples:
  evidify export loadfile production_001.dat
  evidify export loadfile production_001.dat --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExportLoadfile(args[0])
		},
	}

	cmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output format: text, json")

	return cmd
}

func newExportAnalysisCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis <out-file>",
		Short: "Export AI analysis fields for review import",
		Long: `Export the stored AI analysis as a delimited overlay file keyed by
document id. Review platforms import it to populate responsiveness,
privilege, and hot-document fields alongside the produced documents.

Examples:
  evidify export analysis enrichment.csv
  evidify export analysis enrichment.dat --delimiter thorn`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExportAnalysis(cmd.Context(), args[0])
		},
	}

	cmd.Flags().StringVar(&exportDelimiter, "delimiter", "pipe", "field delimiter: pipe, thorn")

	return cmd
}

func runExportLoadfile(path string) error {
	log := newLogger()
	parser := export.NewLoadFileParser(log)

	records, err := parser.ParseFile(path)
	if err != nil {
		return err
	}

	if exportOutput == "json" {
		return outputJSON(records)
	}

	fmt.Printf("Parsed %d record(s) from %s\n\n", len(records), path)
	fmt.Println("Schema:")
	for _, field := range parser.FieldNames() {
		fmt.Printf("  %s\n", field)
	}

	custodians := map[string]int{}
	for _, r := range records {
		if r.Custodian != "" {
			custodians[r.Custodian]++
		}
	}
	if len(custodians) > 0 {
		fmt.Printf("\nCustodians: %d distinct\n", len(custodians))
	}
	return nil
}

func runExportAnalysis(ctx context.Context, outPath string) error {
	pool, err := connectPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
		SELECT document_id,
		       COALESCE(relevance_score, 0),
		       COALESCE(privilege_risk, 0),
		       COALESCE(classification, ''),
		       COALESCE(topics, '[]'::jsonb)
		FROM ai_analysis
		ORDER BY relevance_score DESC NULLS LAST, document_id`)
	if err != nil {
		return fmt.Errorf("reading analysis rows: %w", err)
	}
	defer rows.Close()

	var records []export.EnrichedRecord
	for rows.Next() {
		var (
			docID          string
			relevance      int
			privilegeRisk  int
			classification string
			topicsJSON     []byte
		)
		if err := rows.Scan(&docID, &relevance, &privilegeRisk, &classification, &topicsJSON); err != nil {
			return fmt.Errorf("scanning analysis row: %w", err)
		}

		var topics []string
		if err := json.Unmarshal(topicsJSON, &topics); err != nil {
			topics = nil
		}

		records = append(records, export.FromAnalysis(docID, relevance, privilegeRisk, classification, topics))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating analysis rows: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No analyzed documents to export.")
		return nil
	}

	exporter, err := export.NewEnrichmentExporter(exportDelimiter)
	if err != nil {
		return err
	}
	if err := exporter.WriteFile(outPath, records); err != nil {
		return err
	}

	fmt.Printf("Exported %d record(s) to %s\n", len(records), outPath)
	return nil
}
