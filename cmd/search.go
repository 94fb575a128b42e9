package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/evidify/evidify-cli/pkg/enrich"
	"github.com/evidify/evidify-cli/pkg/logging"
	"github.com/evidify/evidify-cli/pkg/store"
)

// Search command flags.
var (
	searchCustodian    string
	searchSource       string
	searchClass        string
	searchMinRelevance int
	searchCategory     string
	searchQuality      string
	searchFrom         string
	searchTo           string
	searchTags         []string
	searchReviewStatus string
	searchLimit        int
	searchSemantic     bool
	searchExport       string
	searchOutputPath   string
	searchStats        bool
)

// NewSearchCommand creates the search command.
func NewSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the evidence corpus",
		Long: `Search indexed documents with full-text ranking, or by vector similarity
with --semantic once documents carry embeddings. Filters are combined
with AND; without a query, documents are listed by review relevance.

Dates use YYYY-MM-DD and bound the collection timestamp.

Examples:
  # Full-text search
  evidify search "revenue restatement"

  # Semantic search (requires an LLM API key for the query embedding)
  evidify search "side letter concealment" --semantic

  # Filtered search
  evidify search "invoice" --custodian jdoe@acme.com --from 2024-01-01 --to 2024-03-31

  # Export hits for review
  evidify search "wire transfer" --export csv --out hits.csv

  # Corpus statistics
  evidify search --stats`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&searchCustodian, "custodian", "", "filter by custodian identifier")
	cmd.Flags().StringVar(&searchSource, "source", "", "filter by source connector name")
	cmd.Flags().StringVar(&searchClass, "classification", "", "filter by AI classification")
	cmd.Flags().IntVar(&searchMinRelevance, "min-relevance", 0, "minimum AI relevance score")
	cmd.Flags().StringVar(&searchCategory, "category", "", "filter by attachment file category")
	cmd.Flags().StringVar(&searchQuality, "quality", "", "filter by attachment data quality")
	cmd.Flags().StringVar(&searchFrom, "from", "", "collected on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&searchTo, "to", "", "collected on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&searchTags, "tag", nil, "require a review tag (repeatable)")
	cmd.Flags().StringVar(&searchReviewStatus, "review-status", "", "filter by review status")
	cmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum number of results")
	cmd.Flags().BoolVar(&searchSemantic, "semantic", false, "rank by vector similarity (needs embedded documents)")
	cmd.Flags().StringVar(&searchExport, "export", "", "export format: csv, json")
	cmd.Flags().StringVar(&searchOutputPath, "out", "", "export destination file (default stdout)")
	cmd.Flags().BoolVar(&searchStats, "stats", false, "print corpus statistics instead of searching")

	return cmd
}

func runSearch(ctx context.Context, query string) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	pool, err := connectPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	metadataStore, err := store.NewMetadataStore(pool, cfg.MetadataStore, log)
	if err != nil {
		return err
	}

	if searchStats {
		stats, err := metadataStore.Stats(ctx)
		if err != nil {
			return err
		}
		return printStoreStats(stats)
	}

	filters, err := buildSearchFilters()
	if err != nil {
		return err
	}

	sq := store.SearchQuery{
		Text:    query,
		Filters: filters,
		Limit:   searchLimit,
	}

	if searchSemantic && query != "" {
		stats, err := metadataStore.Stats(ctx)
		if err != nil {
			return err
		}
		if semanticSearchAvailable(stats) {
			sq.Embedding = queryEmbedding(ctx, cfg.Enrichment.EmbeddingModel, query, log)
		} else {
			log.Warn("no documents carry embeddings yet, using text-only ranking; run 'evidify embed' first")
		}
	}

	results, err := metadataStore.Search(ctx, sq)
	if err != nil {
		return err
	}
	return outputSearchResults(results)
}

// semanticSearchAvailable reports whether vector ranking can return
// anything at all: at least one indexed document must carry an embedding.
func semanticSearchAvailable(stats *store.StoreStats) bool {
	return stats != nil && stats.EmbeddedDocuments > 0
}

// queryEmbedding embeds the query text for vector ranking. Failures fall
// back to text-only search rather than aborting.
func queryEmbedding(ctx context.Context, model, query string, log logging.Logger) []float32 {
	engine, _, cleanup, err := buildEngine(ctx)
	if err != nil {
		log.Warn("semantic search unavailable, using text-only ranking", logging.Err(err))
		return nil
	}
	defer cleanup()

	embedding, err := enrich.NewEmbedder(engine, model).EmbedQuery(ctx, query)
	if err != nil {
		log.Warn("query embedding failed, using text-only ranking", logging.Err(err))
		return nil
	}
	return embedding
}

func buildSearchFilters() (store.SearchFilters, error) {
	filters := store.SearchFilters{
		Source:         searchSource,
		CustodianID:    searchCustodian,
		Classification: searchClass,
		MinRelevance:   searchMinRelevance,
		FileCategory:   searchCategory,
		DataQuality:    searchQuality,
		Tags:           searchTags,
		ReviewStatus:   searchReviewStatus,
	}

	if searchFrom != "" {
		from, err := time.Parse("2006-01-02", searchFrom)
		if err != nil {
			return filters, fmt.Errorf("invalid --from date %q: want YYYY-MM-DD", searchFrom)
		}
		filters.DateFrom = from
	}
	if searchTo != "" {
		to, err := time.Parse("2006-01-02", searchTo)
		if err != nil {
			return filters, fmt.Errorf("invalid --to date %q: want YYYY-MM-DD", searchTo)
		}
		// Inclusive upper bound on the day.
		filters.DateTo = to.Add(24*time.Hour - time.Nanosecond)
	}
	return filters, nil
}

func outputSearchResults(results []store.SearchResult) error {
	var out io.Writer = os.Stdout
	if searchOutputPath != "" {
		f, err := os.Create(searchOutputPath)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch searchExport {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "csv":
		return writeSearchCSV(out, results)
	case "":
		return printSearchResults(results)
	default:
		return fmt.Errorf("unknown export format %q (want csv or json)", searchExport)
	}
}

func writeSearchCSV(w io.Writer, results []store.SearchResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{
		"DocID", "Score", "Subject", "Source", "Custodian", "CollectedAt",
		"Classification", "Relevance", "ReviewStatus", "Tags",
	}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.DocumentID,
			strconv.FormatFloat(r.Score, 'f', 4, 64),
			r.Subject,
			r.Source,
			r.CustodianID,
			r.CollectedAt.Format(time.RFC3339),
			r.Classification,
			strconv.Itoa(r.RelevanceScore),
			r.ReviewStatus,
			strings.Join(r.Tags, ";"),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func printSearchResults(results []store.SearchResult) error {
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	fmt.Printf("%d result(s):\n\n", len(results))
	for i, r := range results {
		fmt.Printf("%2d. [%.3f] %s\n", i+1, r.Score, truncateCmdString(r.Subject, 70))
		fmt.Printf("    %s  %s  %s  %s\n",
			r.DocumentID, r.Source, r.CustodianID, r.CollectedAt.Format("2006-01-02"))
		if r.Classification != "" {
			fmt.Printf("    class=%s relevance=%d", r.Classification, r.RelevanceScore)
			if r.ReviewStatus != "" {
				fmt.Printf(" review=%s", r.ReviewStatus)
			}
			if len(r.Tags) > 0 {
				fmt.Printf(" tags=%s", strings.Join(r.Tags, ","))
			}
			fmt.Println()
		}
		if r.Snippet != "" {
			fmt.Printf("    %s\n", truncateCmdString(strings.ReplaceAll(r.Snippet, "\n", " "), 100))
		}
		fmt.Println()
	}
	return nil
}

func printStoreStats(stats *store.StoreStats) error {
	if searchExport == "json" {
		return outputJSON(stats)
	}

	fmt.Printf("Documents:       %d\n", stats.Documents)
	fmt.Printf("Custodians:      %d\n", stats.Custodians)
	fmt.Printf("Attachments:     %d\n", stats.Attachments)
	fmt.Printf("Custody events:  %d\n", stats.CustodyEvents)
	fmt.Printf("Analyzed:        %d\n", stats.AnalyzedDocuments)
	fmt.Printf("Reviewed:        %d\n", stats.ReviewedDocuments)
	fmt.Printf("Embedded:        %d\n", stats.EmbeddedDocuments)

	if !stats.EarliestCollection.IsZero() {
		fmt.Printf("Collection span: %s to %s\n",
			stats.EarliestCollection.Format("2006-01-02"),
			stats.LatestCollection.Format("2006-01-02"))
	}

	if len(stats.DocumentsBySource) > 0 {
		fmt.Println("\nBy source:")
		sources := make([]string, 0, len(stats.DocumentsBySource))
		for source := range stats.DocumentsBySource {
			sources = append(sources, source)
		}
		sort.Strings(sources)
		for _, source := range sources {
			fmt.Printf("  %-30s %d\n", source, stats.DocumentsBySource[source])
		}
	}

	if len(stats.TopCustodians) > 0 {
		fmt.Println("\nTop custodians:")
		for _, cc := range stats.TopCustodians {
			fmt.Printf("  %-30s %d\n", cc.Identifier, cc.Documents)
		}
	}
	return nil
}
