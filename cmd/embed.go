package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evidify/evidify-cli/pkg/enrich"
)

// Embed command flags.
var (
	embedBatch int
	embedAll   bool
)

// NewEmbedCommand creates the embed command.
func NewEmbedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate vector embeddings for indexed documents",
		Long: `Generate embeddings for documents that do not have one yet and store
them for semantic search. The embedding text combines subject, custodian,
and body, truncated to the model input limit.

Examples:
  # Embed the next batch of documents
  evidify embed

  # Drain the whole backlog
  evidify embed --all

  # Use a larger batch size
  evidify embed --batch 200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmbed(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&embedBatch, "batch", 50, "documents per embedding batch")
	cmd.Flags().BoolVar(&embedAll, "all", false, "keep embedding batches until the backlog is empty")

	return cmd
}

func runEmbed(ctx context.Context) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	engine, _, cleanup, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	embedder := enrich.NewEmbedder(engine, cfg.Enrichment.EmbeddingModel)

	total := 0
	for {
		stored, err := embedder.GenerateBatch(ctx, embedBatch)
		if err != nil {
			return err
		}
		total += stored
		if stored == 0 || !embedAll {
			break
		}
	}

	if total == 0 {
		fmt.Println("No documents pending embedding.")
		return nil
	}
	fmt.Printf("Generated %d embedding(s).\n", total)
	return nil
}
