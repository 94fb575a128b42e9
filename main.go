// Package main provides the evidify CLI entry point.
// evidify collects, processes, stores, and enriches electronic evidence for
// legal discovery.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evidify/evidify-cli/cmd"
	"github.com/evidify/evidify-cli/pkg/buildinfo"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "evidify",
	Short: "Evidence ingestion and enrichment pipeline for legal discovery",
	Long: `evidify collects electronic evidence from configured sources, preserves
it with a documented chain of custody, and enriches it for review.

COMMON WORKFLOWS:
  Prepare the store:  evidify db migrate
  Collect evidence:   evidify ingest run --config matter.yaml
  Analyze documents:  evidify enrich --batch 100  |  evidify enrich worker
  Build embeddings:   evidify embed --all
  Find documents:     evidify search "wire transfer" --semantic
  Hand off to review: evidify export analysis enrichment.csv

DISCOVERY:
  evidify <command> --help    Subcommands, flags, and examples for any command
  evidify search --stats      Corpus-level counts
  evidify enrich --report     Enrichment summary and hot documents`,
}

// Version command flags.
var versionOutputJSON bool

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of the evidify CLI.

Examples:
  evidify version
  evidify version --output-json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildinfo.Get("evidify-cli")
		if versionOutputJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "evidify version %s\n", info.Version)
		fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
		fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go version: %s\n", info.GoVersion)
		return nil
	},
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for evidify.

To load completions:

Bash:
  $ source <(evidify completion bash)

Zsh:
  $ evidify completion zsh > "${fpath[1]}/_evidify"

Fish:
  $ evidify completion fish | source

PowerShell:
  PS> evidify completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	cmd.RegisterGlobalFlags(rootCmd)

	rootCmd.AddGroup(
		&cobra.Group{ID: "pipeline", Title: "Pipeline:"},
		&cobra.Group{ID: "review", Title: "Review & Search:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)

	ingestCmd := cmd.NewIngestCommand()
	ingestCmd.GroupID = "pipeline"
	rootCmd.AddCommand(ingestCmd)

	enrichCmd := cmd.NewEnrichCommand()
	enrichCmd.GroupID = "pipeline"
	rootCmd.AddCommand(enrichCmd)

	embedCmd := cmd.NewEmbedCommand()
	embedCmd.GroupID = "pipeline"
	rootCmd.AddCommand(embedCmd)

	searchCmd := cmd.NewSearchCommand()
	searchCmd.GroupID = "review"
	rootCmd.AddCommand(searchCmd)

	exportCmd := cmd.NewExportCommand()
	exportCmd.GroupID = "review"
	rootCmd.AddCommand(exportCmd)

	dbCmd := cmd.NewDbCommand()
	dbCmd.GroupID = "ops"
	rootCmd.AddCommand(dbCmd)

	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output as JSON")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
