package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidify/evidify-cli/pkg/store"
)

func TestIngestCommandHasSubcommands(t *testing.T) {
	cmd := NewIngestCommand()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["validate"])
}

func TestEnrichCommandDefaults(t *testing.T) {
	cmd := NewEnrichCommand()

	batch, err := cmd.Flags().GetInt("batch")
	require.NoError(t, err)
	assert.Equal(t, 10, batch)

	tags, err := cmd.Flags().GetBool("tags")
	require.NoError(t, err)
	assert.True(t, tags, "tag creation is on by default")

	var hasWorker bool
	for _, sub := range cmd.Commands() {
		if sub.Name() == "worker" {
			hasWorker = true
		}
	}
	assert.True(t, hasWorker)
}

func TestDbCommandStructure(t *testing.T) {
	cmd := NewDbCommand()
	assert.Contains(t, cmd.Aliases, "migrations")

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["migrate"])
	assert.True(t, names["status"])
}

func TestExportCommandStructure(t *testing.T) {
	cmd := NewExportCommand()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["loadfile"])
	assert.True(t, names["analysis"])
}

func TestBuildSearchFilters(t *testing.T) {
	searchCustodian = "jdoe@acme.com"
	searchFrom = "2024-01-01"
	searchTo = "2024-03-31"
	defer func() {
		searchCustodian, searchFrom, searchTo = "", "", ""
	}()

	filters, err := buildSearchFilters()
	require.NoError(t, err)

	assert.Equal(t, "jdoe@acme.com", filters.CustodianID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), filters.DateFrom)
	assert.True(t, filters.DateTo.After(time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)),
		"upper bound includes the whole day")
}

func TestSemanticSearchAvailable(t *testing.T) {
	assert.False(t, semanticSearchAvailable(nil))
	assert.False(t, semanticSearchAvailable(&store.StoreStats{Documents: 10}),
		"an indexed corpus without embeddings cannot be vector-ranked")
	assert.True(t, semanticSearchAvailable(&store.StoreStats{Documents: 10, EmbeddedDocuments: 1}))
}

func TestBuildSearchFiltersRejectsBadDate(t *testing.T) {
	searchFrom = "31/01/2024"
	defer func() { searchFrom = "" }()

	_, err := buildSearchFilters()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func TestWriteSearchCSV(t *testing.T) {
	results := []store.SearchResult{
		{
			DocumentID:     "EMAIL001",
			Score:          0.8234,
			Subject:        "Quarterly Results",
			Source:         "sample_m365_mailbox",
			CustodianID:    "jdoe@acme.com",
			CollectedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Classification: "relevant",
			RelevanceScore: 85,
			Tags:           []string{"AI: Relevant", "High Priority"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeSearchCSV(&buf, results))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "DocID,Score,Subject"))
	assert.Contains(t, lines[1], "EMAIL001,0.8234")
	assert.Contains(t, lines[1], "AI: Relevant;High Priority")
}

func TestLoadAppConfigFallsBackToDefaults(t *testing.T) {
	old := configPath
	configPath = defaultConfigFile
	defer func() { configPath = old }()

	cfg, err := loadAppConfig()
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Connectors)
	assert.Equal(t, "mock_email", cfg.Connectors[0].Type)
}

func TestLoadAppConfigMissingExplicitFile(t *testing.T) {
	old := configPath
	configPath = "does-not-exist.yaml"
	defer func() { configPath = old }()

	_, err := loadAppConfig()
	require.Error(t, err)
}

func TestTruncateCmdString(t *testing.T) {
	assert.Equal(t, "short", truncateCmdString("short", 10))
	assert.Equal(t, "abcdefg...", truncateCmdString("abcdefghijkl", 10))
}
