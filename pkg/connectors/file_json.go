package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/evidify/evidify-cli/config"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// emailFile is the on-disk JSON shape for file-based email corpora.
type emailFile struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Date    string `json:"date"`
}

// FileJSONConnector reads JSON email files from a directory, one document per
// file. Malformed files are skipped with a warning; a single bad file never
// aborts the fetch.
type FileJSONConnector struct {
	name           string
	directory      string
	idPrefix       string
	dataset        string
	executiveNames []string
	log            logging.Logger
}

// NewFileJSONConnector builds a file-based connector.
//
// Params:
//   - directory: path containing *.json email files (required)
//   - id_prefix: document id prefix (default: "doc")
//   - dataset: dataset label recorded in metadata
//   - executive_names: substrings of custodian emails tagged as executives
func NewFileJSONConnector(cfg config.ConnectorConfig, log logging.Logger) (SourceConnector, error) {
	directory := cfg.Params.String("directory")
	if directory == "" {
		return nil, fmt.Errorf("%w: connector %q: directory param is required", apperrors.ErrConfig, cfg.Name)
	}

	idPrefix := cfg.Params.String("id_prefix")
	if idPrefix == "" {
		idPrefix = "doc"
	}

	return &FileJSONConnector{
		name:           cfg.Name,
		directory:      directory,
		idPrefix:       idPrefix,
		dataset:        cfg.Params.String("dataset"),
		executiveNames: cfg.Params.StringSlice("executive_names"),
		log:            log,
	}, nil
}

// Name returns the connector instance name.
func (c *FileJSONConnector) Name() string { return c.name }

// Fetch reads every *.json file in the directory in sorted order.
func (c *FileJSONConnector) Fetch(ctx context.Context) ([]*evidence.Document, error) {
	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return nil, fmt.Errorf("reading source directory %s: %w", c.directory, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	c.log.Info("found email files to ingest",
		logging.F("connector", c.name),
		logging.F("count", len(files)))

	documents := make([]*evidence.Document, 0, len(files))
	for _, name := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		path := filepath.Join(c.directory, name)
		doc, err := c.loadFile(path, name)
		if err != nil {
			c.log.Warn("skipping malformed email file",
				logging.F("file", path),
				logging.Err(err))
			continue
		}
		documents = append(documents, doc)
	}

	return documents, nil
}

func (c *FileJSONConnector) loadFile(path, name string) (*evidence.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var email emailFile
	if err := json.Unmarshal(data, &email); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
	}

	collectedAt := time.Now().UTC()
	if email.Date != "" {
		if ts, err := time.Parse("2006-01-02", email.Date); err == nil {
			collectedAt = ts.UTC()
		}
	}

	sender := strings.ToLower(strings.TrimSpace(email.From))
	if sender == "" {
		sender = "unknown@unknown"
	}
	identifier := sender
	if at := strings.Index(sender, "@"); at > 0 {
		identifier = sender[:at]
	}
	displayName := titleCase(strings.ReplaceAll(identifier, ".", " "))

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	doc := evidence.NewDocument(
		fmt.Sprintf("%s-%s", c.idPrefix, stem),
		c.name,
		collectedAt,
		evidence.Custodian{
			Identifier:  identifier,
			DisplayName: displayName,
			Email:       sender,
		},
	)

	doc.Subject = email.Subject
	if doc.Subject == "" {
		doc.Subject = "No Subject"
	}
	doc.BodyText = email.Body
	doc.SetMetadata("from", email.From)
	doc.SetMetadata("to", email.To)
	doc.SetMetadata("date", email.Date)
	if c.dataset != "" {
		doc.SetMetadata("dataset", c.dataset)
	}
	doc.SetMetadata("custodian_type", c.custodianType(sender))
	doc.AddCustodyEvent(c.name, evidence.ActionCollected, map[string]string{
		"path": path,
	})

	return doc, nil
}

func (c *FileJSONConnector) custodianType(email string) string {
	for _, name := range c.executiveNames {
		if name != "" && strings.Contains(email, strings.ToLower(name)) {
			return "executive"
		}
	}
	return "employee"
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
