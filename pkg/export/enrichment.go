package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
)

// enrichmentHeader is the fixed column order review platforms expect.
var enrichmentHeader = []string{
	"DocID",
	"AI_Responsive",
	"AI_Responsive_Confidence",
	"AI_Privileged",
	"AI_Privilege_Confidence",
	"AI_Privilege_Type",
	"AI_Classification",
	"AI_Topics",
	"Hot_Score",
	"AI_Sentiment",
	"AI_Entities",
	"Redaction_Suggestions",
	"Similar_Document_IDs",
}

// EnrichedRecord is one row of the enrichment export.
type EnrichedRecord struct {
	DocID                  string
	AIResponsive           string
	AIResponsiveConfidence float64
	AIPrivileged           string
	AIPrivilegeConfidence  float64
	AIPrivilegeType        string
	AIClassification       string
	AITopics               []string
	HotScore               int
	SimilarDocumentIDs     []string
}

// FromAnalysis converts stored analysis values to an export record.
// Responsiveness maps from classification (relevant→Yes, not-relevant→No,
// otherwise Maybe); confidences are the 0-100 scores scaled to 0-1; the hot
// score is the relevance score.
func FromAnalysis(docID string, relevance, privilegeRisk int, classification string, topics []string) EnrichedRecord {
	record := EnrichedRecord{
		DocID:                  docID,
		AIResponsiveConfidence: float64(relevance) / 100,
		AIPrivilegeConfidence:  float64(privilegeRisk) / 100,
		AIClassification:       classification,
		AITopics:               topics,
		HotScore:               relevance,
	}

	switch classification {
	case "relevant":
		record.AIResponsive = "Yes"
	case "not-relevant":
		record.AIResponsive = "No"
	default:
		record.AIResponsive = "Maybe"
	}

	if privilegeRisk >= 40 {
		record.AIPrivileged = "Yes"
		for _, topic := range topics {
			if topic == "Attorney-Client" {
				record.AIPrivilegeType = topic
			}
		}
	} else {
		record.AIPrivileged = "No"
	}

	return record
}

// EnrichmentExporter writes the CSV side-channel. The delimiter is pipe by
// default; thorn produces review-tool native load files.
type EnrichmentExporter struct {
	delimiter rune
}

// NewEnrichmentExporter builds an exporter for the named delimiter
// ("pipe" or "thorn"; empty selects pipe).
func NewEnrichmentExporter(delimiter string) (*EnrichmentExporter, error) {
	switch strings.ToLower(delimiter) {
	case "", "pipe":
		return &EnrichmentExporter{delimiter: '|'}, nil
	case "thorn":
		return &EnrichmentExporter{delimiter: ThornDelimiter}, nil
	default:
		return nil, fmt.Errorf("%w: unknown delimiter %q (want pipe or thorn)", apperrors.ErrConfig, delimiter)
	}
}

// WriteFile exports records to a file path.
func (e *EnrichmentExporter) WriteFile(path string, records []EnrichedRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating export file %s: %v", apperrors.ErrStorage, path, err)
	}
	defer f.Close()

	if err := e.Write(f, records); err != nil {
		return err
	}
	return f.Close()
}

// Write exports records with the fixed header. Confidence values are
// two-decimal floats; topics are semicolon-joined.
func (e *EnrichmentExporter) Write(w io.Writer, records []EnrichedRecord) error {
	writer := csv.NewWriter(w)
	writer.Comma = e.delimiter

	if err := writer.Write(enrichmentHeader); err != nil {
		return fmt.Errorf("%w: writing export header: %v", apperrors.ErrStorage, err)
	}

	for _, r := range records {
		row := []string{
			r.DocID,
			r.AIResponsive,
			formatConfidence(r.AIResponsive, r.AIResponsiveConfidence),
			r.AIPrivileged,
			formatConfidence(r.AIPrivileged, r.AIPrivilegeConfidence),
			r.AIPrivilegeType,
			r.AIClassification,
			strings.Join(r.AITopics, ";"),
			strconv.Itoa(r.HotScore),
			"", // AI_Sentiment
			"", // AI_Entities
			"", // Redaction_Suggestions
			strings.Join(r.SimilarDocumentIDs, ";"),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("%w: writing export row for %s: %v", apperrors.ErrStorage, r.DocID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("%w: flushing export: %v", apperrors.ErrStorage, err)
	}
	return nil
}

// formatConfidence renders a two-decimal confidence, empty when the verdict
// itself is absent.
func formatConfidence(verdict string, confidence float64) string {
	if verdict == "" {
		return ""
	}
	return strconv.FormatFloat(confidence, 'f', 2, 64)
}
