package enrich

import (
	"context"
	"fmt"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
)

// HotDocumentThreshold is the relevance score at and above which a document
// is considered hot.
const HotDocumentThreshold = 70

// privilegeRiskThreshold marks documents counted as potentially privileged.
const privilegeRiskThreshold = 40

// HotDocument is one high-relevance entry in the report.
type HotDocument struct {
	DocumentID     string
	Subject        string
	RelevanceScore int
	Classification string
}

// Report summarizes the enrichment state of the corpus.
type Report struct {
	TotalAnalyzed    int64
	ByClassification map[string]int64
	AverageRelevance float64
	PrivilegedCount  int64
	HotDocuments     []HotDocument
}

// BuildReport queries enrichment aggregates.
func (e *Engine) BuildReport(ctx context.Context) (*Report, error) {
	report := &Report{ByClassification: make(map[string]int64)}

	err := e.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(relevance_score), 0),
		       COUNT(*) FILTER (WHERE privilege_risk >= $1)
		FROM ai_analysis`, privilegeRiskThreshold,
	).Scan(&report.TotalAnalyzed, &report.AverageRelevance, &report.PrivilegedCount)
	if err != nil {
		return nil, fmt.Errorf("%w: reading report totals: %v", apperrors.ErrStorage, err)
	}

	rows, err := e.pool.Query(ctx, `
		SELECT classification, COUNT(*)
		FROM ai_analysis
		GROUP BY classification`)
	if err != nil {
		return nil, fmt.Errorf("%w: reading classification counts: %v", apperrors.ErrStorage, err)
	}
	for rows.Next() {
		var classification string
		var count int64
		if err := rows.Scan(&classification, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scanning classification count: %v", apperrors.ErrStorage, err)
		}
		report.ByClassification[classification] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating classification counts: %v", apperrors.ErrStorage, err)
	}

	rows, err = e.pool.Query(ctx, `
		SELECT a.document_id, COALESCE(d.subject, ''), a.relevance_score, a.classification
		FROM ai_analysis a
		JOIN documents d ON d.document_id = a.document_id
		WHERE a.relevance_score >= $1
		ORDER BY a.relevance_score DESC
		LIMIT 5`, HotDocumentThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: reading hot documents: %v", apperrors.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var hot HotDocument
		if err := rows.Scan(&hot.DocumentID, &hot.Subject, &hot.RelevanceScore, &hot.Classification); err != nil {
			return nil, fmt.Errorf("%w: scanning hot document: %v", apperrors.ErrStorage, err)
		}
		report.HotDocuments = append(report.HotDocuments, hot)
	}
	return report, rows.Err()
}
