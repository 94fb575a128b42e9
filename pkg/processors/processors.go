// Package processors implements the enrichment stages that run between
// collection and persistence. Each processor transforms a whole batch;
// the chain is assembled from configuration so disabled stages never
// exist at runtime.
package processors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/evidify/evidify-cli/config"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// Processor transforms a batch of documents. Implementations may drop
// documents (deduplication) or mutate them in place (analysis, tagging),
// but must never reorder the surviving documents.
type Processor interface {
	// Name identifies the processor in logs and custody events.
	Name() string

	// Process transforms the batch and returns the surviving documents.
	Process(ctx context.Context, docs []*evidence.Document) ([]*evidence.Document, error)
}

// BuildChain assembles the processor chain from the processing toggles, in
// fixed order: deduplication, file analysis, OCR, entity extraction,
// privilege detection. File analysis always runs.
func BuildChain(cfg config.ProcessingConfig, log logging.Logger) []Processor {
	var chain []Processor
	if cfg.EnableDeduplication {
		chain = append(chain, NewDeduplicator(log))
	}
	chain = append(chain, NewFileAnalysisProcessor(log))
	if cfg.EnableOCR {
		chain = append(chain, &ocrProcessor{})
	}
	if cfg.EnableEntityExtraction {
		chain = append(chain, &entityProcessor{})
	}
	if cfg.EnablePrivilegeDetection {
		chain = append(chain, &privilegeProcessor{})
	}
	return chain
}

// Deduplicator drops documents whose content hash was already seen, keeping
// the first occurrence. Seen hashes span Process calls, so duplicates
// collected by different connectors in the same run are dropped too. The
// hash covers subject and body only; collection metadata does not affect
// identity.
type Deduplicator struct {
	log  logging.Logger
	seen map[string]string
}

// NewDeduplicator returns a deduplicator scoped to one ingestion run.
func NewDeduplicator(log logging.Logger) *Deduplicator {
	return &Deduplicator{log: log, seen: make(map[string]string)}
}

// Name implements Processor.
func (d *Deduplicator) Name() string { return "deduplication" }

// ContentHash computes the document identity hash: SHA-256 over the subject
// concatenated with the body.
func ContentHash(doc *evidence.Document) string {
	h := sha256.New()
	h.Write([]byte(doc.Subject))
	h.Write([]byte(doc.BodyText))
	return hex.EncodeToString(h.Sum(nil))
}

// Process records each document's content hash in metadata and drops
// later duplicates.
func (d *Deduplicator) Process(ctx context.Context, docs []*evidence.Document) ([]*evidence.Document, error) {
	unique := make([]*evidence.Document, 0, len(docs))

	for _, doc := range docs {
		hash := ContentHash(doc)
		doc.SetMetadata("hash_sha256", hash)

		if original, dup := d.seen[hash]; dup {
			d.log.Info("dropping duplicate document",
				logging.F("document_id", doc.DocumentID),
				logging.F("duplicate_of", original))
			continue
		}
		d.seen[hash] = doc.DocumentID
		unique = append(unique, doc)
	}

	if dropped := len(docs) - len(unique); dropped > 0 {
		d.log.Info("deduplication complete",
			logging.F("input", len(docs)),
			logging.F("dropped", dropped))
	}
	return unique, nil
}

// ocrProcessor is a placeholder for text extraction from images and scanned
// PDFs. It marks documents so downstream review knows OCR has not run.
type ocrProcessor struct{}

func (p *ocrProcessor) Name() string { return "ocr" }

func (p *ocrProcessor) Process(ctx context.Context, docs []*evidence.Document) ([]*evidence.Document, error) {
	for _, doc := range docs {
		doc.SetMetadata("ocr_status", "not_implemented")
	}
	return docs, nil
}

// entityProcessor is a placeholder for named-entity extraction.
type entityProcessor struct{}

func (p *entityProcessor) Name() string { return "entity_extraction" }

func (p *entityProcessor) Process(ctx context.Context, docs []*evidence.Document) ([]*evidence.Document, error) {
	for _, doc := range docs {
		if _, ok := doc.Metadata["entities"]; !ok {
			doc.SetMetadata("entities", "[]")
		}
	}
	return docs, nil
}

// privilegeProcessor is a placeholder for attorney-client privilege scoring.
type privilegeProcessor struct{}

func (p *privilegeProcessor) Name() string { return "privilege_detection" }

func (p *privilegeProcessor) Process(ctx context.Context, docs []*evidence.Document) ([]*evidence.Document, error) {
	for _, doc := range docs {
		if _, ok := doc.Metadata["privilege_score"]; !ok {
			doc.SetMetadata("privilege_score", "0.0")
		}
	}
	return docs, nil
}
