package processors

import (
	"context"
	"fmt"
	"strings"

	"github.com/evidify/evidify-cli/pkg/analyzer"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// FileAnalysisStats summarizes one processing run.
type FileAnalysisStats struct {
	AttachmentsAnalyzed int
	Valid               int
	Corrupted           int
	Encrypted           int
	InvalidFormat       int
	Suspicious          int

	// IntegrityFailures counts documents dropped because a declared
	// attachment checksum did not match the payload.
	IntegrityFailures int
}

// FileAnalysisProcessor runs magic-byte analysis over every attachment
// payload and records the verdict on the attachment itself: detected MIME,
// category, quality, hashes, and processability. A checksum declared at
// collection time is verified against the recomputed hash. Encrypted
// attachments are flagged, never decrypted.
type FileAnalysisProcessor struct {
	analyzer *analyzer.Analyzer
	log      logging.Logger

	lastRun FileAnalysisStats
}

// NewFileAnalysisProcessor returns the attachment analysis stage.
func NewFileAnalysisProcessor(log logging.Logger) *FileAnalysisProcessor {
	return &FileAnalysisProcessor{
		analyzer: analyzer.New(),
		log:      log,
	}
}

// Name implements Processor.
func (p *FileAnalysisProcessor) Name() string { return "file_analysis" }

// LastRunStats returns the counters from the most recent Process call.
func (p *FileAnalysisProcessor) LastRunStats() FileAnalysisStats { return p.lastRun }

// Process analyzes every attachment in the batch. Attachments without a
// payload (metadata-only collections) are left untouched. A document whose
// attachment carries a declared checksum that does not match the payload is
// dropped from the batch: tampered or truncated evidence must never reach
// the stores.
func (p *FileAnalysisProcessor) Process(ctx context.Context, docs []*evidence.Document) ([]*evidence.Document, error) {
	var stats FileAnalysisStats
	kept := make([]*evidence.Document, 0, len(docs))

	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var integrityErr error
		for i := range doc.Attachments {
			att := &doc.Attachments[i]
			if att.Payload == nil {
				continue
			}

			analysis := p.analyzer.AnalyzeBytes(att.Filename, att.Payload)

			if att.ChecksumSHA256 != "" && !strings.EqualFold(att.ChecksumSHA256, analysis.SHA256Hash) {
				integrityErr = fmt.Errorf("%w: attachment %s declared sha256 %s, payload hashes to %s",
					apperrors.ErrIntegrity, att.Filename, att.ChecksumSHA256, analysis.SHA256Hash)
				break
			}

			att.FileCategory = string(analysis.Category)
			att.DataQuality = string(analysis.Quality)
			att.QualityDetails = analysis.QualityDetails
			att.MD5 = analysis.MD5Hash
			att.DetectedMIME = analysis.DetectedMIME
			att.IsProcessable = analysis.IsProcessable
			att.ChecksumSHA256 = analysis.SHA256Hash

			stats.AttachmentsAnalyzed++
			switch analysis.Quality {
			case analyzer.QualityValid:
				stats.Valid++
			case analyzer.QualityCorrupted:
				stats.Corrupted++
			case analyzer.QualityEncrypted:
				stats.Encrypted++
				p.log.Warn("encrypted attachment flagged for manual review",
					logging.F("document_id", doc.DocumentID),
					logging.F("filename", att.Filename))
			case analyzer.QualityInvalidFormat:
				stats.InvalidFormat++
			case analyzer.QualitySuspicious:
				stats.Suspicious++
			}
		}

		if integrityErr != nil {
			stats.IntegrityFailures++
			p.log.Error("checksum mismatch, dropping document",
				logging.F("document_id", doc.DocumentID),
				logging.Err(integrityErr))
			continue
		}
		kept = append(kept, doc)
	}

	p.lastRun = stats
	p.log.Info("file analysis complete",
		logging.F("attachments", stats.AttachmentsAnalyzed),
		logging.F("valid", stats.Valid),
		logging.F("corrupted", stats.Corrupted),
		logging.F("encrypted", stats.Encrypted),
		logging.F("invalid_format", stats.InvalidFormat),
		logging.F("suspicious", stats.Suspicious),
		logging.F("integrity_failures", stats.IntegrityFailures))

	return kept, nil
}
