package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/logging"
)

const (
	// DefaultWorkers is the pool size when configuration does not set one.
	DefaultWorkers = 5

	// MaxWorkers is the hard cap on the pool size.
	MaxWorkers = 10

	reviewNotesSeparator = "\n\n--- Custom AI Analysis ---\n\n"
	reviewNotesPrefix    = "Custom Analysis:\n"
)

// reviewNoteText renders the note appended to a document's review record:
// the prefix followed by the complete model response, so reviewers see
// everything the model said, not just the parsed sections.
func reviewNoteText(result AnalysisResult) string {
	return reviewNotesPrefix + result.RawResponse
}

// Engine runs enrichment jobs: a bounded worker pool pulls documents, calls
// the LLM, and writes the analysis, the review record, and tags back in a
// single transaction per document.
type Engine struct {
	pool     *pgxpool.Pool
	client   LLMClient
	registry *Registry
	workers  int
	log      logging.Logger
}

// NewEngine assembles the enrichment engine. workers 0 selects
// DefaultWorkers; values above MaxWorkers are clamped.
func NewEngine(pool *pgxpool.Pool, client LLMClient, registry *Registry, workers int, log logging.Logger) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	return &Engine{
		pool:     pool,
		client:   client,
		registry: registry,
		workers:  workers,
		log:      log,
	}
}

// Registry exposes the job registry for status queries.
func (e *Engine) Registry() *Registry { return e.registry }

// PendingDocumentIDs returns documents that have no analysis yet, oldest
// first.
func (e *Engine) PendingDocumentIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := e.pool.Query(ctx, `
		SELECT d.document_id
		FROM documents d
		LEFT JOIN ai_analysis a ON a.document_id = d.document_id
		WHERE a.id IS NULL
		ORDER BY d.collected_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing pending documents: %v", apperrors.ErrStorage, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scanning pending document: %v", apperrors.ErrStorage, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RunJob executes one job to completion and returns the final progress.
// Workers run concurrently up to the pool bound; results arrive in
// completion order.
func (e *Engine) RunJob(ctx context.Context, job Job) (Progress, error) {
	ctx = context.WithValue(ctx, logging.JobIDKey, job.ID)
	log := e.log.WithContext(ctx)
	log.Info("enrichment job starting",
		logging.F("documents", len(job.DocumentIDs)),
		logging.F("workers", e.workers))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)

	for _, docID := range job.DocumentIDs {
		docID := docID
		group.Go(func() error {
			e.processDocument(groupCtx, job, docID)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Progress{}, err
	}

	e.registry.Update(job.ID, func(p *Progress) {
		p.Completed = true
		p.CurrentDocument = ""
		p.CurrentSubject = ""
	})

	progress, _ := e.registry.Get(job.ID)
	log.Info("enrichment job complete",
		logging.F("processed", progress.Processed),
		logging.F("results", len(progress.Results)))
	return progress, nil
}

// documentRow is the slice of a document the engine analyzes.
type documentRow struct {
	DocumentID string
	Subject    string
	Body       string
	Custodian  string
}

func (e *Engine) fetchDocument(ctx context.Context, documentID string) (*documentRow, error) {
	var row documentRow
	err := e.pool.QueryRow(ctx, `
		SELECT d.document_id, COALESCE(d.subject, ''), COALESCE(d.body_text, ''),
		       c.identifier
		FROM documents d
		JOIN custodians c ON c.id = d.custodian_id
		WHERE d.document_id = $1`, documentID,
	).Scan(&row.DocumentID, &row.Subject, &row.Body, &row.Custodian)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: document %s", apperrors.ErrNotFound, documentID)
		}
		return nil, fmt.Errorf("%w: fetching document: %v", apperrors.ErrStorage, err)
	}
	return &row, nil
}

// processDocument runs the per-document procedure. Failures are recorded in
// progress; they never abort the job.
func (e *Engine) processDocument(ctx context.Context, job Job, documentID string) {
	log := e.log.WithContext(ctx)

	doc, err := e.fetchDocument(ctx, documentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Warn("document missing, skipping", logging.F("document_id", documentID))
		} else {
			log.Error("failed to fetch document",
				logging.F("document_id", documentID), logging.Err(err))
		}
		e.markProcessed(job.ID, documentID, "")
		return
	}

	e.registry.Update(job.ID, func(p *Progress) {
		p.CurrentDocument = doc.DocumentID
		p.CurrentSubject = doc.Subject
	})

	system := BuildAnalysisPrompt(job.Prompt)
	content := BuildDocumentContent(doc.Subject, doc.Custodian, doc.Body)

	response, err := e.client.Complete(ctx, system, content)
	if err != nil {
		documentsFailed.Inc()
		log.Error("LLM call failed",
			logging.F("document_id", documentID), logging.Err(err))
		e.markProcessed(job.ID, documentID, doc.Subject)
		return
	}

	result, parseErr := ParseAnalysis(documentID, response)
	if parseErr != nil {
		parseFailures.Inc()
		log.Warn("response parse failed, writing defaults",
			logging.F("document_id", documentID), logging.Err(parseErr))
	}

	if err := e.writeAnalysis(ctx, result, job.Options.CreateTags); err != nil {
		documentsFailed.Inc()
		log.Error("failed to write analysis",
			logging.F("document_id", documentID), logging.Err(err))
		e.markProcessed(job.ID, documentID, doc.Subject)
		return
	}
	documentsProcessed.Inc()

	var redaction *Redaction
	if job.Options.RedactionMode {
		redaction = e.redact(ctx, job, doc)
	}

	e.registry.Update(job.ID, func(p *Progress) {
		p.Processed++
		p.Results = append(p.Results, result)
		if redaction != nil {
			p.Redactions = append(p.Redactions, *redaction)
		}
	})
}

func (e *Engine) markProcessed(jobID, documentID, subject string) {
	e.registry.Update(jobID, func(p *Progress) {
		p.Processed++
		p.CurrentDocument = documentID
		p.CurrentSubject = subject
	})
}

// redact issues the redaction second pass. Redacted text is stored only in
// the job record.
func (e *Engine) redact(ctx context.Context, job Job, doc *documentRow) *Redaction {
	prompt := job.Options.RedactionPrompt
	if prompt == "" {
		prompt = "Redact personally identifying and privileged content from the following document."
	}
	prompt += "\n\nRespond in exactly this format:\nREDACTION_SUMMARY: <what was redacted>\nREDACTED_SUBJECT: <subject>\nREDACTED_BODY: <body>"

	response, err := e.client.Complete(ctx, prompt,
		BuildDocumentContent(doc.Subject, doc.Custodian, doc.Body))
	if err != nil {
		e.log.Error("redaction call failed",
			logging.F("document_id", doc.DocumentID), logging.Err(err))
		return nil
	}

	redaction := ParseRedaction(doc.DocumentID, response)
	return &redaction
}

// writeAnalysis persists one result: analysis upsert, the review-record
// append of the full model response, and tag creation, all in one
// transaction so a crash never leaves a document half-enriched.
func (e *Engine) writeAnalysis(ctx context.Context, result AnalysisResult, createTags bool) error {
	topicsJSON, err := json.Marshal(result.Topics)
	if err != nil {
		return fmt.Errorf("%w: serializing topics: %v", apperrors.ErrStorage, err)
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", apperrors.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	summary := result.KeyFindings
	if summary == "" {
		summary = truncateText(result.Analysis, 500)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ai_analysis
			(document_id, summary, entities, relevance_score, classification,
			 privilege_risk, topics, action_items, analyzed_at)
		VALUES ($1, $2, '[]'::jsonb, $3, $4, $5, $6, '[]'::jsonb, CURRENT_TIMESTAMP)
		ON CONFLICT (document_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			relevance_score = EXCLUDED.relevance_score,
			classification = EXCLUDED.classification,
			privilege_risk = EXCLUDED.privilege_risk,
			topics = EXCLUDED.topics,
			analyzed_at = EXCLUDED.analyzed_at`,
		result.DocumentID, summary, result.RelevanceScore, result.Classification,
		result.PrivilegeRisk, topicsJSON,
	); err != nil {
		return fmt.Errorf("%w: upserting analysis: %v", apperrors.ErrStorage, err)
	}

	// The complete response lands in the review record, appended to any
	// notes a reviewer already wrote.
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_review
			(document_id, review_status, review_notes, is_reviewed, reviewed_at)
		VALUES ($1, 'reviewed', $2, TRUE, CURRENT_TIMESTAMP)
		ON CONFLICT (document_id) DO UPDATE SET
			review_status = 'reviewed',
			is_reviewed = TRUE,
			reviewed_at = EXCLUDED.reviewed_at,
			review_notes = CASE
				WHEN user_review.review_notes IS NOT NULL AND user_review.review_notes <> ''
				THEN user_review.review_notes || $3 || EXCLUDED.review_notes
				ELSE EXCLUDED.review_notes
			END`,
		result.DocumentID, reviewNoteText(result), reviewNotesSeparator,
	); err != nil {
		return fmt.Errorf("%w: upserting review notes: %v", apperrors.ErrStorage, err)
	}

	if createTags {
		for _, tag := range DeriveTags(result) {
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_tags (document_id, tag_name)
				VALUES ($1, $2)
				ON CONFLICT (document_id, tag_name) DO NOTHING`,
				result.DocumentID, tag,
			); err != nil {
				return fmt.Errorf("%w: inserting tag %q: %v", apperrors.ErrStorage, tag, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing analysis: %v", apperrors.ErrStorage, err)
	}
	return nil
}

// RunWorker pulls pending documents in batches and enriches them. With once
// set it returns when the queue is empty; otherwise it sleeps and polls
// until the context is canceled. The next batch is not fetched until the
// current one completes.
func (e *Engine) RunWorker(ctx context.Context, once bool, batchSize int, sleep time.Duration) error {
	if sleep <= 0 {
		sleep = 30 * time.Second
	}

	for {
		ids, err := e.PendingDocumentIDs(ctx, batchSize)
		if err != nil {
			return err
		}

		if len(ids) == 0 {
			if once {
				e.log.Info("no pending documents, exiting")
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
				continue
			}
		}

		job := e.registry.StartJob(ids, "", JobOptions{CreateTags: true})
		if _, err := e.RunJob(ctx, job); err != nil {
			return err
		}

		if once {
			return nil
		}
	}
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
