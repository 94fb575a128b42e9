package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// PostgresStore indexes documents in Postgres for full-text and vector
// search. A batch is indexed in a single transaction covering, for
// every document, the custodian upsert, the document upsert, attachment
// replacement, and custody event insertion.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logging.Logger
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool, log logging.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, log: log}
}

// BulkIndex implements MetadataStore. The batch commits atomically: any
// failure rolls back every document, so the index never reflects a partial
// batch.
func (s *PostgresStore) BulkIndex(ctx context.Context, docs []*evidence.Document) (IndexResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return IndexResult{Failed: len(docs)},
			fmt.Errorf("%w: beginning transaction: %v", apperrors.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	for _, doc := range docs {
		if err := s.indexOne(ctx, tx, doc); err != nil {
			s.log.Error("failed to index document, rolling back batch",
				logging.F("document_id", doc.DocumentID),
				logging.Err(err))
			return IndexResult{Failed: len(docs)}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return IndexResult{Failed: len(docs)},
			fmt.Errorf("%w: committing batch: %v", apperrors.ErrStorage, err)
	}

	s.log.Info("bulk index complete", logging.F("indexed", len(docs)))
	return IndexResult{Indexed: len(docs)}, nil
}

func (s *PostgresStore) indexOne(ctx context.Context, tx pgx.Tx, doc *evidence.Document) error {
	var custodianID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO custodians (identifier, display_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (identifier) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), custodians.display_name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), custodians.email)
		RETURNING id`,
		doc.Custodian.Identifier, doc.Custodian.DisplayName, doc.Custodian.Email,
	).Scan(&custodianID)
	if err != nil {
		return fmt.Errorf("%w: upserting custodian: %v", apperrors.ErrStorage, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("%w: serializing metadata: %v", apperrors.ErrStorage, err)
	}

	var documentID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO documents
			(document_id, source, collected_at, custodian_id, subject, body_text,
			 raw_path, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_id) DO UPDATE SET
			source = EXCLUDED.source,
			collected_at = EXCLUDED.collected_at,
			custodian_id = EXCLUDED.custodian_id,
			subject = EXCLUDED.subject,
			body_text = EXCLUDED.body_text,
			raw_path = EXCLUDED.raw_path,
			metadata_json = EXCLUDED.metadata_json,
			indexed_at = CURRENT_TIMESTAMP
		RETURNING id`,
		doc.DocumentID, doc.Source, doc.CollectedAt, custodianID,
		doc.Subject, doc.BodyText, doc.RawPath, metadataJSON,
	).Scan(&documentID)
	if err != nil {
		return fmt.Errorf("%w: upserting document: %v", apperrors.ErrStorage, err)
	}

	// Attachments are replaced wholesale so re-ingestion converges.
	if _, err := tx.Exec(ctx,
		`DELETE FROM attachments WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("%w: clearing attachments: %v", apperrors.ErrStorage, err)
	}
	for _, att := range doc.Attachments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO attachments
				(document_id, filename, content_type, size_bytes, checksum_sha256,
				 file_category, data_quality, quality_details, md5, detected_mime,
				 is_processable)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			documentID, att.Filename, att.ContentType, att.SizeBytes,
			att.ChecksumSHA256, att.FileCategory, att.DataQuality,
			att.QualityDetails, att.MD5, att.DetectedMIME, att.IsProcessable,
		); err != nil {
			return fmt.Errorf("%w: inserting attachment %s: %v", apperrors.ErrStorage, att.Filename, err)
		}
	}

	// The uniqueness constraint keeps re-ingested chains from duplicating.
	for _, event := range doc.ChainOfCustody {
		eventMeta, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("%w: serializing custody metadata: %v", apperrors.ErrStorage, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO custody_events
				(document_id, event_timestamp, actor, action, metadata_json)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (document_id, event_timestamp, actor, action) DO NOTHING`,
			documentID, event.Timestamp, event.Actor, event.Action, eventMeta,
		); err != nil {
			return fmt.Errorf("%w: inserting custody event: %v", apperrors.ErrStorage, err)
		}
	}
	return nil
}

// vectorLiteral renders an embedding as a pgvector input literal.
func vectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// buildSearchSQL assembles the search statement and its arguments. Vector
// queries rank purely by cosine similarity (1 - cosine distance); text-only
// queries rank by ts_rank.
func buildSearchSQL(q SearchQuery) (string, []interface{}) {
	var (
		args  []interface{}
		where []string
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	var scoreExpr, orderExpr string
	switch {
	case len(q.Embedding) > 0:
		vec := arg(vectorLiteral(q.Embedding))
		scoreExpr = fmt.Sprintf("1 - (d.embedding <=> %s::vector)", vec)
		orderExpr = "score DESC, d.collected_at DESC"
		where = append(where, "d.embedding IS NOT NULL")
	case q.Text != "":
		ts := arg(q.Text)
		scoreExpr = fmt.Sprintf("ts_rank(d.search_vector, plainto_tsquery('english', %s))", ts)
		orderExpr = "score DESC, d.collected_at DESC"
		where = append(where, fmt.Sprintf("d.search_vector @@ plainto_tsquery('english', %s)", ts))
	default:
		scoreExpr = "0"
		orderExpr = "COALESCE(r.user_relevance_score, a.relevance_score, 0) DESC, d.collected_at DESC"
	}

	f := q.Filters
	if f.Source != "" {
		where = append(where, "d.source = "+arg(f.Source))
	}
	if f.CustodianID != "" {
		where = append(where, "c.identifier = "+arg(f.CustodianID))
	}
	if f.Classification != "" {
		where = append(where, "a.classification = "+arg(f.Classification))
	}
	if f.MinRelevance > 0 {
		where = append(where, "a.relevance_score >= "+arg(f.MinRelevance))
	}
	if !f.DateFrom.IsZero() {
		where = append(where, "d.collected_at >= "+arg(f.DateFrom))
	}
	if !f.DateTo.IsZero() {
		where = append(where, "d.collected_at <= "+arg(f.DateTo))
	}
	if f.FileCategory != "" {
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM attachments att WHERE att.document_id = d.id AND att.file_category = %s)",
			arg(f.FileCategory)))
	}
	if f.DataQuality != "" {
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM attachments att WHERE att.document_id = d.id AND att.data_quality = %s)",
			arg(f.DataQuality)))
	}
	if f.ReviewStatus != "" {
		where = append(where, "r.review_status = "+arg(f.ReviewStatus))
	}
	if len(f.Tags) > 0 {
		where = append(where, fmt.Sprintf(
			"d.document_id IN (SELECT document_id FROM user_tags WHERE tag_name = ANY(%s))",
			arg(f.Tags)))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	sql := fmt.Sprintf(`
		SELECT d.document_id, d.subject, LEFT(d.body_text, 300), d.source,
		       c.identifier, d.collected_at, %s AS score,
		       COALESCE(a.classification, ''), COALESCE(a.relevance_score, 0),
		       COALESCE(r.review_status, ''),
		       COALESCE(t.tags, '{}')
		FROM documents d
		JOIN custodians c ON c.id = d.custodian_id
		LEFT JOIN ai_analysis a ON a.document_id = d.document_id
		LEFT JOIN user_review r ON r.document_id = d.document_id
		LEFT JOIN LATERAL (
			SELECT ARRAY_AGG(tag_name ORDER BY tag_name) AS tags
			FROM user_tags WHERE document_id = d.document_id
		) t ON true`, scoreExpr)

	if len(where) > 0 {
		sql += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	sql += fmt.Sprintf("\n\t\tORDER BY %s\n\t\tLIMIT %s", orderExpr, arg(limit))

	return sql, args
}

// Search implements MetadataStore. When a vector query fails on the
// embedding column (extension absent, no embedded rows), it falls back to
// text rank rather than surfacing the error.
func (s *PostgresStore) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	sql, args := buildSearchSQL(query)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil && len(query.Embedding) > 0 && query.Text != "" {
		s.log.Warn("vector search failed, falling back to text rank", logging.Err(err))
		fallback := query
		fallback.Embedding = nil
		sql, args = buildSearchSQL(fallback)
		rows, err = s.pool.Query(ctx, sql, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: executing search: %v", apperrors.ErrStorage, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.DocumentID, &r.Subject, &r.Snippet, &r.Source,
			&r.CustodianID, &r.CollectedAt, &r.Score, &r.Classification,
			&r.RelevanceScore, &r.ReviewStatus, &r.Tags); err != nil {
			return nil, fmt.Errorf("%w: scanning search row: %v", apperrors.ErrStorage, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating search rows: %v", apperrors.ErrStorage, err)
	}
	return results, nil
}

// DocumentsByCustodian implements MetadataStore.
func (s *PostgresStore) DocumentsByCustodian(ctx context.Context, custodianID string, limit int) ([]DocumentSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT d.document_id, d.subject, d.source, d.collected_at,
		       (SELECT COUNT(*) FROM attachments a WHERE a.document_id = d.id)
		FROM documents d
		JOIN custodians c ON c.id = d.custodian_id
		WHERE c.identifier = $1
		ORDER BY d.collected_at DESC
		LIMIT $2`, custodianID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing custodian documents: %v", apperrors.ErrStorage, err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		if err := rows.Scan(&d.DocumentID, &d.Subject, &d.Source, &d.CollectedAt, &d.Attachments); err != nil {
			return nil, fmt.Errorf("%w: scanning document row: %v", apperrors.ErrStorage, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Stats implements MetadataStore.
func (s *PostgresStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{DocumentsBySource: make(map[string]int64)}

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM custodians),
			(SELECT COUNT(*) FROM attachments),
			(SELECT COUNT(*) FROM custody_events),
			(SELECT COUNT(*) FROM ai_analysis),
			(SELECT COUNT(*) FROM user_review WHERE is_reviewed),
			(SELECT COUNT(*) FROM documents WHERE embedding IS NOT NULL),
			(SELECT COALESCE(MIN(collected_at), 'epoch'::timestamptz) FROM documents),
			(SELECT COALESCE(MAX(collected_at), 'epoch'::timestamptz) FROM documents)`,
	).Scan(&stats.Documents, &stats.Custodians, &stats.Attachments,
		&stats.CustodyEvents, &stats.AnalyzedDocuments, &stats.ReviewedDocuments,
		&stats.EmbeddedDocuments, &stats.EarliestCollection, &stats.LatestCollection)
	if err != nil {
		return nil, fmt.Errorf("%w: reading stats: %v", apperrors.ErrStorage, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source, COUNT(*) FROM documents GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("%w: reading source stats: %v", apperrors.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("%w: scanning source stats: %v", apperrors.ErrStorage, err)
		}
		stats.DocumentsBySource[source] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating source stats: %v", apperrors.ErrStorage, err)
	}

	custRows, err := s.pool.Query(ctx, `
		SELECT c.identifier, COUNT(*)
		FROM documents d
		JOIN custodians c ON c.id = d.custodian_id
		GROUP BY c.identifier
		ORDER BY COUNT(*) DESC
		LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("%w: reading custodian stats: %v", apperrors.ErrStorage, err)
	}
	defer custRows.Close()

	for custRows.Next() {
		var cc CustodianCount
		if err := custRows.Scan(&cc.Identifier, &cc.Documents); err != nil {
			return nil, fmt.Errorf("%w: scanning custodian stats: %v", apperrors.ErrStorage, err)
		}
		stats.TopCustodians = append(stats.TopCustodians, cc)
	}
	return stats, custRows.Err()
}

// Count implements MetadataStore.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting documents: %v", apperrors.ErrStorage, err)
	}
	return count, nil
}

// GetDocument fetches one document row by business key.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (*DocumentSummary, error) {
	var d DocumentSummary
	err := s.pool.QueryRow(ctx, `
		SELECT d.document_id, d.subject, d.source, d.collected_at,
		       (SELECT COUNT(*) FROM attachments a WHERE a.document_id = d.id)
		FROM documents d
		WHERE d.document_id = $1`, documentID,
	).Scan(&d.DocumentID, &d.Subject, &d.Source, &d.CollectedAt, &d.Attachments)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: document %s", apperrors.ErrNotFound, documentID)
		}
		return nil, fmt.Errorf("%w: fetching document: %v", apperrors.ErrStorage, err)
	}
	return &d, nil
}
