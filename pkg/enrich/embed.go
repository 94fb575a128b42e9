package enrich

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// maxEmbeddingTextLen caps the text sent to the embedding API.
const maxEmbeddingTextLen = 30000

// Embedder generates and stores document embeddings in batches, using the
// same pool and client as the enrichment engine.
type Embedder struct {
	engine *Engine
	model  string
}

// NewEmbedder wraps an engine for embedding generation. model is recorded
// alongside every stored vector.
func NewEmbedder(engine *Engine, model string) *Embedder {
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &Embedder{engine: engine, model: model}
}

// BuildEmbeddingText renders the text embedded for one document.
func BuildEmbeddingText(subject, custodian, body string) string {
	text := fmt.Sprintf("Subject: %s\n\nFrom: %s\n\n%s", subject, custodian, body)
	if len(text) > maxEmbeddingTextLen {
		text = text[:maxEmbeddingTextLen]
	}
	return text
}

// GenerateBatch embeds up to batchSize documents with NULL embeddings and
// stores the vectors. Returns the number embedded; zero means the backlog is
// empty.
func (em *Embedder) GenerateBatch(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	rows, err := em.engine.pool.Query(ctx, `
		SELECT d.document_id, COALESCE(d.subject, ''), COALESCE(d.body_text, ''),
		       c.identifier
		FROM documents d
		JOIN custodians c ON c.id = d.custodian_id
		WHERE d.embedding IS NULL
		ORDER BY d.collected_at
		LIMIT $1`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("%w: listing unembedded documents: %v", apperrors.ErrStorage, err)
	}

	var (
		ids   []string
		texts []string
	)
	for rows.Next() {
		var row documentRow
		if err := rows.Scan(&row.DocumentID, &row.Subject, &row.Body, &row.Custodian); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%w: scanning document: %v", apperrors.ErrStorage, err)
		}
		ids = append(ids, row.DocumentID)
		texts = append(texts, BuildEmbeddingText(row.Subject, row.Custodian, row.Body))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("%w: iterating documents: %v", apperrors.ErrStorage, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	vectors, err := em.engine.client.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	stored := 0
	for i, id := range ids {
		if len(vectors[i]) != EmbeddingDimensions {
			em.engine.log.Warn("unexpected embedding dimension, skipping",
				logging.F("document_id", id),
				logging.F("dimensions", len(vectors[i])))
			continue
		}
		if _, err := em.engine.pool.Exec(ctx, `
			UPDATE documents
			SET embedding = $2::vector,
			    embedding_model = $3,
			    embedding_generated_at = CURRENT_TIMESTAMP
			WHERE document_id = $1`,
			id, embeddingLiteral(vectors[i]), em.model,
		); err != nil {
			return stored, fmt.Errorf("%w: storing embedding for %s: %v", apperrors.ErrStorage, id, err)
		}
		stored++
		embeddingsGenerated.Inc()
	}

	em.engine.log.Info("embedding batch complete",
		logging.F("embedded", stored),
		logging.F("model", em.model))
	return stored, nil
}

// EmbedQuery embeds a single search query string.
func (em *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := em.engine.client.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embeddingLiteral renders a vector as a pgvector input literal.
func embeddingLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
