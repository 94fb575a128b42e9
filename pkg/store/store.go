// Package store implements the persistence layer: object stores hold
// immutable evidence blobs and sidecar metadata, the metadata store indexes
// documents in Postgres for search and review.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidify/evidify-cli/config"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// ObjectStore persists the raw evidence for one document: body, metadata
// sidecar, custody chain, and attachment payloads. Persist returns the
// storage key prefix the document was written under.
type ObjectStore interface {
	// Name identifies the store implementation in logs and custody events.
	Name() string

	// Persist writes the document and returns its storage location.
	Persist(ctx context.Context, doc *evidence.Document) (string, error)
}

// IndexResult summarizes one bulk indexing call.
type IndexResult struct {
	Indexed int
	Failed  int
}

// SearchFilters narrow a search. Zero values are ignored; set filters are
// combined with AND.
type SearchFilters struct {
	Source         string
	CustodianID    string
	Classification string
	MinRelevance   int
	FileCategory   string
	DataQuality    string
	DateFrom       time.Time
	DateTo         time.Time
	Tags           []string
	ReviewStatus   string
}

// SearchQuery describes one search. When Embedding is set the query ranks by
// vector similarity alone. With only Text set, full-text search is used.
type SearchQuery struct {
	Text      string
	Embedding []float32
	Filters   SearchFilters
	Limit     int
}

// SearchResult is one ranked hit, joined with any review and analysis state.
type SearchResult struct {
	DocumentID     string
	Subject        string
	Snippet        string
	Source         string
	CustodianID    string
	CollectedAt    time.Time
	Score          float64
	Classification string
	RelevanceScore int
	ReviewStatus   string
	Tags           []string
}

// DocumentSummary is a compact listing row.
type DocumentSummary struct {
	DocumentID  string
	Subject     string
	Source      string
	CollectedAt time.Time
	Attachments int
}

// CustodianCount is one entry in the top-custodian listing.
type CustodianCount struct {
	Identifier string
	Documents  int64
}

// StoreStats aggregates corpus-level counts.
type StoreStats struct {
	Documents          int64
	Custodians         int64
	Attachments        int64
	CustodyEvents      int64
	AnalyzedDocuments  int64
	ReviewedDocuments  int64
	EmbeddedDocuments  int64
	DocumentsBySource  map[string]int64
	TopCustodians      []CustodianCount
	EarliestCollection time.Time
	LatestCollection   time.Time
}

// MetadataStore indexes documents for search and review.
type MetadataStore interface {
	// BulkIndex upserts a batch of documents in a single transaction. Any
	// failure rolls the whole batch back; the index never reflects a
	// partially-written batch.
	BulkIndex(ctx context.Context, docs []*evidence.Document) (IndexResult, error)

	// Search runs a full-text or vector-similarity query.
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)

	// DocumentsByCustodian lists a custodian's documents, newest first.
	DocumentsByCustodian(ctx context.Context, custodianID string, limit int) ([]DocumentSummary, error)

	// Stats returns corpus-level counts.
	Stats(ctx context.Context) (*StoreStats, error)

	// Count returns the total number of indexed documents.
	Count(ctx context.Context) (int64, error)
}

// NewObjectStore builds the configured object store implementation.
func NewObjectStore(ctx context.Context, cfg config.StorageTargetConfig, sec config.SecurityConfig, log logging.Logger) (ObjectStore, error) {
	switch cfg.Type {
	case config.ObjectStoreLocalFS:
		return NewLocalFSStore(cfg.Params.String("base_path"), log)
	case config.ObjectStoreS3:
		return NewS3Store(ctx, cfg, sec, log)
	default:
		return nil, fmt.Errorf("%w: unknown object store type %q", apperrors.ErrConfig, cfg.Type)
	}
}

// NewMetadataStore builds the configured metadata store implementation.
func NewMetadataStore(pool *pgxpool.Pool, cfg config.StorageTargetConfig, log logging.Logger) (MetadataStore, error) {
	switch cfg.Type {
	case config.MetadataStorePostgres:
		return NewPostgresStore(pool, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown metadata store type %q", apperrors.ErrConfig, cfg.Type)
	}
}
