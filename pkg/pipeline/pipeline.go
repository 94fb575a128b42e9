// Package pipeline orchestrates one ingestion run. Connectors run
// sequentially, and each connector's documents flow through the processor
// chain, the object store, and the metadata store before the next connector
// is fetched.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evidify/evidify-cli/pkg/audit"
	"github.com/evidify/evidify-cli/pkg/connectors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
	"github.com/evidify/evidify-cli/pkg/processors"
	"github.com/evidify/evidify-cli/pkg/store"
)

// ConnectorResult summarizes one connector's pass through the pipeline.
type ConnectorResult struct {
	Connector string
	Collected int
	Processed int
	Persisted int
	Indexed   int
	Failed    int
}

// IngestionResult summarizes one pipeline run.
type IngestionResult struct {
	RunID     string
	Collected int
	Processed int
	Persisted int
	Failed    int
	Indexed   int
	Duration  time.Duration

	// Connectors holds the per-connector breakdown, in execution order.
	Connectors []ConnectorResult

	// ConnectorErrors maps connector name to its error, when any.
	ConnectorErrors map[string]string
}

// Pipeline wires connectors, processors, and stores into one run. A failure
// in one connector is recorded and the run continues with the remaining
// sources.
type Pipeline struct {
	connectors    []connectors.SourceConnector
	processors    []processors.Processor
	objectStore   store.ObjectStore
	metadataStore store.MetadataStore
	auditor       *audit.Publisher
	log           logging.Logger
}

// New assembles a pipeline. auditor may be nil when auditing is not
// configured.
func New(
	conns []connectors.SourceConnector,
	procs []processors.Processor,
	objectStore store.ObjectStore,
	metadataStore store.MetadataStore,
	auditor *audit.Publisher,
	log logging.Logger,
) *Pipeline {
	return &Pipeline{
		connectors:    conns,
		processors:    procs,
		objectStore:   objectStore,
		metadataStore: metadataStore,
		auditor:       auditor,
		log:           log,
	}
}

// Run executes one full ingestion pass, one connector at a time. Each
// connector's documents are processed, persisted, and indexed before the
// next connector is fetched, so a late failure never touches evidence
// already committed for earlier sources.
func (p *Pipeline) Run(ctx context.Context) (*IngestionResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logging.RunIDKey, runID)
	log := p.log.WithContext(ctx)

	result := &IngestionResult{
		RunID:           runID,
		ConnectorErrors: make(map[string]string),
	}

	log.Info("ingestion run starting",
		logging.F("connectors", len(p.connectors)),
		logging.F("processors", len(p.processors)))

	for _, conn := range p.connectors {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		cr := p.runConnector(ctx, conn, result)
		result.Connectors = append(result.Connectors, cr)

		result.Collected += cr.Collected
		result.Processed += cr.Processed
		result.Persisted += cr.Persisted
		result.Indexed += cr.Indexed
		result.Failed += cr.Failed
	}

	result.Duration = time.Since(start)
	log.Info("ingestion run complete",
		logging.F("collected", result.Collected),
		logging.F("processed", result.Processed),
		logging.F("persisted", result.Persisted),
		logging.F("indexed", result.Indexed),
		logging.F("failed", result.Failed),
		logging.F("duration", result.Duration))

	return result, nil
}

// runConnector takes one connector's documents through the whole pipeline.
// A processor failure abandons this connector's batch only.
func (p *Pipeline) runConnector(ctx context.Context, conn connectors.SourceConnector, result *IngestionResult) ConnectorResult {
	log := p.log.WithContext(ctx)
	cr := ConnectorResult{Connector: conn.Name()}

	batch, err := conn.Fetch(ctx)
	if err != nil {
		p.recordError(result, conn.Name(), err)
		log.Error("connector fetch failed",
			logging.F("connector", conn.Name()),
			logging.Err(err))
		// Partial results from a failed connector are still evidence.
	}
	cr.Collected = len(batch)

	for _, proc := range p.processors {
		batch, err = proc.Process(ctx, batch)
		if err != nil {
			p.recordError(result, conn.Name(), err)
			log.Error("processor failed, abandoning connector batch",
				logging.F("connector", conn.Name()),
				logging.F("processor", proc.Name()),
				logging.Err(err))
			return cr
		}
	}
	cr.Processed = len(batch)

	persisted := make([]*evidence.Document, 0, len(batch))
	for _, doc := range batch {
		location, err := p.objectStore.Persist(ctx, doc)
		if err != nil {
			cr.Failed++
			log.Error("failed to persist document, skipping",
				logging.F("document_id", doc.DocumentID),
				logging.Err(err))
			continue
		}
		doc.RawPath = location
		persisted = append(persisted, doc)
	}
	cr.Persisted = len(persisted)

	if len(persisted) > 0 {
		indexResult, err := p.metadataStore.BulkIndex(ctx, persisted)
		if err != nil {
			p.recordError(result, conn.Name(), err)
			log.Error("failed to index connector batch",
				logging.F("connector", conn.Name()),
				logging.Err(err))
		}
		cr.Indexed = indexResult.Indexed
		cr.Failed += indexResult.Failed
	}

	for _, doc := range persisted {
		if err := p.auditor.PublishCustodyEvents(ctx, doc); err != nil {
			log.Warn("audit publish failed",
				logging.F("document_id", doc.DocumentID),
				logging.Err(err))
		}
	}
	return cr
}

func (p *Pipeline) recordError(result *IngestionResult, connector string, err error) {
	if prev, ok := result.ConnectorErrors[connector]; ok {
		result.ConnectorErrors[connector] = prev + "; " + err.Error()
		return
	}
	result.ConnectorErrors[connector] = err.Error()
}
