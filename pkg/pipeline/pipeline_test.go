package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidify/evidify-cli/pkg/connectors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
	"github.com/evidify/evidify-cli/pkg/processors"
	"github.com/evidify/evidify-cli/pkg/store"
)

type fakeConnector struct {
	name string
	docs []*evidence.Document
	err  error
}

func (c *fakeConnector) Name() string { return c.name }
func (c *fakeConnector) Fetch(ctx context.Context) ([]*evidence.Document, error) {
	return c.docs, c.err
}

type fakeObjectStore struct {
	persisted []string
	failIDs   map[string]bool
}

func (s *fakeObjectStore) Name() string { return "fake_store" }
func (s *fakeObjectStore) Persist(ctx context.Context, doc *evidence.Document) (string, error) {
	if s.failIDs[doc.DocumentID] {
		return "", errors.New("disk full")
	}
	s.persisted = append(s.persisted, doc.DocumentID)
	return "/evidence/" + doc.DocumentID, nil
}

// fakeMetadataStore honours the all-or-nothing batch contract: a batch
// containing a poisoned document fails wholesale.
type fakeMetadataStore struct {
	batches  [][]string
	indexed  []*evidence.Document
	poisonID string
}

func (s *fakeMetadataStore) BulkIndex(ctx context.Context, docs []*evidence.Document) (store.IndexResult, error) {
	var ids []string
	for _, doc := range docs {
		ids = append(ids, doc.DocumentID)
	}
	s.batches = append(s.batches, ids)

	for _, doc := range docs {
		if doc.DocumentID == s.poisonID {
			return store.IndexResult{Failed: len(docs)}, errors.New("deadlock detected")
		}
	}
	s.indexed = append(s.indexed, docs...)
	return store.IndexResult{Indexed: len(docs)}, nil
}
func (s *fakeMetadataStore) Search(ctx context.Context, q store.SearchQuery) ([]store.SearchResult, error) {
	return nil, nil
}
func (s *fakeMetadataStore) DocumentsByCustodian(ctx context.Context, id string, limit int) ([]store.DocumentSummary, error) {
	return nil, nil
}
func (s *fakeMetadataStore) Stats(ctx context.Context) (*store.StoreStats, error) { return nil, nil }
func (s *fakeMetadataStore) Count(ctx context.Context) (int64, error)             { return 0, nil }

// failingProcessor errors when the batch contains failOn.
type failingProcessor struct {
	failOn string
}

func (p *failingProcessor) Name() string { return "failing" }
func (p *failingProcessor) Process(ctx context.Context, docs []*evidence.Document) ([]*evidence.Document, error) {
	for _, doc := range docs {
		if doc.DocumentID == p.failOn {
			return nil, errors.New("stage blew up")
		}
	}
	return docs, nil
}

func doc(id string) *evidence.Document {
	d := evidence.NewDocument(id, "fake", time.Now(), evidence.Custodian{Identifier: "c"})
	d.Subject = "subject " + id
	d.BodyText = "body " + id
	d.AddCustodyEvent("fake", evidence.ActionCollected, nil)
	return d
}

func newTestPipeline(conns []connectors.SourceConnector, objStore *fakeObjectStore, metaStore *fakeMetadataStore) *Pipeline {
	log := logging.NewNopLogger()
	return New(conns,
		[]processors.Processor{processors.NewDeduplicator(log)},
		objStore, metaStore, nil, log)
}

func TestRunHappyPath(t *testing.T) {
	objStore := &fakeObjectStore{}
	metaStore := &fakeMetadataStore{}
	p := newTestPipeline([]connectors.SourceConnector{
		&fakeConnector{name: "a", docs: []*evidence.Document{doc("1"), doc("2")}},
		&fakeConnector{name: "b", docs: []*evidence.Document{doc("3")}},
	}, objStore, metaStore)

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Collected)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Persisted)
	assert.Equal(t, 3, result.Indexed)
	assert.Equal(t, 0, result.Failed)
	assert.NotEmpty(t, result.RunID)
	assert.Empty(t, result.ConnectorErrors)
	assert.Equal(t, []string{"1", "2", "3"}, objStore.persisted)

	require.Len(t, result.Connectors, 2)
	assert.Equal(t, ConnectorResult{Connector: "a", Collected: 2, Processed: 2, Persisted: 2, Indexed: 2}, result.Connectors[0])
	assert.Equal(t, ConnectorResult{Connector: "b", Collected: 1, Processed: 1, Persisted: 1, Indexed: 1}, result.Connectors[1])
}

func TestRunIndexesEachConnectorBeforeNext(t *testing.T) {
	objStore := &fakeObjectStore{}
	metaStore := &fakeMetadataStore{}
	p := newTestPipeline([]connectors.SourceConnector{
		&fakeConnector{name: "a", docs: []*evidence.Document{doc("1"), doc("2")}},
		&fakeConnector{name: "b", docs: []*evidence.Document{doc("3")}},
	}, objStore, metaStore)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, metaStore.batches, 2, "one index batch per connector")
	assert.Equal(t, []string{"1", "2"}, metaStore.batches[0])
	assert.Equal(t, []string{"3"}, metaStore.batches[1])
}

func TestRunContinuesAfterConnectorFailure(t *testing.T) {
	objStore := &fakeObjectStore{}
	metaStore := &fakeMetadataStore{}
	p := newTestPipeline([]connectors.SourceConnector{
		&fakeConnector{name: "broken", err: errors.New("auth expired")},
		&fakeConnector{name: "ok", docs: []*evidence.Document{doc("1")}},
	}, objStore, metaStore)

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Collected)
	assert.Equal(t, 1, result.Persisted)
	require.Contains(t, result.ConnectorErrors, "broken")
	assert.Contains(t, result.ConnectorErrors["broken"], "auth expired")
}

func TestRunProcessorFailureAbandonsOnlyThatConnector(t *testing.T) {
	objStore := &fakeObjectStore{}
	metaStore := &fakeMetadataStore{}
	log := logging.NewNopLogger()
	p := New([]connectors.SourceConnector{
		&fakeConnector{name: "poisoned", docs: []*evidence.Document{doc("bad")}},
		&fakeConnector{name: "clean", docs: []*evidence.Document{doc("good")}},
	}, []processors.Processor{&failingProcessor{failOn: "bad"}},
		objStore, metaStore, nil, log)

	result, err := p.Run(context.Background())
	require.NoError(t, err, "a processor failure must not abort the run")

	require.Contains(t, result.ConnectorErrors, "poisoned")
	assert.Contains(t, result.ConnectorErrors["poisoned"], "stage blew up")
	assert.Equal(t, []string{"good"}, objStore.persisted)
	assert.Equal(t, 1, result.Indexed)

	require.Len(t, result.Connectors, 2)
	assert.Equal(t, 1, result.Connectors[0].Collected)
	assert.Equal(t, 0, result.Connectors[0].Persisted)
	assert.Equal(t, 1, result.Connectors[1].Indexed)
}

func TestRunSkipsDocumentOnPersistFailure(t *testing.T) {
	objStore := &fakeObjectStore{failIDs: map[string]bool{"2": true}}
	metaStore := &fakeMetadataStore{}
	p := newTestPipeline([]connectors.SourceConnector{
		&fakeConnector{name: "a", docs: []*evidence.Document{doc("1"), doc("2"), doc("3")}},
	}, objStore, metaStore)

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Collected)
	assert.Equal(t, 2, result.Persisted)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Indexed)

	for _, indexed := range metaStore.indexed {
		assert.NotEqual(t, "2", indexed.DocumentID,
			"unpersisted documents must never be indexed")
	}
}

func TestRunIndexFailureFailsWholeConnectorBatch(t *testing.T) {
	objStore := &fakeObjectStore{}
	metaStore := &fakeMetadataStore{poisonID: "2"}
	p := newTestPipeline([]connectors.SourceConnector{
		&fakeConnector{name: "a", docs: []*evidence.Document{doc("1"), doc("2")}},
		&fakeConnector{name: "b", docs: []*evidence.Document{doc("3")}},
	}, objStore, metaStore)

	result, err := p.Run(context.Background())
	require.NoError(t, err, "an index failure is recorded, not fatal")

	// Document 1 shared the rolled-back batch with the poisoned document.
	assert.Equal(t, 0, result.Connectors[0].Indexed)
	assert.Equal(t, 2, result.Connectors[0].Failed)
	assert.Equal(t, 1, result.Connectors[1].Indexed)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 2, result.Failed)
	require.Contains(t, result.ConnectorErrors, "a")
	for _, indexed := range metaStore.indexed {
		assert.NotEqual(t, "1", indexed.DocumentID)
		assert.NotEqual(t, "2", indexed.DocumentID)
	}
}

func TestRunDeduplicatesAcrossConnectors(t *testing.T) {
	dup1 := doc("x")
	dup2 := doc("y")
	dup1.Subject, dup2.Subject = "same", "same"
	dup1.BodyText, dup2.BodyText = "same body", "same body"

	objStore := &fakeObjectStore{}
	metaStore := &fakeMetadataStore{}
	p := newTestPipeline([]connectors.SourceConnector{
		&fakeConnector{name: "a", docs: []*evidence.Document{dup1}},
		&fakeConnector{name: "b", docs: []*evidence.Document{dup2}},
	}, objStore, metaStore)

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Collected)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []string{"x"}, objStore.persisted)
}

func TestRunSetsRawPath(t *testing.T) {
	d := doc("1")
	objStore := &fakeObjectStore{}
	metaStore := &fakeMetadataStore{}
	p := newTestPipeline([]connectors.SourceConnector{
		&fakeConnector{name: "a", docs: []*evidence.Document{d}},
	}, objStore, metaStore)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/evidence/1", d.RawPath)
}
