// Package connectors provides evidence source connectors for the ingestion
// pipeline. A connector pulls raw evidence from one external system and
// produces fully-populated documents with checksummed attachments and an
// initial chain-of-custody event.
package connectors

import (
	"context"
	"fmt"

	"github.com/evidify/evidify-cli/config"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// SourceConnector pulls raw evidence from an external system. Fetch returns a
// finite batch; connectors attach at least one "collected" custody event per
// document and compute attachment checksums themselves.
type SourceConnector interface {
	// Name returns the configured connector instance name.
	Name() string

	// Fetch produces the full batch of documents from the source.
	Fetch(ctx context.Context) ([]*evidence.Document, error)
}

// Constructor builds a connector from its configuration.
type Constructor func(cfg config.ConnectorConfig, log logging.Logger) (SourceConnector, error)

// Factory resolves connector type strings to constructors through an explicit
// registry. Factories are passed to the pipeline rather than accessed from
// process-wide state so tests can build isolated pipelines.
type Factory struct {
	registry map[string]Constructor
}

// NewFactory returns a factory pre-populated with the built-in connector
// types.
func NewFactory() *Factory {
	f := &Factory{registry: make(map[string]Constructor)}
	f.Register(config.ConnectorMockEmail, NewMockEmailConnector)
	f.Register(config.ConnectorFileBasedJSON, NewFileJSONConnector)
	f.Register(config.ConnectorMailAPI, NewMailAPIConnector)
	f.Register(config.ConnectorWorkspaceAPI, NewWorkspaceAPIConnector)
	f.Register(config.ConnectorCloudStorage, NewCloudStorageConnector)
	return f
}

// Register adds or replaces a constructor for a connector type.
func (f *Factory) Register(connectorType string, ctor Constructor) {
	f.registry[connectorType] = ctor
}

// Create builds a connector for the given configuration. Unknown types fail
// with a config error.
func (f *Factory) Create(cfg config.ConnectorConfig, log logging.Logger) (SourceConnector, error) {
	ctor, ok := f.registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown connector type %q", apperrors.ErrConfig, cfg.Type)
	}
	return ctor(cfg, log)
}
