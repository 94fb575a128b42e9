package connectors

import (
	"context"
	"fmt"

	"github.com/evidify/evidify-cli/config"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// WorkspaceAPIConnector is a placeholder for Google Workspace collection. The
// connector type is registered so configurations referencing it validate, but
// fetching is not yet implemented: Workspace requires domain-wide delegation
// with a service account, which this build does not carry credentials for.
//
// TODO: implement Gmail message listing via the Workspace Admin SDK once a
// delegated service account is provisioned for collections.
type WorkspaceAPIConnector struct {
	name string
	log  logging.Logger
}

// NewWorkspaceAPIConnector builds the placeholder connector.
func NewWorkspaceAPIConnector(cfg config.ConnectorConfig, log logging.Logger) (SourceConnector, error) {
	return &WorkspaceAPIConnector{name: cfg.Name, log: log}, nil
}

// Name returns the connector instance name.
func (c *WorkspaceAPIConnector) Name() string { return c.name }

// Fetch always fails with a descriptive configuration error.
func (c *WorkspaceAPIConnector) Fetch(ctx context.Context) ([]*evidence.Document, error) {
	return nil, fmt.Errorf(
		"%w: connector %q: workspace_api collection is not implemented; requires a delegated service account",
		apperrors.ErrConfig, c.name)
}
