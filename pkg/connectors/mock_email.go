package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/evidify/evidify-cli/config"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// mockBaseTime anchors generated timestamps so repeated runs produce
// identical documents.
var mockBaseTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// MockEmailConnector produces deterministic sample emails for development and
// testing. Documents are seeded solely by the batch_size parameter.
type MockEmailConnector struct {
	name      string
	batchSize int
	log       logging.Logger
}

// NewMockEmailConnector builds a mock connector.
//
// Params:
//   - batch_size: number of documents to generate (default: 10)
func NewMockEmailConnector(cfg config.ConnectorConfig, log logging.Logger) (SourceConnector, error) {
	return &MockEmailConnector{
		name:      cfg.Name,
		batchSize: cfg.Params.Int("batch_size", 10),
		log:       log,
	}, nil
}

// Name returns the connector instance name.
func (c *MockEmailConnector) Name() string { return c.name }

// Fetch generates the configured number of sample documents.
func (c *MockEmailConnector) Fetch(ctx context.Context) ([]*evidence.Document, error) {
	documents := make([]*evidence.Document, 0, c.batchSize)

	body := "Team,\n\nAttached is the latest project status including risk flags." +
		" Please review before tomorrow's standup.\n\nThanks,\nOps"
	payload := []byte(body)
	checksum := sha256.Sum256(payload)

	for i := 0; i < c.batchSize; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		doc := evidence.NewDocument(
			fmt.Sprintf("mock-email-%d", i),
			c.name,
			mockBaseTime.Add(time.Duration(i)*time.Minute),
			evidence.Custodian{
				Identifier: fmt.Sprintf("custodian-%d", i),
				Email:      fmt.Sprintf("user%d@example.com", i),
			},
		)
		doc.Subject = fmt.Sprintf("Project Falcon Update #%d", i)
		doc.BodyText = body
		doc.SetMetadata("message_id", fmt.Sprintf("<mock-%d@example.com>", i))
		doc.SetMetadata("thread_id", "falcon-initiative")
		doc.Attachments = []evidence.Attachment{
			{
				Filename:       "status.txt",
				ContentType:    "text/plain",
				SizeBytes:      int64(len(payload)),
				Payload:        payload,
				ChecksumSHA256: hex.EncodeToString(checksum[:]),
			},
		}
		doc.AddCustodyEvent(c.name, evidence.ActionCollected, map[string]string{
			"connector_type": config.ConnectorMockEmail,
		})

		documents = append(documents, doc)
	}

	c.log.Debug("generated mock documents", logging.F("count", len(documents)))
	return documents, nil
}
