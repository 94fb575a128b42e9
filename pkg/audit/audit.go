// Package audit publishes chain-of-custody events to an external audit log.
// The destination is a Redis stream so custody records survive outside the
// evidence stores and can be consumed by compliance tooling.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

const streamName = "evidify:custody"

// Publisher appends custody events to a Redis stream. A nil Publisher is
// valid and publishes nothing, so callers do not branch on whether auditing
// is configured.
type Publisher struct {
	client *redis.Client
	log    logging.Logger
}

// NewPublisher connects to the audit destination. destination is a redis://
// URL; an empty destination returns a nil publisher.
func NewPublisher(ctx context.Context, destination string, log logging.Logger) (*Publisher, error) {
	if destination == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(destination)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing audit destination: %v", apperrors.ErrConfig, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connecting to audit destination: %v", apperrors.ErrStorage, err)
	}

	return &Publisher{client: client, log: log}, nil
}

// PublishCustodyEvents appends every event in the document's chain to the
// stream. Publish failures are logged and returned but callers treat the
// audit trail as best-effort: evidence persistence never depends on it.
func (p *Publisher) PublishCustodyEvents(ctx context.Context, doc *evidence.Document) error {
	if p == nil {
		return nil
	}

	for _, event := range doc.ChainOfCustody {
		values := map[string]interface{}{
			"document_id": doc.DocumentID,
			"source":      doc.Source,
			"timestamp":   event.Timestamp.Format(time.RFC3339Nano),
			"actor":       event.Actor,
			"action":      event.Action,
		}
		for k, v := range event.Metadata {
			values["meta_"+k] = v
		}

		if err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: streamName,
			Values: values,
		}).Err(); err != nil {
			return fmt.Errorf("%w: publishing custody event: %v", apperrors.ErrStorage, err)
		}
	}
	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
