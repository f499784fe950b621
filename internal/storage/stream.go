package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
)

// DefaultStreamName is the Redis stream the collector publishes events to.
const DefaultStreamName = "engagement-events"

// StreamPublisher appends forwarded events to a Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	log    infralogger.Logger
}

// NewStreamPublisher creates a publisher for stream. An empty stream name
// uses DefaultStreamName.
func NewStreamPublisher(client *redis.Client, stream string, log infralogger.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStreamName
	}
	return &StreamPublisher{client: client, stream: stream, log: log}
}

// Forward appends event as one stream entry. Its signature matches
// gateway.FuncSink.
func (p *StreamPublisher) Forward(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	emittedAt := event.EmittedAt
	if emittedAt.IsZero() {
		emittedAt = time.Now()
	}

	result := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_id":   uuid.New().String(),
			"event":      event.Name,
			"visitor_id": event.VisitorID,
			"page_id":    event.PageID,
			"emitted_at": emittedAt.UTC().Format(time.RFC3339Nano),
			"payload":    string(payload),
		},
	})
	if publishErr := result.Err(); publishErr != nil {
		return fmt.Errorf("publish to stream: %w", publishErr)
	}

	p.log.Debug("Published engagement event",
		infralogger.String("event", event.Name),
		infralogger.String("stream_id", result.Val()),
	)

	return nil
}
