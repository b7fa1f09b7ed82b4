package ingestion

import (
	"MarginTrading/internal/observability"
	"MarginTrading/internal/snapshot"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const outboundStream = "MARGIN_SNAPSHOT_EVENTS"

// SnapshotCreatedEvent is published after a snapshot was persisted.
type SnapshotCreatedEvent struct {
	EventType string           `json:"event_type"`
	Summary   snapshot.Summary `json:"summary"`
}

// CreatedSubject returns margin.snapshot.created.{status}.
func CreatedSubject(status snapshot.Status) string {
	return "margin.snapshot.created." + strings.ToLower(status.String())
}

// EncodeSnapshotCreated renders the outbound payload.
func EncodeSnapshotCreated(summary snapshot.Summary) ([]byte, error) {
	data, err := json.Marshal(SnapshotCreatedEvent{EventType: "SnapshotCreated", Summary: summary})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Publisher is the subset of JetStream used for outbound events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher announces persisted snapshots to downstream consumers.
// Publishing is best effort: the snapshot is already durable.
type OutboundPublisher struct {
	js      Publisher
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewOutboundPublisher(js Publisher, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		metrics: metrics,
		logger:  logger,
	}
}

// SnapshotCreated publishes the summary, using the correlation id as the
// JetStream message id so retries are deduplicated by the server.
func (op *OutboundPublisher) SnapshotCreated(ctx context.Context, summary snapshot.Summary) error {
	subject := CreatedSubject(summary.Status)
	data, err := EncodeSnapshotCreated(summary)
	if err != nil {
		return err
	}

	_, err = op.js.Publish(ctx, subject, data, jetstream.WithMsgID(summary.CorrelationID))
	if err != nil {
		op.metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	op.metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
	op.logger.Debug().
		Str("subject", subject).
		Str("correlation_id", summary.CorrelationID).
		Msg("snapshot event published")
	return nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       outboundStream,
		Subjects:   []string{"margin.snapshot.created.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", outboundStream).Msg("ensured outbound stream")
	return nil
}
