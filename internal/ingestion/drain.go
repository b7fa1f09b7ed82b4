package ingestion

import (
	"MarginTrading/internal/snapshot"
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerInfoSource looks up durable consumer state.
type ConsumerInfoSource interface {
	Consumer(ctx context.Context, stream, consumer string) (jetstream.Consumer, error)
}

// DrainChecker implements snapshot.DeliveryQueues on JetStream: every
// consumer feeding the caches must have no pending and no unacknowledged
// messages.
type DrainChecker struct {
	js       ConsumerInfoSource
	subjects []SubjectConfig
}

// NewDrainChecker keeps only the subjects whose kind feeds state.
func NewDrainChecker(js ConsumerInfoSource, subjects []SubjectConfig) *DrainChecker {
	var feeding []SubjectConfig
	for _, s := range subjects {
		if s.Kind.FeedsState() {
			feeding = append(feeding, s)
		}
	}
	return &DrainChecker{js: js, subjects: feeding}
}

func (d *DrainChecker) EnsureDrained(ctx context.Context) error {
	for _, s := range d.subjects {
		consumer, err := d.js.Consumer(ctx, s.StreamName, s.ConsumerName)
		if err != nil {
			return fmt.Errorf("lookup consumer %s: %w", s.ConsumerName, err)
		}
		info, err := consumer.Info(ctx)
		if err != nil {
			return fmt.Errorf("consumer info %s: %w", s.ConsumerName, err)
		}
		if outstanding := info.NumPending + uint64(info.NumAckPending); outstanding > 0 {
			return fmt.Errorf("%w: consumer %s has %d outstanding messages",
				snapshot.ErrUndeliveredMessages, s.ConsumerName, outstanding)
		}
	}
	return nil
}
