package ingestion_test

import (
	"MarginTrading/internal/ingestion"
	"MarginTrading/internal/observability"
	"MarginTrading/internal/snapshot"
	"MarginTrading/internal/testutil"
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	p.subject = subject
	p.data = data
	if p.err != nil {
		return nil, p.err
	}
	return &jetstream.PubAck{Stream: "MARGIN_SNAPSHOT_EVENTS", Sequence: 1}, nil
}

func testSummary() snapshot.Summary {
	return snapshot.Summary{
		TradingDay:             day,
		CorrelationID:          "cid-1",
		Status:                 snapshot.StatusDraft,
		Timestamp:              now,
		OrdersCount:            2,
		PositionsCount:         1,
		AccountsCount:          3,
		BestFxPricesCount:      4,
		BestTradingPricesCount: 5,
	}
}

// ============================================================================
// Test: outbound events
// ============================================================================

func TestEncodeSnapshotCreated_Golden(t *testing.T) {
	data, err := ingestion.EncodeSnapshotCreated(testSummary())
	require.NoError(t, err)
	testutil.AssertGolden(t, "snapshot_created.golden.json", data)
}

func TestCreatedSubject(t *testing.T) {
	assert.Equal(t, "margin.snapshot.created.draft", ingestion.CreatedSubject(snapshot.StatusDraft))
	assert.Equal(t, "margin.snapshot.created.final", ingestion.CreatedSubject(snapshot.StatusFinal))
}

func TestOutboundPublisher_SnapshotCreated(t *testing.T) {
	pub := &fakePublisher{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	op := ingestion.NewOutboundPublisher(pub, metrics, zerolog.Nop())

	require.NoError(t, op.SnapshotCreated(context.Background(), testSummary()))
	assert.Equal(t, "margin.snapshot.created.draft", pub.subject)
	assert.Contains(t, string(pub.data), `"correlation_id":"cid-1"`)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.EventsPublished.WithLabelValues("margin.snapshot.created.draft", "ok")))
}

func TestOutboundPublisher_Failure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	op := ingestion.NewOutboundPublisher(pub, metrics, zerolog.Nop())

	err := op.SnapshotCreated(context.Background(), testSummary())
	require.Error(t, err)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.EventsPublished.WithLabelValues("margin.snapshot.created.draft", "error")))
}
