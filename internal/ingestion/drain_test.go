package ingestion_test

import (
	"MarginTrading/internal/ingestion"
	"MarginTrading/internal/snapshot"
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	jetstream.Consumer
	info *jetstream.ConsumerInfo
}

func (c fakeConsumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	return c.info, nil
}

type fakeConsumers struct {
	infos  map[string]*jetstream.ConsumerInfo
	looked []string
}

func (f *fakeConsumers) Consumer(ctx context.Context, stream, consumer string) (jetstream.Consumer, error) {
	f.looked = append(f.looked, consumer)
	info, ok := f.infos[consumer]
	if !ok {
		return nil, jetstream.ErrConsumerNotFound
	}
	return fakeConsumer{info: info}, nil
}

func drainedInfos() map[string]*jetstream.ConsumerInfo {
	infos := map[string]*jetstream.ConsumerInfo{}
	for _, s := range ingestion.DefaultSubjects() {
		infos[s.ConsumerName] = &jetstream.ConsumerInfo{Name: s.ConsumerName}
	}
	return infos
}

// ============================================================================
// Test: DrainChecker
// ============================================================================

func TestDrainChecker_OnlyStateFeedingConsumers(t *testing.T) {
	src := &fakeConsumers{infos: drainedInfos()}
	d := ingestion.NewDrainChecker(src, ingestion.DefaultSubjects())

	require.NoError(t, d.EnsureDrained(context.Background()))
	assert.ElementsMatch(t, []string{"margin-quotes-trading", "margin-quotes-fx", "margin-trading-state"}, src.looked)
}

func TestDrainChecker_PendingMessages(t *testing.T) {
	infos := drainedInfos()
	infos["margin-trading-state"].NumPending = 3
	d := ingestion.NewDrainChecker(&fakeConsumers{infos: infos}, ingestion.DefaultSubjects())

	err := d.EnsureDrained(context.Background())
	assert.ErrorIs(t, err, snapshot.ErrUndeliveredMessages)
}

func TestDrainChecker_UnackedMessages(t *testing.T) {
	infos := drainedInfos()
	infos["margin-quotes-fx"].NumAckPending = 1
	d := ingestion.NewDrainChecker(&fakeConsumers{infos: infos}, ingestion.DefaultSubjects())

	err := d.EnsureDrained(context.Background())
	assert.ErrorIs(t, err, snapshot.ErrUndeliveredMessages)
}

func TestDrainChecker_LookupFailure(t *testing.T) {
	infos := drainedInfos()
	delete(infos, "margin-quotes-trading")
	d := ingestion.NewDrainChecker(&fakeConsumers{infos: infos}, ingestion.DefaultSubjects())

	err := d.EnsureDrained(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, jetstream.ErrConsumerNotFound))
	assert.False(t, errors.Is(err, snapshot.ErrUndeliveredMessages))
}
