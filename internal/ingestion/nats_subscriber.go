package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes the upstream JetStream subjects and hands every
// message to the Handler. Messages are acknowledged only after they were
// applied.
type NATSSubscriber struct {
	js        jetstream.JetStream
	handler   *Handler
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// SubjectConfig maps a NATS subject to a message kind and its durable
// consumer.
type SubjectConfig struct {
	Subject      string
	Kind         MessageKind
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "margin.market.state.>", Kind: KindMarketState, ConsumerName: "margin-market-state", StreamName: "MARGIN_MARKET"},
		{Subject: "margin.quotes.trading.>", Kind: KindTradingQuote, ConsumerName: "margin-quotes-trading", StreamName: "MARGIN_QUOTES"},
		{Subject: "margin.quotes.fx.>", Kind: KindFxQuote, ConsumerName: "margin-quotes-fx", StreamName: "MARGIN_QUOTES"},
		{Subject: "margin.trading.state.>", Kind: KindTradingState, ConsumerName: "margin-trading-state", StreamName: "MARGIN_TRADING"},
		{Subject: "margin.snapshot.requests.>", Kind: KindSnapshotRequest, ConsumerName: "margin-snapshot-requests", StreamName: "MARGIN_SNAPSHOT_REQUESTS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, handler *Handler, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		handler: handler,
		logger:  logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		kind := cfg.Kind
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.deliver(ctx, kind, msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

func (ns *NATSSubscriber) deliver(ctx context.Context, kind MessageKind, msg jetstream.Msg) {
	err := ns.handler.Handle(ctx, kind, msg.Data())
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			ns.logger.Warn().Err(ackErr).Str("subject", msg.Subject()).Msg("ack failed")
		}
	case errors.Is(err, ErrMalformed):
		ns.logger.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed message")
		msg.Term()
	default:
		ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("message handling failed, will be redelivered")
		msg.Nak()
	}
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{Name: "MARGIN_MARKET", Subjects: []string{"margin.market.>"}},
		{Name: "MARGIN_QUOTES", Subjects: []string{"margin.quotes.>"}},
		{Name: "MARGIN_TRADING", Subjects: []string{"margin.trading.>"}},
		{Name: "MARGIN_SNAPSHOT_REQUESTS", Subjects: []string{"margin.snapshot.requests.>"}},
	}

	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("margintrading"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
