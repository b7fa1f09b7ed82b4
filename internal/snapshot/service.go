package snapshot

import (
	"MarginTrading/internal/observability"
	"MarginTrading/internal/schedule"
	"MarginTrading/internal/state"
	"MarginTrading/internal/validation"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository persists snapshot records.
type Repository interface {
	Add(ctx context.Context, rec *TradingEngineSnapshot) error
	DraftExists(ctx context.Context, tradingDay time.Time) (bool, error)
	// GetLastDraft returns nil, nil when no draft exists.
	GetLastDraft(ctx context.Context, tradingDay time.Time) (*TradingEngineSnapshot, error)
}

// DeliveryQueues reports whether every upstream message was delivered.
// Implementations wrap ErrUndeliveredMessages when work is still pending.
type DeliveryQueues interface {
	EnsureDrained(ctx context.Context) error
}

// Schedule is the platform trading schedule.
type Schedule interface {
	IsTradingDisabled(tradingDay time.Time) bool
}

// DraftWorkflow is notified when a draft snapshot was persisted.
type DraftWorkflow interface {
	Completed(ctx context.Context, tradingDay time.Time) error
}

// Notifier announces persisted snapshots. Best effort.
type Notifier interface {
	SnapshotCreated(ctx context.Context, summary Summary) error
}

// StrategyResolver maps a request's strategy to a validator.
type StrategyResolver interface {
	For(t validation.StrategyType) (validation.Validator, error)
}

// Deps groups the collaborators of the Service. Workflow and Notifier are
// optional.
type Deps struct {
	Strategies    StrategyResolver
	Accounts      state.AccountReader
	FxQuotes      state.QuoteReader
	TradingQuotes state.QuoteReader
	Repository    Repository
	Queues        DeliveryQueues
	Schedule      Schedule
	Workflow      DraftWorkflow
	Notifier      Notifier
}

// Service is the single entry point for snapshot creation. At most one
// MakeSnapshot runs at a time per Service; concurrent attempts fail fast.
type Service struct {
	sem     chan struct{}
	builder *Builder
	deps    Deps
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(deps Deps, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		sem:     make(chan struct{}, 1),
		builder: NewBuilder(),
		deps:    deps,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// InProgress reports whether a snapshot currently holds the lock.
func (s *Service) InProgress() bool {
	return len(s.sem) == 1
}

func (s *Service) tryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) release() {
	<-s.sem
}

// MakeSnapshot validates, builds and persists a snapshot of tradingDay.
func (s *Service) MakeSnapshot(
	ctx context.Context,
	tradingDay time.Time,
	correlationID string,
	strategy validation.StrategyType,
	initiator string,
	status Status,
) (Summary, error) {
	tradingDay = schedule.TradingDay(tradingDay)
	log := s.logger.With().
		Str("trading_day", tradingDay.Format(time.DateOnly)).
		Str("correlation_id", correlationID).
		Str("status", status.String()).
		Str("strategy", strategy.String()).
		Str("initiator", initiator).
		Logger()

	// --- Preconditions ---
	if !s.deps.Schedule.IsTradingDisabled(tradingDay) {
		s.fail("trading_enabled")
		return Summary{}, fmt.Errorf("make snapshot for %s: %w", tradingDay.Format(time.DateOnly), ErrTradingEnabled)
	}
	if s.InProgress() {
		s.fail("in_progress")
		return Summary{}, ErrSnapshotInProgress
	}
	if err := s.deps.Queues.EnsureDrained(ctx); err != nil {
		s.fail("undelivered")
		return Summary{}, fmt.Errorf("check delivery queues: %w", err)
	}

	if !s.tryAcquire() {
		s.fail("in_progress")
		return Summary{}, ErrSnapshotInProgress
	}
	defer s.release()

	start := time.Now()
	s.metrics.SnapshotInProgress.Set(1)
	defer func() {
		s.metrics.SnapshotInProgress.Set(0)
		s.metrics.SnapshotDuration.WithLabelValues(status.String()).Observe(time.Since(start).Seconds())
	}()

	log.Info().Msg("snapshot started")

	// --- Validate ---
	validator, err := s.deps.Strategies.For(strategy)
	if err != nil {
		s.fail("strategy")
		return Summary{}, err
	}
	res := validator.Validate(ctx, correlationID)
	if !res.Valid {
		s.fail("validation")
		log.WithLevel(zerolog.FatalLevel).Err(res.Err).Msg("environment is not valid for snapshot, aborting")
		if res.Err == nil {
			return Summary{}, errors.New("validate environment: invalid result without error")
		}
		return Summary{}, fmt.Errorf("validate environment: %w", res.Err)
	}

	// --- Build ---
	rec, err := s.build(ctx, res.Cache, tradingDay, correlationID, status)
	if err != nil {
		s.fail("build")
		return Summary{}, fmt.Errorf("build snapshot: %w", err)
	}

	// --- Persist ---
	if err := s.deps.Repository.Add(ctx, &rec); err != nil {
		s.fail("persist")
		return Summary{}, fmt.Errorf("persist snapshot: %w", err)
	}

	if status == StatusDraft && s.deps.Workflow != nil {
		if err := s.deps.Workflow.Completed(ctx, tradingDay); err != nil {
			log.Error().Err(err).Msg("failed to mark draft workflow completed")
		}
	}

	summary := rec.Summary()
	s.record(summary)

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.SnapshotCreated(ctx, summary); err != nil {
			log.Warn().Err(err).Msg("failed to publish snapshot created event")
		}
	}

	log.Info().
		Int("orders", summary.OrdersCount).
		Int("positions", summary.PositionsCount).
		Int("accounts", summary.AccountsCount).
		Int("fx_prices", summary.BestFxPricesCount).
		Int("trading_prices", summary.BestTradingPricesCount).
		Dur("elapsed", time.Since(start)).
		Msg("snapshot persisted")

	return summary, nil
}

// build feeds every source into the builder in one pass.
func (s *Service) build(ctx context.Context, cache state.OrderReader, tradingDay time.Time, correlationID string, status Status) (TradingEngineSnapshot, error) {
	b := s.builder
	b.Reset()

	liquidating, err := s.deps.Accounts.GetAllWhereLiquidationIsRunning(ctx)
	if err != nil {
		return TradingEngineSnapshot{}, fmt.Errorf("read accounts in liquidation: %w", err)
	}

	if err := errors.Join(
		b.WithTradingDay(tradingDay),
		b.WithCorrelationID(correlationID),
		b.WithTimestamp(s.now().UTC()),
		b.WithStatus(status),
		b.WithOrders(cache),
		b.WithPositions(cache),
		b.WithAccounts(s.deps.Accounts.GetAll()),
		b.WithAccountsInLiquidation(liquidating),
		b.WithBestFxPrices(s.deps.FxQuotes.GetAllQuotes()),
		b.WithBestTradingPrices(s.deps.TradingQuotes.GetAllQuotes()),
	); err != nil {
		b.Reset()
		return TradingEngineSnapshot{}, err
	}
	return b.Build()
}

func (s *Service) fail(reason string) {
	s.metrics.SnapshotsFailed.WithLabelValues(reason).Inc()
}

func (s *Service) record(summary Summary) {
	s.metrics.SnapshotsCreated.WithLabelValues(summary.Status.String()).Inc()
	s.metrics.SnapshotItems.WithLabelValues("orders").Set(float64(summary.OrdersCount))
	s.metrics.SnapshotItems.WithLabelValues("positions").Set(float64(summary.PositionsCount))
	s.metrics.SnapshotItems.WithLabelValues("accounts").Set(float64(summary.AccountsCount))
	s.metrics.SnapshotItems.WithLabelValues("fx_prices").Set(float64(summary.BestFxPricesCount))
	s.metrics.SnapshotItems.WithLabelValues("trading_prices").Set(float64(summary.BestTradingPricesCount))
}

// DraftExists reports whether a draft of tradingDay was already persisted.
func (s *Service) DraftExists(ctx context.Context, tradingDay time.Time) (bool, error) {
	return s.deps.Repository.DraftExists(ctx, schedule.TradingDay(tradingDay))
}

// LastDraft returns the latest draft of tradingDay, or nil.
func (s *Service) LastDraft(ctx context.Context, tradingDay time.Time) (*TradingEngineSnapshot, error) {
	return s.deps.Repository.GetLastDraft(ctx, schedule.TradingDay(tradingDay))
}
