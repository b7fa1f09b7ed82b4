package validation

import (
	"MarginTrading/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for PreferConsistency.
const (
	DefaultRetries     = 3
	DefaultBackoffUnit = 5 * time.Second
)

// AsSoonAsPossible validates once.
type AsSoonAsPossible struct {
	validator Validator
}

func NewAsSoonAsPossible(v Validator) *AsSoonAsPossible {
	return &AsSoonAsPossible{validator: v}
}

func (s *AsSoonAsPossible) Validate(ctx context.Context, correlationID string) Result {
	return s.validator.Validate(ctx, correlationID)
}

// PreferConsistency re-validates an invalid environment up to retries times,
// waiting attempt × backoffUnit before each retry. The last result is
// returned whether or not it became valid.
type PreferConsistency struct {
	validator   Validator
	retries     int
	backoffUnit time.Duration
	logger      zerolog.Logger
}

func NewPreferConsistency(v Validator, retries int, backoffUnit time.Duration, logger zerolog.Logger) *PreferConsistency {
	return &PreferConsistency{
		validator:   v,
		retries:     retries,
		backoffUnit: backoffUnit,
		logger:      logger,
	}
}

func (s *PreferConsistency) Validate(ctx context.Context, correlationID string) Result {
	res := s.validator.Validate(ctx, correlationID)

	for attempt := 1; !res.Valid && attempt <= s.retries; attempt++ {
		delay := time.Duration(attempt) * s.backoffUnit

		ev := s.logger.Warn().
			Err(res.Err).
			Str("correlation_id", correlationID).
			Int("attempt", attempt).
			Int("max_retries", s.retries).
			Dur("backoff", delay)
		var verr *Error
		if errors.As(res.Err, &verr) && len(verr.Violations) > 0 {
			ev = ev.Interface("violations", verr.Violations)
		}
		ev.Msg("environment is not consistent, retrying validation")

		if !sleep(ctx, delay) {
			return res
		}
		res = s.validator.Validate(ctx, correlationID)
	}
	return res
}

// sleep waits for d, returning false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// logging warns when the final result of a strategy is invalid.
type logging struct {
	next     Validator
	strategy StrategyType
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// WithLogging decorates a strategy.
func WithLogging(next Validator, strategy StrategyType, metrics *observability.Metrics, logger zerolog.Logger) Validator {
	return &logging{next: next, strategy: strategy, metrics: metrics, logger: logger}
}

func (l *logging) Validate(ctx context.Context, correlationID string) Result {
	res := l.next.Validate(ctx, correlationID)
	if res.Valid {
		l.metrics.ValidationResults.WithLabelValues(l.strategy.String(), "valid").Inc()
		return res
	}

	l.metrics.ValidationResults.WithLabelValues(l.strategy.String(), "invalid").Inc()
	l.logger.Warn().
		Err(res.Err).
		Str("correlation_id", correlationID).
		Str("strategy", l.strategy.String()).
		Msg("environment validation finished with an invalid result")
	return res
}

// StrategyConfig tunes PreferConsistency.
type StrategyConfig struct {
	Retries     int
	BackoffUnit time.Duration
}

// Strategies resolves a StrategyType to its decorated strategy.
type Strategies struct {
	byType map[StrategyType]Validator
}

func NewStrategies(v Validator, cfg StrategyConfig, metrics *observability.Metrics, logger zerolog.Logger) *Strategies {
	return &Strategies{byType: map[StrategyType]Validator{
		StrategyAsSoonAsPossible: WithLogging(
			NewAsSoonAsPossible(v), StrategyAsSoonAsPossible, metrics, logger),
		StrategyWaitPlatformConsistency: WithLogging(
			NewPreferConsistency(v, cfg.Retries, cfg.BackoffUnit, logger),
			StrategyWaitPlatformConsistency, metrics, logger),
	}}
}

func (s *Strategies) For(t StrategyType) (Validator, error) {
	v, ok := s.byType[t]
	if !ok {
		return nil, fmt.Errorf("no validation strategy registered for %s", t)
	}
	return v, nil
}
