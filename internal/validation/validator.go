package validation

import (
	"MarginTrading/internal/observability"
	"MarginTrading/internal/state"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Validator produces a validation Result. Strategies and decorators
// implement it too, so they compose by wrapping.
type Validator interface {
	Validate(ctx context.Context, correlationID string) Result
}

// BlobWriter persists diagnostic payloads for postmortem.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte) error
}

// DiagnosticsKey is the blob key of the payload written for an invalid
// validation.
func DiagnosticsKey(correlationID string) string {
	return "validation/" + correlationID + ".json"
}

// Diagnostics is the payload written when the cache is inconsistent.
type Diagnostics struct {
	CorrelationID string           `json:"correlation_id"`
	DetectedAt    time.Time        `json:"detected_at"`
	Violations    []Violation      `json:"violations"`
	Orders        []state.Order    `json:"orders"`
	Positions     []state.Position `json:"positions"`
}

// EnvironmentValidator checks a frozen copy of the live orders cache.
type EnvironmentValidator struct {
	orders  state.OrderSnapshotter
	checker ConsistencyChecker
	blobs   BlobWriter
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewEnvironmentValidator creates a validator. blobs may be nil, in which
// case diagnostics are only logged.
func NewEnvironmentValidator(
	orders state.OrderSnapshotter,
	checker ConsistencyChecker,
	blobs BlobWriter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *EnvironmentValidator {
	return &EnvironmentValidator{
		orders:  orders,
		checker: checker,
		blobs:   blobs,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Validate never returns an error outside the Result: data inconsistency is
// KindInconsistentData, a failing or panicking checker is KindUnknown.
func (v *EnvironmentValidator) Validate(ctx context.Context, correlationID string) (res Result) {
	start := time.Now()
	defer func() {
		v.metrics.ValidationDuration.Observe(time.Since(start).Seconds())
	}()

	frozen := v.orders.Snapshot()

	defer func() {
		if r := recover(); r != nil {
			v.logger.Error().
				Str("correlation_id", correlationID).
				Interface("panic", r).
				Msg("consistency check panicked")
			res = invalidResult(frozen, &Error{
				Kind:          KindUnknown,
				CorrelationID: correlationID,
				Cause:         fmt.Errorf("consistency check panicked: %v", r),
			})
		}
	}()

	violations, err := v.checker.Check(ctx, frozen)
	if err != nil {
		v.logger.Error().
			Err(err).
			Str("correlation_id", correlationID).
			Msg("consistency check failed")
		return invalidResult(frozen, &Error{
			Kind:          KindUnknown,
			CorrelationID: correlationID,
			Cause:         err,
		})
	}
	if len(violations) == 0 {
		return validResult(frozen)
	}

	v.writeDiagnostics(ctx, correlationID, frozen, violations)

	return invalidResult(frozen, &Error{
		Kind:          KindInconsistentData,
		CorrelationID: correlationID,
		Violations:    violations,
	})
}

func (v *EnvironmentValidator) writeDiagnostics(ctx context.Context, correlationID string, frozen state.OrderReader, violations []Violation) {
	if v.blobs == nil {
		return
	}

	payload, err := json.Marshal(Diagnostics{
		CorrelationID: correlationID,
		DetectedAt:    v.now().UTC(),
		Violations:    violations,
		Orders:        frozen.GetAllOrders(),
		Positions:     frozen.GetPositions(),
	})
	if err == nil {
		err = v.blobs.Put(ctx, DiagnosticsKey(correlationID), payload)
	}
	if err != nil {
		v.metrics.DiagnosticWrites.WithLabelValues("error").Inc()
		v.logger.Error().
			Err(err).
			Str("correlation_id", correlationID).
			Msg("failed to write validation diagnostics")
		return
	}
	v.metrics.DiagnosticWrites.WithLabelValues("ok").Inc()
}
