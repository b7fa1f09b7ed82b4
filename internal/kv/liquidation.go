package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const liquidationKeyPrefix = "liquidation:running:"

// LiquidationRegistry tracks which accounts have a liquidation running.
// TryAdd makes Start a cross-process mutual-exclusion hint: only one
// liquidation per account can be registered at a time.
type LiquidationRegistry struct {
	store Store
	ttl   time.Duration
}

func NewLiquidationRegistry(store Store, ttl time.Duration) *LiquidationRegistry {
	return &LiquidationRegistry{store: store, ttl: ttl}
}

// Start registers a liquidation, returning false if one is already running.
func (r *LiquidationRegistry) Start(ctx context.Context, accountID, operationID string) (bool, error) {
	ok, err := r.store.TryAdd(ctx, liquidationKeyPrefix+accountID, operationID, r.ttl)
	if err != nil {
		return false, fmt.Errorf("start liquidation %s: %w", accountID, err)
	}
	return ok, nil
}

// Handover moves a running liquidation from one operation to another.
func (r *LiquidationRegistry) Handover(ctx context.Context, accountID, fromOperationID, toOperationID string) (bool, error) {
	ok, err := r.store.CompareAndSwap(ctx, liquidationKeyPrefix+accountID, fromOperationID, toOperationID)
	if err != nil {
		return false, fmt.Errorf("handover liquidation %s: %w", accountID, err)
	}
	return ok, nil
}

// Finish removes the registration.
func (r *LiquidationRegistry) Finish(ctx context.Context, accountID string) error {
	if err := r.store.Delete(ctx, liquidationKeyPrefix+accountID); err != nil {
		return fmt.Errorf("finish liquidation %s: %w", accountID, err)
	}
	return nil
}

// IsRunning implements state.LiquidationChecker.
func (r *LiquidationRegistry) IsRunning(ctx context.Context, accountID string) (bool, error) {
	_, err := r.store.Get(ctx, liquidationKeyPrefix+accountID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
