package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Record is a durable JSON value stored under a single key, retried like
// Flag.
type Record[T any] struct {
	store Store
	key   string
	retry RetryPolicy
}

func NewRecord[T any](store Store, key string, retry RetryPolicy) *Record[T] {
	return &Record[T]{store: store, key: key, retry: retry}
}

func (r *Record[T]) Key() string { return r.key }

// Get reports ok=false when the key is missing.
func (r *Record[T]) Get(ctx context.Context) (value T, ok bool, err error) {
	err = r.retry.Do(ctx, func(ctx context.Context) error {
		raw, err := r.store.Get(ctx, r.key)
		if errors.Is(err, ErrNotFound) {
			ok = false
			return nil
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("record %s: %w", r.key, err)
		}
		ok = true
		return nil
	})
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("get record %s: %w", r.key, err)
	}
	return value, ok, nil
}

func (r *Record[T]) Set(ctx context.Context, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.key, err)
	}
	err = r.retry.Do(ctx, func(ctx context.Context) error {
		return r.store.Set(ctx, r.key, string(data), 0)
	})
	if err != nil {
		return fmt.Errorf("set record %s: %w", r.key, err)
	}
	return nil
}
