package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Flag is a durable boolean stored under a single key. Reads and writes are
// retried according to the policy; a missing key reads as false.
type Flag struct {
	store Store
	key   string
	retry RetryPolicy
}

func NewFlag(store Store, key string, retry RetryPolicy) *Flag {
	return &Flag{store: store, key: key, retry: retry}
}

func (f *Flag) Key() string { return f.key }

func (f *Flag) Get(ctx context.Context) (bool, error) {
	var value bool
	err := f.retry.Do(ctx, func(ctx context.Context) error {
		raw, err := f.store.Get(ctx, f.key)
		if errors.Is(err, ErrNotFound) {
			value = false
			return nil
		}
		if err != nil {
			return err
		}
		value, err = strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("flag %s holds non-boolean %q: %w", f.key, raw, err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("get flag %s: %w", f.key, err)
	}
	return value, nil
}

func (f *Flag) Set(ctx context.Context, value bool) error {
	err := f.retry.Do(ctx, func(ctx context.Context) error {
		return f.store.Set(ctx, f.key, strconv.FormatBool(value), 0)
	})
	if err != nil {
		return fmt.Errorf("set flag %s: %w", f.key, err)
	}
	return nil
}
