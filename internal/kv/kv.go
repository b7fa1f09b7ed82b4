// Package kv is the narrow key-value abstraction used for durable flags and
// cross-process coordination hints. Production runs on Redis; tests and
// single-node setups use the in-memory store.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal key-value contract.
// A zero ttl means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// TryAdd sets key only if it does not exist yet.
	TryAdd(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndSwap replaces the value only if it currently equals old.
	CompareAndSwap(ctx context.Context, key, oldValue, newValue string) (bool, error)
	Delete(ctx context.Context, key string) error
}
