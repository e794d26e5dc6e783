package cache

import (
	"context"
	"time"
)

// CounterStore is a shared integer cache. Increments only touch keys that are
// already present; callers repopulate misses from the source of truth.
type CounterStore interface {
	// IncrementIfPresent adds delta to an existing key, clamping at zero. The
	// boolean is false when the key was absent or expired and nothing changed.
	IncrementIfPresent(ctx context.Context, key string, delta int64) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Get(ctx context.Context, key string) (int64, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
