package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultUnreadTTL bounds how long a cached unread count may drift from the store.
const DefaultUnreadTTL = 24 * time.Hour

const unreadKeyPrefix = "notifications:unread:"

// UnreadKey returns the cache key holding a user's unread notification count.
func UnreadKey(userID string) string {
	return unreadKeyPrefix + strings.TrimSpace(userID)
}

// UnreadCounter maintains per-user unread counts in a CounterStore.
type UnreadCounter struct {
	store CounterStore
	ttl   time.Duration
}

// NewUnreadCounter builds a counter; a non-positive ttl falls back to DefaultUnreadTTL.
func NewUnreadCounter(store CounterStore, ttl time.Duration) (*UnreadCounter, error) {
	if store == nil {
		return nil, errors.New("cache: counter store is required")
	}
	if ttl <= 0 {
		ttl = DefaultUnreadTTL
	}
	return &UnreadCounter{store: store, ttl: ttl}, nil
}

// Get returns the cached count; ok is false on a miss.
func (c *UnreadCounter) Get(ctx context.Context, userID string) (int64, bool, error) {
	return c.store.Get(ctx, UnreadKey(userID))
}

// Set populates the cache with an authoritative count.
func (c *UnreadCounter) Set(ctx context.Context, userID string, count int64) error {
	if count < 0 {
		count = 0
	}
	return c.store.Set(ctx, UnreadKey(userID), count, c.ttl)
}

// Increment adds one to a cached count. A miss is left alone.
func (c *UnreadCounter) Increment(ctx context.Context, userID string) (int64, bool, error) {
	return c.store.IncrementIfPresent(ctx, UnreadKey(userID), 1)
}

// Decrement subtracts n from a cached count, never going below zero.
func (c *UnreadCounter) Decrement(ctx context.Context, userID string, n int64) (int64, bool, error) {
	if n <= 0 {
		return c.Get(ctx, userID)
	}
	return c.store.IncrementIfPresent(ctx, UnreadKey(userID), -n)
}

// Reset pins the cached count to zero.
func (c *UnreadCounter) Reset(ctx context.Context, userID string) error {
	return c.store.Set(ctx, UnreadKey(userID), 0, c.ttl)
}

// Evict drops the cached count so the next read recomputes it.
func (c *UnreadCounter) Evict(ctx context.Context, userID string) error {
	return c.store.Delete(ctx, UnreadKey(userID))
}
