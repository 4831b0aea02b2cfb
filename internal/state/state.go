// Package state keeps per-user conversation state behind a small key-value
// abstraction so that the dialogue logic does not depend on where state
// lives.
package state

import (
	"context"
	"strconv"
	"time"

	"hroshi/internal/cache"
)

// Store holds one value per user id. Each method is atomic per key.
type Store[T any] interface {
	Get(ctx context.Context, userID int64) (T, bool, error)
	Set(ctx context.Context, userID int64, v T) error
	Delete(ctx context.Context, userID int64) error
}

// Memory is an in-process Store. Entries expire after the TTL so abandoned
// dialogues do not accumulate; the backing LRU also caps the number of users.
type Memory[T any] struct {
	lru *cache.LRUCache[T]
}

var _ Store[int] = (*Memory[int])(nil)

func NewMemory[T any](maxUsers int, ttl time.Duration) *Memory[T] {
	return &Memory[T]{lru: cache.NewLRUCache[T](maxUsers, ttl)}
}

// WithClock replaces the time source; used by tests.
func (m *Memory[T]) WithClock(now func() time.Time) *Memory[T] {
	m.lru.WithClock(now)
	return m
}

func (m *Memory[T]) Get(_ context.Context, userID int64) (T, bool, error) {
	v, ok := m.lru.Get(key(userID))
	return v, ok, nil
}

func (m *Memory[T]) Set(_ context.Context, userID int64, v T) error {
	m.lru.Set(key(userID), v)
	return nil
}

func (m *Memory[T]) Delete(_ context.Context, userID int64) error {
	m.lru.Delete(key(userID))
	return nil
}

// CleanExpired lets a cache.Manager prune the store.
func (m *Memory[T]) CleanExpired() int {
	return m.lru.CleanExpired()
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
