package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores JSON encodable values under string keys.
type Cache interface {
	// Get decodes the cached value into dest or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// NoopCache is used when no cache backend is configured. Every lookup misses.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, any) error {
	return ErrCacheMiss
}

func (NoopCache) Set(context.Context, string, any, time.Duration) error {
	return nil
}

func (NoopCache) Delete(context.Context, ...string) error {
	return nil
}

func (NoopCache) Close() error {
	return nil
}
