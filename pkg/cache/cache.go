package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	// ErrNotLockOwner is returned when a lock is held by someone else.
	ErrNotLockOwner = errors.New("cache: lock held by another owner")
)

// Service is the key-value surface the trader keeps its shared state in.
// Values are JSON encoded except plain strings, which are stored as is.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	// TryLock takes key for owner, or extends it if owner already holds it.
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Unlock releases key only if owner holds it.
	Unlock(ctx context.Context, key, owner string) error
}
