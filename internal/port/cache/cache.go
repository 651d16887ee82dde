// Package cache defines the port for the decision cache.
package cache

import (
	"context"
	"time"
)

// Cache stores serialized values under string keys. A miss is reported via
// the bool, not the error; errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
