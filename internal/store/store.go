// Package store provides the key-value storage layer backing the ephemeral
// OAuth state store and the connection store. The production backend is
// valkey; an in-memory backend exists for tests and local development.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// KV is the minimal key-value contract parley needs. All values are opaque
// strings; callers handle serialization.
type KV interface {
	// Set writes a value with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value for a key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// GetDel atomically returns and deletes the value for a key, or
	// ErrNotFound. Two concurrent callers can never both receive the value.
	GetDel(ctx context.Context, key string) (string, error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Keys returns all keys matching the glob pattern. Implementations must
	// use incremental iteration, never a blocking full-keyspace command.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases the underlying client.
	Close()
}
