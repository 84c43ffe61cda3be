// Package cachestore is the key/value adapter in front of the remote cache.
// Values are opaque byte blobs; it knows nothing about entities.
package cachestore

import (
	"context"
	"time"
)

// Store is the cache primitive consumed by the entity cache layer. All
// single-key operations are atomic at the key level.
type Store interface {
	// Get returns the value under key. The bool is false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetEx stores value under key with the given expiry. Zero ttl means no expiry.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// DelIfValue deletes key only while it still holds value.
	DelIfValue(ctx context.Context, key string, value []byte) (bool, error)
	// MGet returns one element per key; nil marks a miss.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	// MSet writes all entries in a single round trip with a shared ttl.
	MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	// FlushAll drops every key. Administrative use only.
	FlushAll(ctx context.Context) error
}
