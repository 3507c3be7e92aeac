// Package cache provides the byte-oriented TTL cache used by the provider
// registry, with in-process and Redis backends.
package cache

import "time"

// Cache is a minimal TTL key-value store.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}
