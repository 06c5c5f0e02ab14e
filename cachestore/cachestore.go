// Warden component for caching arbitrary data (as JSON strings) with explicit
// purging, keyed by a namespace and an account-scoped key.
//
// Includes an interface and implementations using redis and in-process
// memory. The engine updates entries synchronously inside restrict/lift
// rather than invalidating lazily, so hot-path restriction checks never see a
// stale-restricted entry.
package cachestore

import (
	"context"
)

type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}
