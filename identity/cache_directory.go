package identity

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheDirectory wraps an inner Directory with TTL'd LRU caches for both
// lookup directions. Negative results (unknown accounts) are cached too,
// since administrative lookups repeat them often.
type CacheDirectory struct {
	Inner     Directory
	idCache   *expirable.LRU[string, idEntry]
	nameCache *expirable.LRU[string, idEntry]
}

type idEntry struct {
	Updated  time.Time
	Identity *Identity
}

var _ Directory = (*CacheDirectory)(nil)

// Capacity of zero means unlimited size; ttl of zero means unlimited
// duration.
func NewCacheDirectory(inner Directory, capacity int, ttl time.Duration) *CacheDirectory {
	return &CacheDirectory{
		Inner:     inner,
		idCache:   expirable.NewLRU[string, idEntry](capacity, nil, ttl),
		nameCache: expirable.NewLRU[string, idEntry](capacity, nil, ttl),
	}
}

func nameKey(displayName string) string {
	return strings.ToLower(displayName)
}

func (d *CacheDirectory) LookupID(ctx context.Context, accountID string) (*Identity, error) {
	if entry, ok := d.idCache.Get(accountID); ok {
		idCacheHits.Inc()
		return entry.Identity, nil
	}
	idCacheMisses.Inc()

	ident, err := d.Inner.LookupID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	d.idCache.Add(accountID, idEntry{Updated: time.Now(), Identity: ident})
	if ident != nil {
		d.nameCache.Add(nameKey(ident.DisplayName), idEntry{Updated: time.Now(), Identity: ident})
	}
	return ident, nil
}

func (d *CacheDirectory) LookupName(ctx context.Context, displayName string) (*Identity, error) {
	if entry, ok := d.nameCache.Get(nameKey(displayName)); ok {
		nameCacheHits.Inc()
		return entry.Identity, nil
	}
	nameCacheMisses.Inc()

	ident, err := d.Inner.LookupName(ctx, displayName)
	if err != nil {
		return nil, err
	}
	d.nameCache.Add(nameKey(displayName), idEntry{Updated: time.Now(), Identity: ident})
	if ident != nil {
		d.idCache.Add(ident.AccountID, idEntry{Updated: time.Now(), Identity: ident})
	}
	return ident, nil
}

// RecordLogin writes through to the inner directory and refreshes both cache
// directions, so a name change is visible immediately.
func (d *CacheDirectory) RecordLogin(ctx context.Context, accountID, displayName string, now time.Time) error {
	if err := d.Inner.RecordLogin(ctx, accountID, displayName, now); err != nil {
		return err
	}
	ident := &Identity{AccountID: accountID, DisplayName: displayName, LastLogin: now}
	d.idCache.Add(accountID, idEntry{Updated: now, Identity: ident})
	d.nameCache.Add(nameKey(displayName), idEntry{Updated: now, Identity: ident})
	return nil
}

func (d *CacheDirectory) Purge(ctx context.Context, accountID string) error {
	if entry, ok := d.idCache.Get(accountID); ok && entry.Identity != nil {
		d.nameCache.Remove(nameKey(entry.Identity.DisplayName))
	}
	d.idCache.Remove(accountID)
	return d.Inner.Purge(ctx, accountID)
}
