package cachestore

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemCacheStore is safe for concurrent use without external locking. Entries
// live until explicitly purged; the engine purges on disconnect, which bounds
// the cache to currently connected accounts.
type MemCacheStore struct {
	data *xsync.MapOf[string, string]
}

func NewMemCacheStore() *MemCacheStore {
	return &MemCacheStore{
		data: xsync.NewMapOf[string, string](),
	}
}

func (s *MemCacheStore) Get(ctx context.Context, name, key string) (string, error) {
	v, ok := s.data.Load(name + "/" + key)
	if !ok {
		return "", nil
	}
	return v, nil
}

func (s *MemCacheStore) Set(ctx context.Context, name, key string, val string) error {
	s.data.Store(name+"/"+key, val)
	return nil
}

func (s *MemCacheStore) Purge(ctx context.Context, name, key string) error {
	s.data.Delete(name + "/" + key)
	return nil
}
