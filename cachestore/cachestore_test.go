package cachestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCacheBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cs := NewMemCacheStore()

	v, err := cs.Get(ctx, "modrec", "acc-alice")
	require.NoError(t, err)
	assert.Equal("", v)

	require.NoError(t, cs.Set(ctx, "modrec", "acc-alice", "one"))
	v, err = cs.Get(ctx, "modrec", "acc-alice")
	require.NoError(t, err)
	assert.Equal("one", v)

	// names are separate keyspaces
	v, err = cs.Get(ctx, "pref", "acc-alice")
	require.NoError(t, err)
	assert.Equal("", v)

	require.NoError(t, cs.Set(ctx, "modrec", "acc-alice", "two"))
	v, err = cs.Get(ctx, "modrec", "acc-alice")
	require.NoError(t, err)
	assert.Equal("two", v)

	require.NoError(t, cs.Purge(ctx, "modrec", "acc-alice"))
	v, err = cs.Get(ctx, "modrec", "acc-alice")
	require.NoError(t, err)
	assert.Equal("", v)

	// purging an absent key is a no-op
	require.NoError(t, cs.Purge(ctx, "modrec", "acc-nobody"))
}

func TestMemCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	cs := NewMemCacheStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("acc-%d", n)
			for j := 0; j < 100; j++ {
				_ = cs.Set(ctx, "modrec", key, fmt.Sprintf("%d", j))
				_, _ = cs.Get(ctx, "modrec", key)
			}
			_ = cs.Purge(ctx, "modrec", key)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		v, err := cs.Get(ctx, "modrec", fmt.Sprintf("acc-%d", i))
		require.NoError(t, err)
		assert.Equal(t, "", v)
	}
}

// Requires a running redis; set WARDEN_TEST_REDIS_URL to run, eg:
//
//	WARDEN_TEST_REDIS_URL=redis://localhost:6379/0 go test ./cachestore/
func TestRedisCacheBasics(t *testing.T) {
	redisURL := os.Getenv("WARDEN_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("WARDEN_TEST_REDIS_URL not set, skipping redis cachestore test")
	}
	assert := assert.New(t)
	ctx := context.Background()

	cs, err := NewRedisCacheStore(redisURL, time.Minute)
	require.NoError(t, err)

	key := fmt.Sprintf("acc-%d", time.Now().UnixNano())

	v, err := cs.Get(ctx, "modrec", key)
	require.NoError(t, err)
	assert.Equal("", v)

	require.NoError(t, cs.Set(ctx, "modrec", key, "one"))
	v, err = cs.Get(ctx, "modrec", key)
	require.NoError(t, err)
	assert.Equal("one", v)

	// names are separate keyspaces here too
	v, err = cs.Get(ctx, "pref", key)
	require.NoError(t, err)
	assert.Equal("", v)

	require.NoError(t, cs.Purge(ctx, "modrec", key))
	v, err = cs.Get(ctx, "modrec", key)
	require.NoError(t, err)
	assert.Equal("", v)

	// purging an absent key is a no-op
	require.NoError(t, cs.Purge(ctx, "modrec", key))
}
