package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhall/warden/store"
)

func testFinder(t *testing.T) (*Finder, *store.AddressStore) {
	t.Helper()
	db, err := store.SetupDatabase("sqlite://:memory:", 1)
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	addresses := store.NewAddressStore(db)
	return NewFinder(addresses), addresses
}

func record(t *testing.T, s *store.AddressStore, accountID, addr string, at time.Time) {
	t.Helper()
	require.NoError(t, s.Record(context.Background(), accountID, addr, at))
}

func TestFindConnectedDepthBound(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	finder, addresses := testFinder(t)

	// chain: a -1.1- b -1.2- c -1.3- d
	now := time.Now()
	record(t, addresses, "acc-a", "10.0.1.1", now)
	record(t, addresses, "acc-b", "10.0.1.1", now)
	record(t, addresses, "acc-b", "10.0.1.2", now)
	record(t, addresses, "acc-c", "10.0.1.2", now)
	record(t, addresses, "acc-c", "10.0.1.3", now)
	record(t, addresses, "acc-d", "10.0.1.3", now)

	depth1, err := finder.FindConnected(ctx, "acc-a", 1)
	require.NoError(t, err)
	assert.Len(depth1, 1)
	assert.Contains(depth1, "acc-b")
	assert.Equal(map[string]bool{"10.0.1.1": true}, depth1["acc-b"])

	depth2, err := finder.FindConnected(ctx, "acc-a", 2)
	require.NoError(t, err)
	assert.Len(depth2, 2)
	assert.Contains(depth2, "acc-c")

	full, err := finder.FindConnected(ctx, "acc-a", 5)
	require.NoError(t, err)
	assert.Len(full, 3)
	assert.Contains(full, "acc-d")
	// start account never appears in its own result
	assert.NotContains(full, "acc-a")
}

func TestFindConnectedHandlesCycles(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	finder, addresses := testFinder(t)

	// a and b share two addresses; the walk must terminate
	now := time.Now()
	record(t, addresses, "acc-a", "10.0.1.1", now)
	record(t, addresses, "acc-b", "10.0.1.1", now)
	record(t, addresses, "acc-a", "10.0.1.2", now)
	record(t, addresses, "acc-b", "10.0.1.2", now)

	connected, err := finder.FindConnected(ctx, "acc-a", DepthClamp)
	require.NoError(t, err)
	require.Len(t, connected, 1)
	assert.Equal(map[string]bool{"10.0.1.1": true, "10.0.1.2": true}, connected["acc-b"])
}

func TestFindConnectedIsolatedAccount(t *testing.T) {
	ctx := context.Background()
	finder, addresses := testFinder(t)
	record(t, addresses, "acc-lonely", "10.0.9.9", time.Now())

	connected, err := finder.FindConnected(ctx, "acc-lonely", 3)
	require.NoError(t, err)
	assert.Empty(t, connected)

	// unknown account: empty result, no error
	connected, err = finder.FindConnected(ctx, "acc-unknown", 3)
	require.NoError(t, err)
	assert.Empty(t, connected)
}

func TestCurrentLinksUsesMostRecentAddressOnly(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	finder, addresses := testFinder(t)

	t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	record(t, addresses, "acc-a", "10.0.1.1", t1)
	record(t, addresses, "acc-old", "10.0.1.1", t1)
	record(t, addresses, "acc-a", "10.0.1.2", t2)
	record(t, addresses, "acc-new", "10.0.1.2", t2)

	links, err := finder.CurrentLinks(ctx, "acc-a")
	require.NoError(t, err)
	assert.Equal(map[string]bool{"acc-new": true}, links)

	// no history at all
	links, err = finder.CurrentLinks(ctx, "acc-unknown")
	require.NoError(t, err)
	assert.Empty(links)
}

func TestClampDepth(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(1, ClampDepth(0))
	assert.Equal(1, ClampDepth(-5))
	assert.Equal(3, ClampDepth(3))
	assert.Equal(DepthClamp, ClampDepth(DepthClamp))
	assert.Equal(DepthClamp, ClampDepth(100))
}
