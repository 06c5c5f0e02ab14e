package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhall/warden/store"
)

func testStoreDirectory(t *testing.T) *StoreDirectory {
	t.Helper()
	db, err := store.SetupDatabase("sqlite://:memory:", 1)
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	return NewStoreDirectory(store.NewIdentityStore(db))
}

func TestStoreDirectoryRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir := testStoreDirectory(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, dir.RecordLogin(ctx, "acc-bob", "Bob", now))

	ident, err := dir.LookupID(ctx, "acc-bob")
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal("Bob", ident.DisplayName)
	assert.True(ident.LastLogin.Equal(now))

	ident, err = dir.LookupName(ctx, "BOB")
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal("acc-bob", ident.AccountID)

	// unknown account is nil, not an error
	ident, err = dir.LookupID(ctx, "acc-nobody")
	require.NoError(t, err)
	assert.Nil(ident)
}

type countingDirectory struct {
	Directory
	idLookups int
}

func (d *countingDirectory) LookupID(ctx context.Context, accountID string) (*Identity, error) {
	d.idLookups++
	return d.Directory.LookupID(ctx, accountID)
}

func TestCacheDirectoryHitsAndWriteThrough(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	counting := &countingDirectory{Directory: testStoreDirectory(t)}
	dir := NewCacheDirectory(counting, 100, time.Hour)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, dir.RecordLogin(ctx, "acc-bob", "Bob", now))

	// RecordLogin primed the cache: no inner lookup needed
	ident, err := dir.LookupID(ctx, "acc-bob")
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal("Bob", ident.DisplayName)
	assert.Equal(0, counting.idLookups)

	// name direction primed too
	ident, err = dir.LookupName(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal("acc-bob", ident.AccountID)

	// a name change is visible immediately through both directions
	require.NoError(t, dir.RecordLogin(ctx, "acc-bob", "Bobby", now.Add(time.Hour)))
	ident, err = dir.LookupID(ctx, "acc-bob")
	require.NoError(t, err)
	assert.Equal("Bobby", ident.DisplayName)
}

func TestCacheDirectoryCachesNegativeResults(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	counting := &countingDirectory{Directory: testStoreDirectory(t)}
	dir := NewCacheDirectory(counting, 100, time.Hour)

	ident, err := dir.LookupID(ctx, "acc-ghost")
	require.NoError(t, err)
	assert.Nil(ident)
	assert.Equal(1, counting.idLookups)

	ident, err = dir.LookupID(ctx, "acc-ghost")
	require.NoError(t, err)
	assert.Nil(ident)
	assert.Equal(1, counting.idLookups)
}

func TestDisplayNameOr(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("fallback", DisplayNameOr(nil, "fallback"))
	assert.Equal("fallback", DisplayNameOr(&Identity{}, "fallback"))
	assert.Equal("Bob", DisplayNameOr(&Identity{DisplayName: "Bob"}, "fallback"))
}
