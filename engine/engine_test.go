package engine

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhall/warden/watchlist"
)

func newTestMatcher(t *testing.T, whitelist []string, watched map[string]string) *watchlist.Matcher {
	t.Helper()
	cfg := watchlist.Config{Whitelist: whitelist}
	for addr, reason := range watched {
		cfg.Watchlist = append(cfg.Watchlist, watchlist.Entry{Address: addr, Reason: reason})
	}
	return watchlist.NewMatcher(cfg, slog.Default())
}

func connect(t *testing.T, eng *Engine, accountID, name, addr string) {
	t.Helper()
	ctx := context.Background()
	_, err := eng.HandleConnect(ctx, accountID)
	require.NoError(t, err)
	eng.TrackConnection(ctx, accountID, name, addr)
}

func TestRestrictLiftLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, notifier, _ := EngineTestFixture()

	connect(t, eng, "acc-alice", "alice", "10.0.0.1")
	assert.False(eng.IsRestricted(ctx, "acc-alice"))

	require.NoError(t, eng.Restrict(ctx, "acc-alice", "spamming", nil, nil, ""))
	assert.True(eng.IsRestricted(ctx, "acc-alice"))

	rec, err := eng.ActiveRecord(ctx, "acc-alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal("spamming", rec.Reason)
	assert.Nil(rec.ExpiresAt)
	assert.False(rec.AddressLinked())

	// restriction forces both preference flags on
	visible, observing := eng.Preferences(ctx, "acc-alice")
	assert.True(visible)
	assert.True(observing)

	// restricting an already restricted account is a no-op
	require.NoError(t, eng.Restrict(ctx, "acc-alice", "again", nil, nil, ""))
	history, err := eng.History(ctx, "acc-alice")
	require.NoError(t, err)
	assert.Len(history, 1)
	assert.Len(notifier.Restrictions, 1)
	assert.Equal("console", notifier.Restrictions[0].IssuerName)
	assert.Equal("alice", notifier.Restrictions[0].DisplayName)

	require.NoError(t, eng.Lift(ctx, "acc-alice", nil, false))
	assert.False(eng.IsRestricted(ctx, "acc-alice"))
	require.Len(t, notifier.Lifts, 1)
	assert.False(notifier.Lifts[0].Expired)

	// observing dropped on lift, visibility kept
	visible, observing = eng.Preferences(ctx, "acc-alice")
	assert.True(visible)
	assert.False(observing)

	// lifting a clear account is a no-op
	require.NoError(t, eng.Lift(ctx, "acc-alice", nil, false))
	assert.Len(notifier.Lifts, 1)

	history, err = eng.History(ctx, "acc-alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(history[0].Active)
	assert.NotNil(history[0].EndedAt)
}

func TestCascadeRestrictAndLift(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, notifier, _ := EngineTestFixture()

	// bob and carol share a current address; dave shares with carol only
	connect(t, eng, "acc-bob", "bob", "10.0.0.7")
	connect(t, eng, "acc-carol", "carol", "10.0.0.7")
	connect(t, eng, "acc-dave", "dave", "10.0.0.8")
	connect(t, eng, "acc-carol", "carol", "10.0.0.8")
	// carol's current address is now 10.0.0.8

	require.NoError(t, eng.Restrict(ctx, "acc-carol", "evasion", nil, nil, ""))
	assert.True(eng.IsRestricted(ctx, "acc-carol"))
	assert.True(eng.IsRestricted(ctx, "acc-dave"))
	// bob shares only a historical address, not carol's current one
	assert.False(eng.IsRestricted(ctx, "acc-bob"))

	// only the primary action is announced
	assert.Len(notifier.Restrictions, 1)

	daveRec, err := eng.ActiveRecord(ctx, "acc-dave")
	require.NoError(t, err)
	require.NotNil(t, daveRec)
	require.NotNil(t, daveRec.LinkedFromAccount)
	assert.Equal("acc-carol", *daveRec.LinkedFromAccount)
	assert.Contains(daveRec.Reason, "linked: carol")

	// lifting the origin cascades to linked records
	require.NoError(t, eng.Lift(ctx, "acc-carol", nil, false))
	assert.False(eng.IsRestricted(ctx, "acc-carol"))
	assert.False(eng.IsRestricted(ctx, "acc-dave"))
	assert.Len(notifier.Lifts, 1)
}

func TestExpiryLiftOnConnectAndSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, notifier, presence := EngineTestFixture()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.Clock = func() time.Time { return now }

	connect(t, eng, "acc-alice", "alice", "10.0.0.1")
	expires := now.Add(time.Hour)
	require.NoError(t, eng.Restrict(ctx, "acc-alice", "timeout", nil, &expires, ""))
	assert.True(eng.IsRestricted(ctx, "acc-alice"))

	// not yet expired: sweep does nothing
	assert.Equal(0, eng.SweepExpired(ctx))
	assert.True(eng.IsRestricted(ctx, "acc-alice"))

	now = now.Add(2 * time.Hour)

	// account offline: the sweep lifts and queues the notice
	assert.Equal(1, eng.SweepExpired(ctx))
	assert.False(eng.IsRestricted(ctx, "acc-alice"))
	require.Len(t, notifier.Lifts, 0) // expiry is notice-delivered, not broadcast
	assert.Empty(presence.Sent)

	keys, err := eng.Notices.Drain(ctx, "acc-alice")
	require.NoError(t, err)
	assert.Equal([]string{NoticeRestrictionExpired}, keys)
}

func TestExpiryNoticeDeliveredOnReconnect(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _, presence := EngineTestFixture()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.Clock = func() time.Time { return now }

	connect(t, eng, "acc-alice", "alice", "10.0.0.1")
	expires := now.Add(time.Hour)
	require.NoError(t, eng.Restrict(ctx, "acc-alice", "timeout", nil, &expires, ""))
	eng.HandleDisconnect(ctx, "acc-alice")

	now = now.Add(2 * time.Hour)

	// reconnect before any sweep ran: the connect-time expiry check lifts
	restricted, err := eng.HandleConnect(ctx, "acc-alice")
	require.NoError(t, err)
	assert.False(restricted)
	assert.False(eng.IsRestricted(ctx, "acc-alice"))

	presence.SetOnline("acc-alice", true)
	eng.TrackConnection(ctx, "acc-alice", "alice", "10.0.0.1")
	require.Len(t, presence.Sent, 1)
	assert.Equal(NoticeRestrictionExpired, presence.Sent[0].NoticeKey)

	// queue is drained
	keys, err := eng.Notices.Drain(ctx, "acc-alice")
	require.NoError(t, err)
	assert.Empty(keys)
}

func TestAutoRestrictOnConnect(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, notifier, presence := EngineTestFixture()

	connect(t, eng, "acc-bob", "bob", "10.0.0.7")
	require.NoError(t, eng.IPRestrictAccount(ctx, "acc-bob", "ban evasion", nil, nil))
	assert.True(eng.IsRestricted(ctx, "acc-bob"))

	// carol connects from bob's address while his restriction is
	// address-linked: she is auto-restricted silently
	presence.SetOnline("acc-carol", true)
	connect(t, eng, "acc-carol", "carol", "10.0.0.7")
	assert.True(eng.IsRestricted(ctx, "acc-carol"))

	carolRec, err := eng.ActiveRecord(ctx, "acc-carol")
	require.NoError(t, err)
	require.NotNil(t, carolRec)
	assert.True(carolRec.AddressLinked())
	require.NotNil(t, carolRec.LinkedFromAddress)
	assert.Equal("10.0.0.7", *carolRec.LinkedFromAddress)

	// carol is told, admins are alerted, nothing is broadcast for her
	require.Len(t, presence.Sent, 1)
	assert.Equal(NoticeAutoRestricted, presence.Sent[0].NoticeKey)
	require.Len(t, notifier.Alts, 1)
	assert.True(notifier.Alts[0].AutoRestricted)
	assert.Equal([]string{"acc-bob"}, notifier.Alts[0].RestrictedAlts)
	assert.Len(notifier.Restrictions, 1) // bob's only
}

func TestManualRestrictionDoesNotAutoRestrict(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, notifier, _ := EngineTestFixture()

	connect(t, eng, "acc-bob", "bob", "10.0.0.7")
	// plain restrict, no address linkage recorded for bob himself
	require.NoError(t, eng.Restrict(ctx, "acc-bob", "spamming", nil, nil, ""))

	connect(t, eng, "acc-carol", "carol", "10.0.0.7")
	assert.False(eng.IsRestricted(ctx, "acc-carol"))

	// a manually restricted sibling raises no admin alert either
	assert.Empty(notifier.Alts)
}

func TestAutoRestrictLinksToAddressLinkedAltOnly(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, notifier, _ := EngineTestFixture()

	// acc-aaa is manually restricted and sorts before acc-bob, whose
	// restriction carries address linkage
	connect(t, eng, "acc-aaa", "aaa", "10.0.0.7")
	require.NoError(t, eng.Restrict(ctx, "acc-aaa", "spamming", nil, nil, ""))
	connect(t, eng, "acc-bob", "bob", "10.0.0.7")
	require.NoError(t, eng.IPRestrictAccount(ctx, "acc-bob", "ban evasion", nil, nil))

	connect(t, eng, "acc-zed", "zed", "10.0.0.7")
	assert.True(eng.IsRestricted(ctx, "acc-zed"))

	// provenance names the address-linked alt, never the manual one
	zedRec, err := eng.ActiveRecord(ctx, "acc-zed")
	require.NoError(t, err)
	require.NotNil(t, zedRec)
	require.NotNil(t, zedRec.LinkedFromAccount)
	assert.Equal("acc-bob", *zedRec.LinkedFromAccount)

	// the alert reports only the address-linked alts
	require.Len(t, notifier.Alts, 1)
	assert.Equal([]string{"acc-bob"}, notifier.Alts[0].RestrictedAlts)

	// lifting the unrelated manual restriction must not free the evader
	require.NoError(t, eng.Lift(ctx, "acc-aaa", nil, false))
	assert.True(eng.IsRestricted(ctx, "acc-zed"))

	require.NoError(t, eng.Lift(ctx, "acc-bob", nil, false))
	assert.False(eng.IsRestricted(ctx, "acc-zed"))
}

func TestPendingNoticesKeptWithoutPresence(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _, _ := EngineTestFixture()
	eng.Presence = nil

	require.NoError(t, eng.Notices.Enqueue(ctx, "acc-alice", NoticeRestrictionExpired))
	connect(t, eng, "acc-alice", "alice", "10.0.0.1")

	// no presence layer: the queue must survive the connect untouched
	keys, err := eng.Notices.Drain(ctx, "acc-alice")
	require.NoError(t, err)
	assert.Equal([]string{NoticeRestrictionExpired}, keys)
}

func TestWhitelistSkipsAltDetection(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, notifier, _ := EngineTestFixture()
	eng.Lists = newTestMatcher(t, []string{"10.0.0.0/24"}, nil)

	connect(t, eng, "acc-bob", "bob", "10.0.0.7")
	require.NoError(t, eng.IPRestrictAccount(ctx, "acc-bob", "ban evasion", nil, nil))

	connect(t, eng, "acc-carol", "carol", "10.0.0.7")
	assert.False(eng.IsRestricted(ctx, "acc-carol"))
	assert.Empty(notifier.Alts)
}

func TestWatchlistAlertOnConnect(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, notifier, _ := EngineTestFixture()
	eng.Lists = newTestMatcher(t, nil, map[string]string{"203.0.113.9": "known proxy"})

	connect(t, eng, "acc-alice", "alice", "203.0.113.9")
	require.Len(t, notifier.WatchlistHits, 1)
	assert.Equal("known proxy", notifier.WatchlistHits[0].Reason)
	assert.Equal("203.0.113.9", notifier.WatchlistHits[0].Address)

	// watchlist alerts do not restrict
	assert.False(eng.IsRestricted(ctx, "acc-alice"))
}

func TestTogglesRejectedWhileRestricted(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _, _ := EngineTestFixture()

	connect(t, eng, "acc-alice", "alice", "10.0.0.1")

	visible, err := eng.ToggleChatVisible(ctx, "acc-alice")
	require.NoError(t, err)
	assert.False(visible) // default was true

	require.NoError(t, eng.Restrict(ctx, "acc-alice", "spamming", nil, nil, ""))

	_, err = eng.ToggleChatVisible(ctx, "acc-alice")
	assert.ErrorIs(err, ErrRestricted)
	_, err = eng.ToggleObserving(ctx, "acc-alice")
	assert.ErrorIs(err, ErrRestricted)

	// restriction forced both flags back on
	visible, observing := eng.Preferences(ctx, "acc-alice")
	assert.True(visible)
	assert.True(observing)
}

func TestIPRestrictAddressAndLift(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, notifier, _ := EngineTestFixture()

	connect(t, eng, "acc-bob", "bob", "10.0.0.7")
	connect(t, eng, "acc-carol", "carol", "10.0.0.7")
	connect(t, eng, "acc-dave", "dave", "10.0.0.9")

	n, err := eng.IPRestrictAddress(ctx, "10.0.0.7", "abuse from address", nil, nil)
	require.NoError(t, err)
	assert.Equal(2, n)
	assert.True(eng.IsRestricted(ctx, "acc-bob"))
	assert.True(eng.IsRestricted(ctx, "acc-carol"))
	assert.False(eng.IsRestricted(ctx, "acc-dave"))
	// one announcement for the whole batch
	assert.Len(notifier.Restrictions, 1)

	// idempotent: everyone already restricted
	n, err = eng.IPRestrictAddress(ctx, "10.0.0.7", "abuse from address", nil, nil)
	require.NoError(t, err)
	assert.Equal(0, n)

	n, err = eng.IPLiftAddress(ctx, "10.0.0.7", nil)
	require.NoError(t, err)
	assert.Equal(2, n)
	assert.False(eng.IsRestricted(ctx, "acc-bob"))
	assert.False(eng.IsRestricted(ctx, "acc-carol"))
	assert.Len(notifier.Lifts, 1)
}

func TestDetectAltsReport(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _, _ := EngineTestFixture()

	connect(t, eng, "acc-bob", "bob", "10.0.0.7")
	connect(t, eng, "acc-carol", "carol", "10.0.0.7")
	connect(t, eng, "acc-bob", "bob", "10.0.0.8")
	connect(t, eng, "acc-eve", "eve", "10.0.0.8")
	// bob's current address is 10.0.0.8, shared with eve; carol is historical

	report, err := eng.DetectAlts(ctx, "acc-bob", 0)
	require.NoError(t, err)
	assert.Equal("10.0.0.8", report.CurrentAddress)
	assert.Equal("bob", report.DisplayName)

	require.Len(t, report.Direct, 1)
	assert.Equal("acc-eve", report.Direct[0].AccountID)
	assert.True(report.Direct[0].MatchedCurrentAddress)
	assert.Equal([]string{"10.0.0.8"}, report.Direct[0].SharedAddresses)

	require.Len(t, report.Historical, 1)
	assert.Equal("acc-carol", report.Historical[0].AccountID)
	assert.False(report.Historical[0].MatchedCurrentAddress)
}

func TestUnlinkSeversConnectivity(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _, _ := EngineTestFixture()

	connect(t, eng, "acc-bob", "bob", "10.0.0.1")
	connect(t, eng, "acc-bob", "bob", "10.0.0.2")
	connect(t, eng, "acc-bob", "bob", "10.0.0.3")
	connect(t, eng, "acc-carol", "carol", "10.0.0.2")

	removed, err := eng.Unlink(ctx, "acc-bob")
	require.NoError(t, err)
	assert.Equal(int64(3), removed)

	report, err := eng.DetectAlts(ctx, "acc-bob", 0)
	require.NoError(t, err)
	assert.Empty(report.Direct)
	assert.Empty(report.Historical)
	assert.Empty(report.Addresses)
}

func TestAddressHistoryPagination(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _, _ := EngineTestFixture()
	eng.Config.PageSize = 2

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		eng.Clock = func() time.Time { return now }
		connect(t, eng, "acc-bob", "bob", fmt.Sprintf("10.0.0.%d", i+1))
	}

	page1, total, err := eng.AddressHistory(ctx, "acc-bob", 1)
	require.NoError(t, err)
	assert.Equal(3, total)
	require.Len(t, page1, 2)
	// most recent first
	assert.Equal("10.0.0.5", page1[0].Address)

	page3, _, err := eng.AddressHistory(ctx, "acc-bob", 3)
	require.NoError(t, err)
	assert.Len(page3, 1)

	page4, _, err := eng.AddressHistory(ctx, "acc-bob", 4)
	require.NoError(t, err)
	assert.Empty(page4)
}

func TestDisconnectPurgesCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _, _ := EngineTestFixture()

	connect(t, eng, "acc-alice", "alice", "10.0.0.1")
	require.NoError(t, eng.Restrict(ctx, "acc-alice", "spamming", nil, nil, ""))

	eng.HandleDisconnect(ctx, "acc-alice")

	raw, err := eng.Cache.Get(ctx, cacheNameRecord, "acc-alice")
	require.NoError(t, err)
	assert.Empty(raw)

	// state still answerable from the store
	assert.True(eng.IsRestricted(ctx, "acc-alice"))
}
