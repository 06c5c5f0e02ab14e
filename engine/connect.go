package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// HandleConnect is the fast connect-time phase, run synchronously before the
// session is admitted: it warms the moderation and preference caches so the
// first chat-path checks never touch the store, and clears a restriction that
// lapsed while the account was offline.
//
// Recovers from internal panics so a bug here can not block logins.
func (e *Engine) HandleConnect(ctx context.Context, accountID string) (restricted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("connect handler panicked", "account", accountID, "panic", r)
			connectsProcessed.WithLabelValues("error").Inc()
			restricted, err = false, fmt.Errorf("connect processing panicked: %v", r)
		}
	}()

	if _, err := e.CheckAndLiftIfExpired(ctx, accountID); err != nil {
		e.Logger.Warn("expiry check failed on connect", "account", accountID, "err", err)
	}

	rec, err := e.loadActiveRecord(ctx, accountID)
	if err != nil {
		// fail open: the account connects as unrestricted rather than being
		// locked out by a store outage
		e.Logger.Error("cache warm failed on connect", "account", accountID, "err", err)
		connectsProcessed.WithLabelValues("error").Inc()
		return false, nil
	}
	e.Preferences(ctx, accountID)

	connectsProcessed.WithLabelValues("ok").Inc()
	return rec != nil, nil
}

// TrackConnection is the slow connect-time phase, safe to run after the
// session is admitted: identity and address bookkeeping, watchlist alerting,
// restricted-alt detection, and pending-notice delivery. Individual step
// failures are logged and swallowed; a connection is never rejected here.
func (e *Engine) TrackConnection(ctx context.Context, accountID, displayName, address string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("connection tracking panicked", "account", accountID, "panic", r)
		}
		connectDuration.Observe(time.Since(start).Seconds())
	}()

	now := e.now()
	if err := e.Directory.RecordLogin(ctx, accountID, displayName, now); err != nil {
		e.Logger.Error("recording login failed", "account", accountID, "err", err)
	}
	if err := e.Addresses.Record(ctx, accountID, address, now); err != nil {
		e.Logger.Error("recording address failed", "account", accountID, "address", address, "err", err)
	}

	// whitelisted addresses are exempt from both watchlist alerts and alt
	// detection; shared addresses are expected there
	if !e.Lists.IsWhitelisted(address) {
		if hit, reason := e.Lists.IsWatchlisted(address); hit {
			watchlistHits.Inc()
			evt := WatchlistEvent{
				AccountID:   accountID,
				DisplayName: displayName,
				Address:     address,
				Reason:      reason,
			}
			if err := e.Notifier.WatchlistHit(ctx, evt); err != nil {
				e.Logger.Error("watchlist notification failed", "account", accountID, "err", err)
			}
		}
		e.checkForAlts(ctx, accountID, displayName, address)
	}

	e.deliverPendingNotices(ctx, accountID)
}

// HandleDisconnect drops the account's cached moderation state so memory is
// not held for offline accounts. The durable stores are untouched.
func (e *Engine) HandleDisconnect(ctx context.Context, accountID string) {
	if err := e.Cache.Purge(ctx, cacheNameRecord, accountID); err != nil {
		e.Logger.Warn("purging moderation cache failed", "account", accountID, "err", err)
	}
	if err := e.Cache.Purge(ctx, cacheNamePref, accountID); err != nil {
		e.Logger.Warn("purging preference cache failed", "account", accountID, "err", err)
	}
}

// CheckAndLiftIfExpired lifts the account's restriction when its expiry has
// passed. Returns true if a lift happened. The sweeper covers offline
// accounts; this covers the account's own next connection racing the sweep
// interval.
func (e *Engine) CheckAndLiftIfExpired(ctx context.Context, accountID string) (bool, error) {
	rec, err := e.loadActiveRecord(ctx, accountID)
	if err != nil {
		return false, err
	}
	if rec == nil || !rec.Expired(e.now()) {
		return false, nil
	}
	if err := e.Lift(ctx, accountID, nil, true); err != nil {
		return false, err
	}
	return true, nil
}

// checkForAlts looks for restricted accounts sharing the connecting address.
// Auto-restriction applies only when a sharing account's restriction is
// itself address-linked; a manually restricted sibling raises an alert but
// never auto-restricts.
func (e *Engine) checkForAlts(ctx context.Context, accountID, displayName, address string) {
	if e.IsRestricted(ctx, accountID) {
		return
	}

	sharing, err := e.Addresses.AccountsOn(ctx, address)
	if err != nil {
		e.Logger.Error("alt check failed", "account", accountID, "address", address, "err", err)
		return
	}
	delete(sharing, accountID)
	if len(sharing) == 0 {
		return
	}

	// only address-linked restrictions propagate: a manually restricted
	// sibling on the same address triggers neither auto-restriction nor an
	// admin alert, and is never recorded as a linkage origin
	var addressLinkedAlts []string
	for altID := range sharing {
		rec, err := e.Mods.ActiveRecord(ctx, altID)
		if err != nil || rec == nil {
			continue
		}
		if rec.AddressLinked() {
			addressLinkedAlts = append(addressLinkedAlts, altID)
		}
	}
	if len(addressLinkedAlts) == 0 {
		return
	}
	sort.Strings(addressLinkedAlts)

	autoRestricted := false
	if e.Config.AutoRestrictOnMatch {
		origin := addressLinkedAlts[0]
		originName := e.displayName(ctx, origin)
		applied, err := e.restrictOne(ctx, restrictParams{
			accountID:         accountID,
			reason:            fmt.Sprintf("shares address with restricted account (linked: %s)", originName),
			broadcast:         false,
			linkedFromAccount: &origin,
			linkedFromAddress: &address,
			kind:              "auto",
		})
		if err == nil && applied {
			autoRestricted = true
			e.sendOrQueueNotice(ctx, accountID, NoticeAutoRestricted)
		}
	}

	altAlertsRaised.Inc()
	if e.Config.NotifyAdminsOnAlt || autoRestricted {
		evt := AltEvent{
			AccountID:      accountID,
			DisplayName:    displayName,
			Address:        address,
			RestrictedAlts: addressLinkedAlts,
			AutoRestricted: autoRestricted,
		}
		if err := e.Notifier.AltDetected(ctx, evt); err != nil {
			e.Logger.Error("alt notification failed", "account", accountID, "err", err)
		}
	}
}

// deliverPendingNotices drains and delivers notices queued while the account
// was offline. Without a presence layer the queue is left intact; draining
// would discard the notices with no way to deliver them.
func (e *Engine) deliverPendingNotices(ctx context.Context, accountID string) {
	if e.Presence == nil {
		return
	}
	keys, err := e.Notices.Drain(ctx, accountID)
	if err != nil {
		e.Logger.Error("draining pending notices failed", "account", accountID, "err", err)
		return
	}
	for _, key := range keys {
		if err := e.Presence.SendNotice(ctx, accountID, key); err != nil {
			e.Logger.Warn("pending notice delivery failed, requeueing", "account", accountID, "notice", key)
			if qerr := e.Notices.Enqueue(ctx, accountID, key); qerr != nil {
				e.Logger.Error("requeueing notice failed", "account", accountID, "notice", key, "err", qerr)
			}
		}
	}
}
