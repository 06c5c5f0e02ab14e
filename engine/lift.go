package engine

import (
	"context"
	"sort"
)

// Notice keys delivered to an account, immediately if online or via the
// pending-notice queue otherwise. The presentation layer owns the text.
const (
	NoticeRestrictionExpired = "restriction_expired"
	NoticeAutoRestricted     = "auto_restricted"
)

// Lift clears an account's active restriction and cascades to every account
// whose restriction was linked from it. Cascaded lifts are always silent;
// only the primary lift or expiry is announced.
func (e *Engine) Lift(ctx context.Context, accountID string, issuerID *string, isExpiry bool) error {
	return e.lift(ctx, accountID, issuerID, isExpiry, true)
}

func (e *Engine) lift(ctx context.Context, accountID string, issuerID *string, isExpiry, broadcast bool) error {
	// capture the record's own address linkage and the identity before
	// deactivating; both are needed for cascade matching and notification
	// text afterwards. Cascades follow recorded provenance only: an account
	// that merely shares the address never drags linked records with it.
	originAddr := ""
	if rec, err := e.loadActiveRecord(ctx, accountID); err == nil && rec != nil && rec.LinkedFromAddress != nil {
		originAddr = *rec.LinkedFromAddress
	}
	originName := e.displayName(ctx, accountID)

	applied, err := e.liftOne(ctx, accountID, issuerID, isExpiry, broadcast, originName)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	e.cascadeLift(ctx, accountID, originAddr, issuerID, isExpiry)
	return nil
}

// liftOne clears a single account under its lock. Returns false when the
// account was already clear.
func (e *Engine) liftOne(ctx context.Context, accountID string, issuerID *string, isExpiry, broadcast bool, displayName string) (bool, error) {
	mu := e.lockFor(accountID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := e.loadActiveRecord(ctx, accountID)
	if err != nil {
		e.Logger.Error("lift aborted, active-record check failed", "account", accountID, "err", err)
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	if err := e.Mods.Deactivate(ctx, accountID, e.now()); err != nil {
		e.Logger.Error("lift failed to persist", "account", accountID, "err", err)
		return false, err
	}
	e.cacheActiveRecord(ctx, accountID, nil)

	// observing is forced off; visibility is left as the account chose it
	visible, _ := e.Preferences(ctx, accountID)
	if err := e.setPreferences(ctx, accountID, visible, false); err != nil {
		e.Logger.Error("clearing observer flag failed", "account", accountID, "err", err)
	}

	kind := "manual"
	if isExpiry {
		kind = "expiry"
	} else if !broadcast {
		kind = "cascade"
	}
	liftsApplied.WithLabelValues(kind).Inc()
	e.Logger.Info("restriction lifted", "account", accountID, "kind", kind)

	if isExpiry {
		e.sendOrQueueNotice(ctx, accountID, NoticeRestrictionExpired)
	} else if broadcast {
		evt := LiftEvent{
			AccountID:   accountID,
			DisplayName: displayName,
			IssuerName:  e.issuerName(ctx, issuerID),
			Expired:     false,
		}
		if err := e.Notifier.RestrictionLifted(ctx, evt); err != nil {
			e.Logger.Error("lift notification failed", "account", accountID, "err", err)
		}
	}
	return true, nil
}

// cascadeLift walks linked-from provenance transitively: accounts linked
// from origin, accounts linked from those, and so on. The full set is
// collected before any lift is applied. Matching is on the structured
// linked-from columns, so it survives origin display-name changes and works
// after the origin record itself has been deactivated. Address matching
// uses the address recorded on each lifted record, never a live address
// lookup, so only records tied to the same address action are swept up.
func (e *Engine) cascadeLift(ctx context.Context, originID, originAddr string, issuerID *string, isExpiry bool) {
	active, err := e.Mods.AllActiveAccountIDs(ctx)
	if err != nil {
		e.Logger.Error("cascade lift scan failed", "account", originID, "err", err)
		return
	}

	matched := map[string]bool{}
	queue := [][2]string{{originID, originAddr}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curID, curAddr := cur[0], cur[1]

		for accountID := range active {
			if accountID == originID || matched[accountID] {
				continue
			}
			rec, err := e.Mods.ActiveRecord(ctx, accountID)
			if err != nil || rec == nil {
				continue
			}
			linked := false
			if rec.LinkedFromAccount != nil && *rec.LinkedFromAccount == curID {
				linked = true
			}
			if !linked && curAddr != "" && rec.LinkedFromAddress != nil && *rec.LinkedFromAddress == curAddr {
				linked = true
			}
			if !linked {
				continue
			}
			matched[accountID] = true
			addr := ""
			if rec.LinkedFromAddress != nil {
				addr = *rec.LinkedFromAddress
			}
			queue = append(queue, [2]string{accountID, addr})
		}
	}
	if len(matched) == 0 {
		return
	}

	targets := make([]string, 0, len(matched))
	for accountID := range matched {
		targets = append(targets, accountID)
	}
	sort.Strings(targets)
	for _, target := range targets {
		name := e.displayName(ctx, target)
		if _, err := e.liftOne(ctx, target, issuerID, isExpiry, false, name); err != nil {
			continue
		}
		e.Logger.Info("cascade-lifted linked account", "account", target, "origin", originID)
	}
}

// sendOrQueueNotice delivers a notice immediately when the account is
// online, and queues it durably otherwise.
func (e *Engine) sendOrQueueNotice(ctx context.Context, accountID, noticeKey string) {
	if e.Presence != nil && e.Presence.IsOnline(accountID) {
		if err := e.Presence.SendNotice(ctx, accountID, noticeKey); err == nil {
			return
		}
		e.Logger.Warn("direct notice delivery failed, queueing", "account", accountID, "notice", noticeKey)
	}
	if err := e.Notices.Enqueue(ctx, accountID, noticeKey); err != nil {
		e.Logger.Error("queueing notice failed", "account", accountID, "notice", noticeKey, "err", err)
	}
}
