package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emberhall/warden/graph"
	"github.com/emberhall/warden/store"
)

type restrictParams struct {
	accountID         string
	reason            string
	issuerID          *string
	expiresAt         *time.Time
	trigger           string
	broadcast         bool
	linkedFromAccount *string
	linkedFromAddress *string
	kind              string // metrics label: manual, auto, cascade
}

// Restrict places an account under restriction and cascades to every account
// linked through the subject's current address. The primary target's action
// is announced; cascaded restrictions are silent and carry structured
// linked-from provenance so a later lift can find them.
func (e *Engine) Restrict(ctx context.Context, accountID, reason string, issuerID *string, expiresAt *time.Time, trigger string) error {
	applied, err := e.restrictOne(ctx, restrictParams{
		accountID: accountID,
		reason:    reason,
		issuerID:  issuerID,
		expiresAt: expiresAt,
		trigger:   trigger,
		broadcast: true,
		kind:      "manual",
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	e.cascadeRestrict(ctx, accountID, reason, issuerID, expiresAt)
	return nil
}

// restrictOne applies a single restriction under the account's lock. Returns
// false without error when the account is already restricted: the
// at-most-one-active invariant is enforced here, not just at storage level.
func (e *Engine) restrictOne(ctx context.Context, p restrictParams) (bool, error) {
	mu := e.lockFor(p.accountID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := e.loadActiveRecord(ctx, p.accountID)
	if err != nil {
		e.Logger.Error("restrict aborted, active-record check failed", "account", p.accountID, "err", err)
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	now := e.now()
	rec := &store.ModerationRecord{
		AccountID:         p.accountID,
		Active:            true,
		Reason:            p.reason,
		IssuerID:          p.issuerID,
		CreatedAt:         now,
		ExpiresAt:         p.expiresAt,
		TriggerPayload:    p.trigger,
		LinkedFromAccount: p.linkedFromAccount,
		LinkedFromAddress: p.linkedFromAddress,
	}
	if err := e.Mods.Create(ctx, rec); err != nil {
		// cache deliberately left untouched: a failed persist must not
		// claim success in the cache
		e.Logger.Error("restrict failed to persist", "account", p.accountID, "err", err)
		return false, err
	}
	e.cacheActiveRecord(ctx, p.accountID, rec)

	// a restricted account cannot hide its own restricted-channel traffic
	if err := e.setPreferences(ctx, p.accountID, true, true); err != nil {
		e.Logger.Error("forcing preferences failed", "account", p.accountID, "err", err)
	}

	restrictionsApplied.WithLabelValues(p.kind).Inc()
	e.Logger.Info("account restricted", "account", p.accountID, "reason", p.reason, "kind", p.kind, "expires", p.expiresAt)

	if p.broadcast {
		evt := RestrictionEvent{
			AccountID:   p.accountID,
			DisplayName: e.displayName(ctx, p.accountID),
			Reason:      p.reason,
			IssuerID:    p.issuerID,
			IssuerName:  e.issuerName(ctx, p.issuerID),
			ExpiresAt:   p.expiresAt,
		}
		if err := e.Notifier.RestrictionApplied(ctx, evt); err != nil {
			e.Logger.Error("restriction notification failed", "account", p.accountID, "err", err)
		}
	}
	return true, nil
}

// cascadeRestrict restricts every account reachable from origin through
// current-address links. The connected set is computed in full before any
// action is applied, so the outcome is deterministic even when the links
// form a cycle.
func (e *Engine) cascadeRestrict(ctx context.Context, originID, reason string, issuerID *string, expiresAt *time.Time) {
	targets, err := e.collectCurrentLinkClosure(ctx, originID)
	if err != nil {
		e.Logger.Error("cascade link search failed", "account", originID, "err", err)
		return
	}
	if len(targets) == 0 {
		return
	}

	originName := e.displayName(ctx, originID)
	linkedReason := fmt.Sprintf("%s (linked: %s)", reason, originName)
	for _, target := range targets {
		applied, err := e.restrictOne(ctx, restrictParams{
			accountID:         target,
			reason:            linkedReason,
			issuerID:          issuerID,
			expiresAt:         expiresAt,
			broadcast:         false,
			linkedFromAccount: &originID,
			kind:              "cascade",
		})
		if err != nil {
			continue
		}
		if applied {
			e.Logger.Info("cascade-restricted linked account", "account", target, "origin", originID)
		}
	}
}

// collectCurrentLinkClosure walks current-address links breadth-first from
// origin and returns the reachable accounts (excluding origin), sorted for
// deterministic application order. Expansion is bounded by the same clamp as
// connectivity searches.
func (e *Engine) collectCurrentLinkClosure(ctx context.Context, originID string) ([]string, error) {
	visited := map[string]bool{originID: true}
	var targets []string
	frontier := []string{originID}

	for depth := 0; depth < graph.DepthClamp && len(frontier) > 0; depth++ {
		var next []string
		for _, accountID := range frontier {
			links, err := e.Finder.CurrentLinks(ctx, accountID)
			if err != nil {
				return nil, err
			}
			for linked := range links {
				if visited[linked] {
					continue
				}
				visited[linked] = true
				targets = append(targets, linked)
				next = append(next, linked)
			}
		}
		frontier = next
	}
	sort.Strings(targets)
	return targets, nil
}
