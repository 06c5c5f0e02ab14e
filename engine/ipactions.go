package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// IPRestrictAccount restricts the target account and every account sharing
// its current address. Only the primary target's action is announced. All
// records created here carry the shared address as linked-from provenance,
// which also marks them as address-linked for connect-time auto-restriction.
func (e *Engine) IPRestrictAccount(ctx context.Context, accountID, reason string, issuerID *string, expiresAt *time.Time) error {
	addr, err := e.Addresses.CurrentAddress(ctx, accountID)
	if err != nil {
		return fmt.Errorf("resolving current address: %w", err)
	}

	var linkedAddr *string
	if addr != "" {
		linkedAddr = &addr
	}
	applied, err := e.restrictOne(ctx, restrictParams{
		accountID:         accountID,
		reason:            reason,
		issuerID:          issuerID,
		expiresAt:         expiresAt,
		broadcast:         true,
		linkedFromAddress: linkedAddr,
		kind:              "manual",
	})
	if err != nil {
		return err
	}
	if !applied || addr == "" {
		return nil
	}

	links, err := e.Finder.CurrentLinks(ctx, accountID)
	if err != nil {
		e.Logger.Error("address link search failed", "account", accountID, "err", err)
		return nil
	}
	targets := make([]string, 0, len(links))
	for linked := range links {
		targets = append(targets, linked)
	}
	sort.Strings(targets)

	originName := e.displayName(ctx, accountID)
	linkedReason := fmt.Sprintf("%s (linked: %s)", reason, originName)
	for _, target := range targets {
		applied, err := e.restrictOne(ctx, restrictParams{
			accountID:         target,
			reason:            linkedReason,
			issuerID:          issuerID,
			expiresAt:         expiresAt,
			broadcast:         false,
			linkedFromAccount: &accountID,
			linkedFromAddress: &addr,
			kind:              "cascade",
		})
		if err != nil {
			continue
		}
		if applied {
			e.Logger.Info("address-restricted linked account", "account", target, "origin", accountID, "address", addr)
		}
	}
	return nil
}

// IPRestrictAddress restricts every account that has connected from the
// address. The first account restricted is announced, the rest are silent.
// Returns the number of accounts newly restricted.
func (e *Engine) IPRestrictAddress(ctx context.Context, address, reason string, issuerID *string, expiresAt *time.Time) (int, error) {
	accounts, err := e.Addresses.AccountsOn(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("resolving accounts on address: %w", err)
	}
	targets := make([]string, 0, len(accounts))
	for accountID := range accounts {
		targets = append(targets, accountID)
	}
	sort.Strings(targets)

	linkedReason := fmt.Sprintf("%s (address: %s)", reason, address)
	restricted := 0
	announced := false
	for _, target := range targets {
		applied, err := e.restrictOne(ctx, restrictParams{
			accountID:         target,
			reason:            linkedReason,
			issuerID:          issuerID,
			expiresAt:         expiresAt,
			broadcast:         !announced,
			linkedFromAddress: &address,
			kind:              "manual",
		})
		if err != nil {
			continue
		}
		if applied {
			restricted++
			announced = true
		}
	}
	return restricted, nil
}

// IPLiftAccount lifts the target account and, silently, every account
// sharing its current address.
func (e *Engine) IPLiftAccount(ctx context.Context, accountID string, issuerID *string) error {
	if err := e.lift(ctx, accountID, issuerID, false, true); err != nil {
		return err
	}

	links, err := e.Finder.CurrentLinks(ctx, accountID)
	if err != nil {
		e.Logger.Error("address link search failed", "account", accountID, "err", err)
		return nil
	}
	targets := make([]string, 0, len(links))
	for linked := range links {
		targets = append(targets, linked)
	}
	sort.Strings(targets)

	for _, target := range targets {
		if err := e.lift(ctx, target, issuerID, false, false); err != nil {
			continue
		}
	}
	return nil
}

// IPLiftAddress lifts every restricted account that has connected from the
// address. The first lift is announced, the rest are silent. Returns the
// number of accounts lifted.
func (e *Engine) IPLiftAddress(ctx context.Context, address string, issuerID *string) (int, error) {
	accounts, err := e.Addresses.AccountsOn(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("resolving accounts on address: %w", err)
	}
	targets := make([]string, 0, len(accounts))
	for accountID := range accounts {
		targets = append(targets, accountID)
	}
	sort.Strings(targets)

	// every account on the address is lifted directly, so no per-account
	// cascade is needed here
	lifted := 0
	announced := false
	for _, target := range targets {
		name := e.displayName(ctx, target)
		applied, err := e.liftOne(ctx, target, issuerID, false, !announced, name)
		if err != nil || !applied {
			continue
		}
		lifted++
		announced = true
	}
	return lifted, nil
}
