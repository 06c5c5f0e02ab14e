package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emberhall/warden/graph"
	"github.com/emberhall/warden/store"
)

// LinkedAccount is one account connected to the report subject through
// shared addresses.
type LinkedAccount struct {
	AccountID             string     `json:"account_id"`
	DisplayName           string     `json:"display_name"`
	SharedAddresses       []string   `json:"shared_addresses"`
	LastSeen              *time.Time `json:"last_seen,omitempty"`
	Restricted            bool       `json:"restricted"`
	MatchedCurrentAddress bool       `json:"matched_current_address"`
}

// AltReport is the administrative view of an account's connectivity.
// Direct holds accounts sharing the subject's current address; Historical
// holds everything else reachable within the search depth.
type AltReport struct {
	AccountID      string          `json:"account_id"`
	DisplayName    string          `json:"display_name"`
	CurrentAddress string          `json:"current_address,omitempty"`
	Addresses      []string        `json:"addresses"`
	Direct         []LinkedAccount `json:"direct"`
	Historical     []LinkedAccount `json:"historical"`
}

// DetectAlts builds the connectivity report for an account. depth <= 0 falls
// back to the configured search depth; either way it is clamped. Both result
// slices are sorted by account id for stable output.
func (e *Engine) DetectAlts(ctx context.Context, accountID string, depth int) (*AltReport, error) {
	if depth <= 0 {
		depth = e.Config.SearchDepth
	}
	depth = graph.ClampDepth(depth)

	connected, err := e.Finder.FindConnected(ctx, accountID, depth)
	if err != nil {
		return nil, fmt.Errorf("connectivity search: %w", err)
	}

	current, err := e.Addresses.CurrentAddress(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolving current address: %w", err)
	}
	addrs, err := e.Addresses.AddressesOf(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}

	report := &AltReport{
		AccountID:      accountID,
		DisplayName:    e.displayName(ctx, accountID),
		CurrentAddress: current,
		Addresses:      addrs,
	}

	ids := make([]string, 0, len(connected))
	for id := range connected {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		shared := make([]string, 0, len(connected[id]))
		for addr := range connected[id] {
			shared = append(shared, addr)
		}
		sort.Strings(shared)

		lastSeen, err := e.Addresses.LastSeen(ctx, id)
		if err != nil {
			e.Logger.Warn("last seen lookup failed", "account", id, "err", err)
			lastSeen = nil
		}

		linked := LinkedAccount{
			AccountID:             id,
			DisplayName:           e.displayName(ctx, id),
			SharedAddresses:       shared,
			LastSeen:              lastSeen,
			Restricted:            e.IsRestricted(ctx, id),
			MatchedCurrentAddress: current != "" && connected[id][current],
		}
		if linked.MatchedCurrentAddress {
			report.Direct = append(report.Direct, linked)
		} else {
			report.Historical = append(report.Historical, linked)
		}
	}
	return report, nil
}

// Unlink erases the account's address history, severing every shared-address
// link it participates in. Cached moderation state is untouched; only future
// connectivity searches change. Returns the number of associations removed.
func (e *Engine) Unlink(ctx context.Context, accountID string) (int64, error) {
	removed, err := e.Addresses.Purge(ctx, accountID)
	if err != nil {
		return 0, err
	}
	e.Logger.Info("address history unlinked", "account", accountID, "removed", removed)
	return removed, nil
}

// AddressHistory returns one page of the account's address associations,
// most recent first. Pages are 1-based; an out-of-range page returns an
// empty slice, with the total page count for the caller's pagination UI.
func (e *Engine) AddressHistory(ctx context.Context, accountID string, page int) ([]store.AddressAssociation, int, error) {
	rows, err := e.Addresses.DetailedAddressesOf(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	pageSize := e.Config.PageSize
	if pageSize < 1 {
		pageSize = 10
	}
	totalPages := (len(rows) + pageSize - 1) / pageSize
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(rows) {
		return []store.AddressAssociation{}, totalPages, nil
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], totalPages, nil
}
