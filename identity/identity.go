// Package identity resolves between stable account ids and mutable display
// names.
//
// Display names are not unique over time; when several accounts have used the
// same name, lookups resolve to the one seen most recently. Name matching is
// case-insensitive.
package identity

import (
	"context"
	"time"
)

// Identity is the resolved view of one account.
type Identity struct {
	AccountID   string
	DisplayName string
	LastLogin   time.Time
}

// Directory is the identity lookup interface consumed by the engine and the
// administrative API.
//
// Lookups return (nil, nil) for accounts that have never connected; that is
// an expected, frequent case for administrative queries, not an error.
type Directory interface {
	LookupID(ctx context.Context, accountID string) (*Identity, error)
	LookupName(ctx context.Context, displayName string) (*Identity, error)
	RecordLogin(ctx context.Context, accountID, displayName string, now time.Time) error
	Purge(ctx context.Context, accountID string) error
}

// DisplayNameOr returns the identity's display name, or fallback when the
// identity is unknown.
func DisplayNameOr(ident *Identity, fallback string) string {
	if ident == nil || ident.DisplayName == "" {
		return fallback
	}
	return ident.DisplayName
}
