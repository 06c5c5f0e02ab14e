package identity

import (
	"context"
	"time"

	"github.com/emberhall/warden/store"
)

// StoreDirectory is the authoritative Directory, backed by the accounts
// table.
type StoreDirectory struct {
	accounts *store.IdentityStore
}

var _ Directory = (*StoreDirectory)(nil)

func NewStoreDirectory(accounts *store.IdentityStore) *StoreDirectory {
	return &StoreDirectory{accounts: accounts}
}

func identityFromAccount(acct *store.Account) *Identity {
	if acct == nil {
		return nil
	}
	return &Identity{
		AccountID:   acct.AccountID,
		DisplayName: acct.DisplayName,
		LastLogin:   acct.LastLogin,
	}
}

func (d *StoreDirectory) LookupID(ctx context.Context, accountID string) (*Identity, error) {
	acct, err := d.accounts.ByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return identityFromAccount(acct), nil
}

func (d *StoreDirectory) LookupName(ctx context.Context, displayName string) (*Identity, error) {
	acct, err := d.accounts.ByName(ctx, displayName)
	if err != nil {
		return nil, err
	}
	return identityFromAccount(acct), nil
}

func (d *StoreDirectory) RecordLogin(ctx context.Context, accountID, displayName string, now time.Time) error {
	return d.accounts.RecordLogin(ctx, accountID, displayName, now)
}

func (d *StoreDirectory) Purge(ctx context.Context, accountID string) error {
	return nil
}
