package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdentityStore maps account ids to display names. Display names are mutable
// and not unique over time; lookups by name pick the account that used the
// name most recently.
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// RecordLogin upserts the account row, updating the display name and
// LastLogin.
func (s *IdentityStore) RecordLogin(ctx context.Context, accountID, displayName string, now time.Time) error {
	acct := Account{
		AccountID:   accountID,
		DisplayName: displayName,
		FirstLogin:  now,
		LastLogin:   now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"display_name": displayName, "last_login": now}),
	}).Create(&acct).Error
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return nil
}

// ByID returns the account row, or nil if the account has never connected.
func (s *IdentityStore) ByID(ctx context.Context, accountID string) (*Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	return &acct, nil
}

// ByName resolves a display name to an account, case-insensitively. When
// multiple accounts have used the name, the most recent login wins.
func (s *IdentityStore) ByName(ctx context.Context, displayName string) (*Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).
		Where("LOWER(display_name) = LOWER(?)", displayName).
		Order("last_login DESC").
		First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up account by name: %w", err)
	}
	return &acct, nil
}
