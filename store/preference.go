package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreferenceStore persists per-account visibility flags. Absence of a row
// means the configured defaults apply; the engine layers those in.
type PreferenceStore struct {
	db *gorm.DB
}

func NewPreferenceStore(db *gorm.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Get returns the stored preference row, or nil if the account has never set
// one.
func (s *PreferenceStore) Get(ctx context.Context, accountID string) (*Preference, error) {
	var pref Preference
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up preferences: %w", err)
	}
	return &pref, nil
}

// Set upserts both flags for an account.
func (s *PreferenceStore) Set(ctx context.Context, accountID string, chatVisible, observing bool) error {
	pref := Preference{
		AccountID:   accountID,
		ChatVisible: chatVisible,
		Observing:   observing,
		UpdatedAt:   time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"chat_visible", "observing", "updated_at"}),
	}).Create(&pref).Error
	if err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	return nil
}
