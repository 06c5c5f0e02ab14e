package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ModerationStore is the durable, append-style log of moderation records.
type ModerationStore struct {
	db *gorm.DB
}

func NewModerationStore(db *gorm.DB) *ModerationStore {
	return &ModerationStore{db: db}
}

// ActiveRecord returns the account's currently active record, or nil if the
// account is clear.
func (s *ModerationStore) ActiveRecord(ctx context.Context, accountID string) (*ModerationRecord, error) {
	var rec ModerationRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND active = ?", accountID, true).
		Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up active record: %w", err)
	}
	return &rec, nil
}

// AllActiveAccountIDs returns every account with an active record.
func (s *ModerationStore) AllActiveAccountIDs(ctx context.Context) (map[string]bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&ModerationRecord{}).
		Distinct("account_id").
		Where("active = ?", true).
		Pluck("account_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// ExpiredActiveRecords returns active records whose deadline has passed.
func (s *ModerationStore) ExpiredActiveRecords(ctx context.Context, now time.Time) ([]ModerationRecord, error) {
	var recs []ModerationRecord
	err := s.db.WithContext(ctx).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing expired records: %w", err)
	}
	return recs, nil
}

// Create persists a new record, filling in its ID.
func (s *ModerationStore) Create(ctx context.Context, rec *ModerationRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating moderation record: %w", err)
	}
	return nil
}

// Deactivate ends the account's active record, setting EndedAt. No-op if the
// account has no active record.
func (s *ModerationStore) Deactivate(ctx context.Context, accountID string, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&ModerationRecord{}).
		Where("account_id = ? AND active = ?", accountID, true).
		Updates(map[string]interface{}{"active": false, "ended_at": now}).Error
	if err != nil {
		return fmt.Errorf("deactivating moderation record: %w", err)
	}
	return nil
}

// History returns all records for an account, newest first.
func (s *ModerationStore) History(ctx context.Context, accountID string) ([]ModerationRecord, error) {
	var recs []ModerationRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing moderation history: %w", err)
	}
	return recs, nil
}
