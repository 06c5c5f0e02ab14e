package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PendingNoticeStore queues notice keys for offline accounts.
type PendingNoticeStore struct {
	db *gorm.DB
}

// Drain order is oldest first so notices arrive in the order they were
// generated.
func NewPendingNoticeStore(db *gorm.DB) *PendingNoticeStore {
	return &PendingNoticeStore{db: db}
}

// Enqueue stores a notice key for later delivery.
func (s *PendingNoticeStore) Enqueue(ctx context.Context, accountID, noticeKey string) error {
	notice := PendingNotice{
		AccountID: accountID,
		NoticeKey: noticeKey,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&notice).Error; err != nil {
		return fmt.Errorf("enqueuing pending notice: %w", err)
	}
	return nil
}

// Drain returns all queued notice keys for the account, oldest first, and
// deletes them.
func (s *PendingNoticeStore) Drain(ctx context.Context, accountID string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&PendingNotice{}).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Pluck("notice_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("reading pending notices: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	err = s.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&PendingNotice{}).Error
	if err != nil {
		return nil, fmt.Errorf("clearing pending notices: %w", err)
	}
	return keys, nil
}
