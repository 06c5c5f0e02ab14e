package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddressStore is the durable account<->address association layer. All alt
// detection reads go through it; the connectivity search re-reads current
// associations on every call, so no transactional coupling with the
// moderation tables is needed.
type AddressStore struct {
	db *gorm.DB
}

func NewAddressStore(db *gorm.DB) *AddressStore {
	return &AddressStore{db: db}
}

// Record upserts the (account, address) association, bumping LastSeen if it
// already exists. Called on every connection.
func (s *AddressStore) Record(ctx context.Context, accountID, address string, now time.Time) error {
	assoc := AddressAssociation{
		AccountID: accountID,
		Address:   address,
		FirstSeen: now,
		LastSeen:  now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"last_seen": now}),
	}).Create(&assoc).Error
	if err != nil {
		return fmt.Errorf("recording address association: %w", err)
	}
	return nil
}

// AddressesOf returns all addresses seen for an account, most recent first.
func (s *AddressStore) AddressesOf(ctx context.Context, accountID string) ([]string, error) {
	var addrs []string
	err := s.db.WithContext(ctx).Model(&AddressAssociation{}).
		Where("account_id = ?", accountID).
		Order("last_seen DESC").
		Pluck("address", &addrs).Error
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}
	return addrs, nil
}

// DetailedAddressesOf returns full association rows for an account, most
// recent first. Used for administrative address-history reports.
func (s *AddressStore) DetailedAddressesOf(ctx context.Context, accountID string) ([]AddressAssociation, error) {
	var rows []AddressAssociation
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("last_seen DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing address history: %w", err)
	}
	return rows, nil
}

// AccountsOn returns the set of accounts that have ever connected from the
// given address.
func (s *AddressStore) AccountsOn(ctx context.Context, address string) (map[string]bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&AddressAssociation{}).
		Distinct("account_id").
		Where("address = ?", address).
		Pluck("account_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing accounts on address: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// CurrentAddress returns the most recently seen address for an account, or
// empty string if the account has no address history.
func (s *AddressStore) CurrentAddress(ctx context.Context, accountID string) (string, error) {
	var addrs []string
	err := s.db.WithContext(ctx).Model(&AddressAssociation{}).
		Where("account_id = ?", accountID).
		Order("last_seen DESC").
		Limit(1).
		Pluck("address", &addrs).Error
	if err != nil {
		return "", fmt.Errorf("looking up current address: %w", err)
	}
	if len(addrs) == 0 {
		return "", nil
	}
	return addrs[0], nil
}

// LastSeen returns the most recent LastSeen timestamp across all of the
// account's addresses, or nil if none are recorded.
func (s *AddressStore) LastSeen(ctx context.Context, accountID string) (*time.Time, error) {
	var rows []AddressAssociation
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("last_seen DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("looking up last seen: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0].LastSeen, nil
}

// SharedAddresses returns addresses both accounts have connected from.
func (s *AddressStore) SharedAddresses(ctx context.Context, a, b string) (map[string]bool, error) {
	var addrs []string
	err := s.db.WithContext(ctx).Model(&AddressAssociation{}).
		Where("account_id = ? AND address IN (?)",
			a,
			s.db.Model(&AddressAssociation{}).Select("address").Where("account_id = ?", b),
		).
		Pluck("address", &addrs).Error
	if err != nil {
		return nil, fmt.Errorf("listing shared addresses: %w", err)
	}
	out := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		out[addr] = true
	}
	return out, nil
}

// Purge deletes all address history for an account, severing its links to
// other accounts. Returns the number of rows removed.
func (s *AddressStore) Purge(ctx context.Context, accountID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&AddressAssociation{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging address history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
