package store

import (
	"time"
)

// AddressAssociation records that an account has connected from an address.
// Unique per (account, address); LastSeen is bumped on repeat connections.
type AddressAssociation struct {
	ID        uint   `gorm:"primarykey"`
	AccountID string `gorm:"uniqueIndex:idx_assoc_account_address;index"`
	Address   string `gorm:"uniqueIndex:idx_assoc_account_address;index"`
	FirstSeen time.Time
	LastSeen  time.Time `gorm:"index"`
}

// ModerationRecord is one restriction cycle for an account. At most one record
// per account has Active set. Records are never reopened; a lift sets Active
// false and EndedAt, and any later restriction creates a fresh record.
//
// LinkedFromAccount and LinkedFromAddress carry cascade provenance: a record
// created by cascading from another account's restriction names that account,
// and a record created by an address-wide restriction names the address. Lift
// cascades match on these columns.
type ModerationRecord struct {
	ID                uint   `gorm:"primarykey"`
	AccountID         string `gorm:"index"`
	Active            bool   `gorm:"index"`
	Reason            string
	IssuerID          *string
	CreatedAt         time.Time
	ExpiresAt         *time.Time `gorm:"index"`
	EndedAt           *time.Time
	TriggerPayload    string
	LinkedFromAccount *string `gorm:"index"`
	LinkedFromAddress *string `gorm:"index"`
}

// Expired reports whether the record has a deadline in the past.
func (r *ModerationRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// AddressLinked reports whether this record was created through address
// linkage rather than as a direct, primary action.
func (r *ModerationRecord) AddressLinked() bool {
	return r.LinkedFromAccount != nil || r.LinkedFromAddress != nil
}

// Preference holds per-account visibility flags for the restricted channel.
type Preference struct {
	AccountID   string `gorm:"primarykey"`
	ChatVisible bool
	Observing   bool
	UpdatedAt   time.Time
}

// PendingNotice is a notice queued for an account that was offline when the
// notice was generated. Drained and delivered on next connect.
type PendingNotice struct {
	ID        uint   `gorm:"primarykey"`
	AccountID string `gorm:"index"`
	NoticeKey string
	CreatedAt time.Time
}

// Account maps a stable account id to its most recently seen display name.
type Account struct {
	AccountID   string `gorm:"primarykey"`
	DisplayName string `gorm:"index"`
	FirstLogin  time.Time
	LastLogin   time.Time `gorm:"index"`
}
