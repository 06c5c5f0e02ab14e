package engine

import "context"

// Presence abstracts the live session layer: whether an account is connected
// right now, and direct delivery of a notice to it.
type Presence interface {
	IsOnline(accountID string) bool
	SendNotice(ctx context.Context, accountID, noticeKey string) error
}

// NoPresence reports every account offline, which routes all notices through
// the durable pending queue.
type NoPresence struct{}

var _ Presence = (*NoPresence)(nil)

func (NoPresence) IsOnline(accountID string) bool { return false }

func (NoPresence) SendNotice(ctx context.Context, accountID, noticeKey string) error {
	return nil
}
