package engine

import (
	"context"
	"log/slog"
	"time"
)

// RestrictionEvent describes a newly applied restriction for announcement.
type RestrictionEvent struct {
	AccountID   string
	DisplayName string
	Reason      string
	IssuerID    *string
	IssuerName  string
	ExpiresAt   *time.Time
}

// LiftEvent describes a cleared restriction for announcement.
type LiftEvent struct {
	AccountID   string
	DisplayName string
	IssuerName  string
	Expired     bool
}

// AltEvent describes a connect-time match against restricted accounts on the
// same address.
type AltEvent struct {
	AccountID      string
	DisplayName    string
	Address        string
	RestrictedAlts []string
	AutoRestricted bool
}

// WatchlistEvent describes a connection from a watched address.
type WatchlistEvent struct {
	AccountID   string
	DisplayName string
	Address     string
	Reason      string
}

// Notifier receives moderation events for delivery to operators and the
// service at large. Implementations must be safe for concurrent use.
type Notifier interface {
	RestrictionApplied(ctx context.Context, evt RestrictionEvent) error
	RestrictionLifted(ctx context.Context, evt LiftEvent) error
	AltDetected(ctx context.Context, evt AltEvent) error
	WatchlistHit(ctx context.Context, evt WatchlistEvent) error
}

// LogNotifier writes every event to the structured log. The default sink when
// no external delivery channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) RestrictionApplied(ctx context.Context, evt RestrictionEvent) error {
	n.Logger.Info("restriction announced",
		"account", evt.AccountID,
		"name", evt.DisplayName,
		"reason", evt.Reason,
		"issuer", evt.IssuerName,
		"expires", evt.ExpiresAt)
	return nil
}

func (n *LogNotifier) RestrictionLifted(ctx context.Context, evt LiftEvent) error {
	n.Logger.Info("lift announced",
		"account", evt.AccountID,
		"name", evt.DisplayName,
		"issuer", evt.IssuerName,
		"expired", evt.Expired)
	return nil
}

func (n *LogNotifier) AltDetected(ctx context.Context, evt AltEvent) error {
	n.Logger.Warn("restricted alt detected",
		"account", evt.AccountID,
		"name", evt.DisplayName,
		"address", evt.Address,
		"alts", evt.RestrictedAlts,
		"autoRestricted", evt.AutoRestricted)
	return nil
}

func (n *LogNotifier) WatchlistHit(ctx context.Context, evt WatchlistEvent) error {
	n.Logger.Warn("watchlist hit",
		"account", evt.AccountID,
		"name", evt.DisplayName,
		"address", evt.Address,
		"reason", evt.Reason)
	return nil
}
