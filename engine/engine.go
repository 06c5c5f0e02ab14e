// Package engine implements the moderation orchestrator: the restriction
// state machine, cascading application to linked accounts, connect-time
// processing, and the caching layer over the durable stores.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/emberhall/warden/cachestore"
	"github.com/emberhall/warden/graph"
	"github.com/emberhall/warden/identity"
	"github.com/emberhall/warden/store"
	"github.com/emberhall/warden/watchlist"
)

// ErrRestricted is returned for operations a restricted account is not
// allowed to perform, such as hiding its own restricted-channel traffic.
var ErrRestricted = errors.New("account is currently restricted")

// Config carries the operator-tunable knobs. SearchDepth is clamped into
// [1, graph.DepthClamp] wherever it is used.
type Config struct {
	AutoRestrictOnMatch bool
	NotifyAdminsOnAlt   bool
	SearchDepth         int
	PageSize            int
	DefaultChatVisible  bool
	DefaultObserving    bool
}

// Engine is the runtime for moderation decisions. All collaborators are
// injected; there is no ambient global state.
//
// The cache is updated synchronously inside restrict/lift, never
// invalidated-and-reloaded lazily, so a restriction check racing a lift can
// not observe stale-restricted state one call-site removed from the lift.
type Engine struct {
	Logger    *slog.Logger
	Config    Config
	Addresses *store.AddressStore
	Mods      *store.ModerationStore
	Prefs     *store.PreferenceStore
	Notices   *store.PendingNoticeStore
	Directory identity.Directory
	Finder    *graph.Finder
	Lists     *watchlist.Matcher
	Cache     cachestore.CacheStore
	Notifier  Notifier
	Presence  Presence

	// Clock is overridable for tests; nil means time.Now.
	Clock func() time.Time

	locksOnce sync.Once
	locks     *xsync.MapOf[string, *sync.Mutex]
}

const (
	cacheNameRecord = "modrec"
	cacheNamePref   = "pref"
)

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// lockFor returns the per-account mutex serializing restrict/lift for one
// account. Closes the check-then-insert race the at-most-one-active
// invariant would otherwise be exposed to under concurrent callers.
func (e *Engine) lockFor(accountID string) *sync.Mutex {
	e.locksOnce.Do(func() {
		e.locks = xsync.NewMapOf[string, *sync.Mutex]()
	})
	mu, _ := e.locks.LoadOrStore(accountID, &sync.Mutex{})
	return mu
}

type cachedRecord struct {
	Record *store.ModerationRecord `json:"record,omitempty"`
}

type cachedPrefs struct {
	ChatVisible bool `json:"chat_visible"`
	Observing   bool `json:"observing"`
}

// IsRestricted reports whether the account has an active moderation record.
// Degrades to false on store failure: the hot chat path favors availability
// over strict correctness of moderation state.
func (e *Engine) IsRestricted(ctx context.Context, accountID string) bool {
	rec, err := e.loadActiveRecord(ctx, accountID)
	if err != nil {
		e.Logger.Error("restriction lookup failed, treating as clear", "account", accountID, "err", err)
		return false
	}
	return rec != nil
}

// ActiveRecord returns the account's active moderation record, or nil if
// clear.
func (e *Engine) ActiveRecord(ctx context.Context, accountID string) (*store.ModerationRecord, error) {
	return e.loadActiveRecord(ctx, accountID)
}

// History returns the account's full moderation history, newest first.
func (e *Engine) History(ctx context.Context, accountID string) ([]store.ModerationRecord, error) {
	return e.Mods.History(ctx, accountID)
}

// loadActiveRecord is the cache-then-store lookup. A cache miss falls back
// to the store and repopulates the entry, including negative (clear) results.
func (e *Engine) loadActiveRecord(ctx context.Context, accountID string) (*store.ModerationRecord, error) {
	raw, err := e.Cache.Get(ctx, cacheNameRecord, accountID)
	if err != nil {
		e.Logger.Warn("moderation cache read failed", "account", accountID, "err", err)
	}
	if raw != "" {
		var entry cachedRecord
		if err := json.Unmarshal([]byte(raw), &entry); err == nil {
			return entry.Record, nil
		}
		e.Logger.Warn("dropping undecodable moderation cache entry", "account", accountID)
	}

	rec, err := e.Mods.ActiveRecord(ctx, accountID)
	if err != nil {
		return nil, err
	}
	e.cacheActiveRecord(ctx, accountID, rec)
	return rec, nil
}

// cacheActiveRecord stores the account's moderation state, rec being nil for
// a known-clear account.
func (e *Engine) cacheActiveRecord(ctx context.Context, accountID string, rec *store.ModerationRecord) {
	raw, err := json.Marshal(cachedRecord{Record: rec})
	if err != nil {
		return
	}
	if err := e.Cache.Set(ctx, cacheNameRecord, accountID, string(raw)); err != nil {
		e.Logger.Warn("moderation cache write failed", "account", accountID, "err", err)
	}
}

// Preferences returns the account's visibility flags, falling back to the
// configured defaults when no row exists or the store fails.
func (e *Engine) Preferences(ctx context.Context, accountID string) (chatVisible, observing bool) {
	raw, err := e.Cache.Get(ctx, cacheNamePref, accountID)
	if err == nil && raw != "" {
		var entry cachedPrefs
		if err := json.Unmarshal([]byte(raw), &entry); err == nil {
			return entry.ChatVisible, entry.Observing
		}
	}

	pref, err := e.Prefs.Get(ctx, accountID)
	if err != nil {
		e.Logger.Error("preference lookup failed, using defaults", "account", accountID, "err", err)
		return e.Config.DefaultChatVisible, e.Config.DefaultObserving
	}
	if pref == nil {
		return e.Config.DefaultChatVisible, e.Config.DefaultObserving
	}
	e.cachePrefs(ctx, accountID, pref.ChatVisible, pref.Observing)
	return pref.ChatVisible, pref.Observing
}

func (e *Engine) cachePrefs(ctx context.Context, accountID string, chatVisible, observing bool) {
	raw, err := json.Marshal(cachedPrefs{ChatVisible: chatVisible, Observing: observing})
	if err != nil {
		return
	}
	if err := e.Cache.Set(ctx, cacheNamePref, accountID, string(raw)); err != nil {
		e.Logger.Warn("preference cache write failed", "account", accountID, "err", err)
	}
}

// setPreferences persists both flags and updates the cache in the same call.
func (e *Engine) setPreferences(ctx context.Context, accountID string, chatVisible, observing bool) error {
	if err := e.Prefs.Set(ctx, accountID, chatVisible, observing); err != nil {
		return err
	}
	e.cachePrefs(ctx, accountID, chatVisible, observing)
	return nil
}

// ToggleChatVisible flips whether the account receives restricted-channel
// traffic. Rejected while the account is itself restricted.
func (e *Engine) ToggleChatVisible(ctx context.Context, accountID string) (bool, error) {
	if e.IsRestricted(ctx, accountID) {
		return false, ErrRestricted
	}
	visible, observing := e.Preferences(ctx, accountID)
	if err := e.setPreferences(ctx, accountID, !visible, observing); err != nil {
		return false, err
	}
	return !visible, nil
}

// ToggleObserving flips whether the account's own traffic routes into the
// restricted channel voluntarily. Rejected while restricted.
func (e *Engine) ToggleObserving(ctx context.Context, accountID string) (bool, error) {
	if e.IsRestricted(ctx, accountID) {
		return false, ErrRestricted
	}
	visible, observing := e.Preferences(ctx, accountID)
	if err := e.setPreferences(ctx, accountID, visible, !observing); err != nil {
		return false, err
	}
	return !observing, nil
}

// displayName resolves an account's display name for notification text,
// falling back to the raw id for accounts the directory does not know.
func (e *Engine) displayName(ctx context.Context, accountID string) string {
	ident, err := e.Directory.LookupID(ctx, accountID)
	if err != nil {
		e.Logger.Warn("display name lookup failed", "account", accountID, "err", err)
		return accountID
	}
	return identity.DisplayNameOr(ident, accountID)
}

// issuerName resolves the issuer for notification text; a nil issuer is an
// automated or console action.
func (e *Engine) issuerName(ctx context.Context, issuerID *string) string {
	if issuerID == nil {
		return "console"
	}
	return e.displayName(ctx, *issuerID)
}
