package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emberhall/warden/cachestore"
	"github.com/emberhall/warden/graph"
	"github.com/emberhall/warden/identity"
	"github.com/emberhall/warden/store"
	"github.com/emberhall/warden/watchlist"
)

// MemPresence is an in-memory presence layer for tests: a settable online
// set plus a record of every notice delivered directly.
type MemPresence struct {
	mu     sync.Mutex
	online map[string]bool
	Sent   []SentNotice
}

type SentNotice struct {
	AccountID string
	NoticeKey string
}

func NewMemPresence() *MemPresence {
	return &MemPresence{online: make(map[string]bool)}
}

func (p *MemPresence) SetOnline(accountID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[accountID] = online
}

func (p *MemPresence) IsOnline(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[accountID]
}

func (p *MemPresence) SendNotice(ctx context.Context, accountID, noticeKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Sent = append(p.Sent, SentNotice{AccountID: accountID, NoticeKey: noticeKey})
	return nil
}

// CaptureNotifier records every event for assertion in tests.
type CaptureNotifier struct {
	mu            sync.Mutex
	Restrictions  []RestrictionEvent
	Lifts         []LiftEvent
	Alts          []AltEvent
	WatchlistHits []WatchlistEvent
}

func (n *CaptureNotifier) RestrictionApplied(ctx context.Context, evt RestrictionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Restrictions = append(n.Restrictions, evt)
	return nil
}

func (n *CaptureNotifier) RestrictionLifted(ctx context.Context, evt LiftEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Lifts = append(n.Lifts, evt)
	return nil
}

func (n *CaptureNotifier) AltDetected(ctx context.Context, evt AltEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Alts = append(n.Alts, evt)
	return nil
}

func (n *CaptureNotifier) WatchlistHit(ctx context.Context, evt WatchlistEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.WatchlistHits = append(n.WatchlistHits, evt)
	return nil
}

// EngineTestFixture assembles an engine over an in-memory sqlite database,
// an in-memory cache, a capture notifier, and a virtual clock starting at a
// fixed instant. Intentionally exported, for use in other packages.
func EngineTestFixture() (*Engine, *CaptureNotifier, *MemPresence) {
	db, err := store.SetupDatabase("sqlite://:memory:", 1)
	if err != nil {
		panic(err)
	}
	if err := store.AutoMigrate(db); err != nil {
		panic(err)
	}

	addresses := store.NewAddressStore(db)
	notifier := &CaptureNotifier{}
	presence := NewMemPresence()

	// the default clock advances one second per reading so LastSeen ordering
	// is deterministic; tests needing real control install their own
	var clockMu sync.Mutex
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(time.Second)
		return now
	}

	eng := &Engine{
		Logger: slog.Default(),
		Config: Config{
			AutoRestrictOnMatch: true,
			NotifyAdminsOnAlt:   true,
			SearchDepth:         3,
			PageSize:            10,
			DefaultChatVisible:  true,
			DefaultObserving:    false,
		},
		Addresses: addresses,
		Mods:      store.NewModerationStore(db),
		Prefs:     store.NewPreferenceStore(db),
		Notices:   store.NewPendingNoticeStore(db),
		Directory: identity.NewStoreDirectory(store.NewIdentityStore(db)),
		Finder:    graph.NewFinder(addresses),
		Lists:     watchlist.NewMatcher(watchlist.Config{}, slog.Default()),
		Cache:     cachestore.NewMemCacheStore(),
		Notifier:  notifier,
		Presence:  presence,
		Clock:     clock,
	}
	return eng, notifier, presence
}
