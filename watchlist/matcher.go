// Package watchlist matches connection addresses against operator-configured
// whitelist and watchlist entries.
//
// Whitelisted addresses (exact or by CIDR containment) are exempt from all
// alt detection and watchlist logic; the typical use is a school or NAT
// gateway where shared addresses are expected. Watchlisted addresses carry a
// reason and trigger an admin alert on connect.
package watchlist

import (
	"log/slog"
	"net/netip"
	"strings"
)

// Entry is one watchlist address with its alert reason.
type Entry struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// Config is the raw, unvalidated list config. Whitelist entries may be plain
// addresses or CIDR prefixes.
type Config struct {
	Whitelist []string `json:"whitelist"`
	Watchlist []Entry  `json:"watchlist"`
}

// Matcher answers whitelist/watchlist membership queries. Read-only after
// construction, so safe for concurrent use. Malformed entries are rejected
// here, at load time, never at match time.
type Matcher struct {
	exact   map[netip.Addr]bool
	subnets []netip.Prefix
	watched map[netip.Addr]string
}

func NewMatcher(cfg Config, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Matcher{
		exact:   make(map[netip.Addr]bool),
		watched: make(map[netip.Addr]string),
	}
	for _, raw := range cfg.Whitelist {
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				logger.Warn("skipping malformed whitelist subnet", "entry", raw, "err", err)
				continue
			}
			m.subnets = append(m.subnets, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			logger.Warn("skipping malformed whitelist address", "entry", raw, "err", err)
			continue
		}
		m.exact[addr] = true
	}
	for _, entry := range cfg.Watchlist {
		addr, err := netip.ParseAddr(entry.Address)
		if err != nil {
			logger.Warn("skipping malformed watchlist address", "entry", entry.Address, "err", err)
			continue
		}
		reason := entry.Reason
		if reason == "" {
			reason = "no reason specified"
		}
		m.watched[addr] = reason
	}
	return m
}

// IsWhitelisted reports whether the address exactly matches a whitelist entry
// or falls inside a whitelisted subnet. Unparseable addresses never match.
func (m *Matcher) IsWhitelisted(address string) bool {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	if m.exact[addr] {
		return true
	}
	for _, prefix := range m.subnets {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// IsWatchlisted reports whether the address is on the watchlist, and the
// configured reason if so.
func (m *Matcher) IsWatchlisted(address string) (bool, string) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false, ""
	}
	reason, ok := m.watched[addr]
	return ok, reason
}

// Size returns the number of loaded whitelist and watchlist entries.
func (m *Matcher) Size() (whitelist, watchlist int) {
	return len(m.exact) + len(m.subnets), len(m.watched)
}
