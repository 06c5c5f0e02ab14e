// Package graph implements the breadth-first connectivity search over the
// account/address bipartite graph maintained by the address store.
//
// Two queries exist with very different costs: CurrentLinks is a single
// lookup and safe to call inline with connection handling; FindConnected
// issues a store read per frontier entry and must stay off latency-sensitive
// paths.
package graph

import (
	"context"
	"fmt"

	"github.com/emberhall/warden/store"
)

// DepthClamp bounds connectivity searches regardless of caller input.
const DepthClamp = 10

// Finder walks shared-address links between accounts.
type Finder struct {
	addresses *store.AddressStore
}

func NewFinder(addresses *store.AddressStore) *Finder {
	return &Finder{addresses: addresses}
}

// ClampDepth normalizes a requested search depth into [1, DepthClamp].
func ClampDepth(depth int) int {
	if depth < 1 {
		return 1
	}
	if depth > DepthClamp {
		return DepthClamp
	}
	return depth
}

// FindConnected returns every account reachable from start within maxDepth
// levels of shared-address expansion, mapped to the addresses that linked it.
// The start account itself is never included. Iteration order of the result
// is not defined; only membership and the depth bound are contracted.
func (f *Finder) FindConnected(ctx context.Context, start string, maxDepth int) (map[string]map[string]bool, error) {
	maxDepth = ClampDepth(maxDepth)

	connected := make(map[string]map[string]bool)
	visitedAccounts := make(map[string]bool)
	visitedAddresses := make(map[string]bool)
	frontier := []string{start}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, accountID := range frontier {
			if visitedAccounts[accountID] {
				continue
			}
			visitedAccounts[accountID] = true

			addrs, err := f.addresses.AddressesOf(ctx, accountID)
			if err != nil {
				return nil, fmt.Errorf("expanding account %s: %w", accountID, err)
			}
			for _, addr := range addrs {
				if visitedAddresses[addr] {
					continue
				}
				visitedAddresses[addr] = true

				accounts, err := f.addresses.AccountsOn(ctx, addr)
				if err != nil {
					return nil, fmt.Errorf("expanding address: %w", err)
				}
				for linked := range accounts {
					if linked == start {
						continue
					}
					if connected[linked] == nil {
						connected[linked] = make(map[string]bool)
					}
					connected[linked][addr] = true
					if !visitedAccounts[linked] {
						next = append(next, linked)
					}
				}
			}
		}
		frontier = next
	}

	return connected, nil
}

// CurrentLinks returns the accounts sharing the start account's most recent
// address right now. This is the cheap depth-1 query used for inline
// moderation decisions; it is distinct from FindConnected(start, 1), which
// considers the start account's whole address history.
func (f *Finder) CurrentLinks(ctx context.Context, start string) (map[string]bool, error) {
	current, err := f.addresses.CurrentAddress(ctx, start)
	if err != nil {
		return nil, err
	}
	if current == "" {
		return map[string]bool{}, nil
	}
	accounts, err := f.addresses.AccountsOn(ctx, current)
	if err != nil {
		return nil, err
	}
	delete(accounts, start)
	return accounts, nil
}
