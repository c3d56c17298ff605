/*
Package catalog resolves which tier-price table applies to a sale.

PURPOSE:
  Pricing tables are versioned over time: a table is valid for a date window,
  and a new table starts the day after its predecessor ends. Resolution
  answers "which table priced this sale?" - and, because purchases near a
  cutover are sometimes honored at the outgoing prices, also surfaces the
  immediately preceding table so the validator can test the legacy-pricing
  hypothesis.

CACHING:
  Upgrade analysis re-resolves the same (addon, deployment, date) key for
  every sibling transaction of an entitlement, so lookups are cached for the
  lifetime of the resolver. Tables are immutable inputs for the duration of
  a validation run; the cache is purely additive and never invalidated.

SEE ALSO:
  - pricing/types.go: PricePoint, the tier steps inside a table
  - audit/validator.go: the legacy-permutation search that consumes Prior
*/
package catalog

import (
	"context"
	"fmt"

	gocache "github.com/patrickmn/go-cache"

	"github.com/warp/marketplace-audit/pricing"
)

// =============================================================================
// TABLE - One versioned price list
// =============================================================================

// Table is a named price list for an (addonKey, deployment) pair, valid over
// an optional [ValidFrom, ValidTo] window. Nil bounds are open-ended: a nil
// ValidFrom means "since the beginning of time", a nil ValidTo means the
// table is current. Points are sorted ascending by threshold with the
// unlimited (-1) tier last.
type Table struct {
	AddonKey   string
	Deployment pricing.Deployment
	Name       string
	ValidFrom  *pricing.Date
	ValidTo    *pricing.Date // inclusive: the last day the table is active
	Points     []pricing.PricePoint
}

// Covers returns true if the table is active on the given date.
func (t *Table) Covers(date pricing.Date) bool {
	if t.ValidFrom != nil && date.Before(*t.ValidFrom) {
		return false
	}
	if t.ValidTo != nil && date.After(*t.ValidTo) {
		return false
	}
	return true
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// PricingStore is the persistence contract the resolver reads from.
type PricingStore interface {
	// TableFor returns the unique table active for the key on saleDate, or
	// an error wrapping pricing.ErrNoPricingFound.
	TableFor(ctx context.Context, addonKey string, deployment pricing.Deployment, saleDate pricing.Date) (*Table, error)

	// TableEndingOn returns the table whose validity window ends exactly on
	// the given date, or nil if there is none.
	TableEndingOn(ctx context.Context, addonKey string, deployment pricing.Deployment, end pricing.Date) (*Table, error)
}

// =============================================================================
// RESOLVER
// =============================================================================

// ResolvedPricing pairs the table nominally active on a sale date with the
// table it replaced, when one exists adjacent to it.
type ResolvedPricing struct {
	Active *Table

	// Prior is the table that ended the day before Active started, or nil
	// when Active's window is open-ended or nothing precedes it. Used to
	// test whether a sale was honored at outgoing (legacy) prices.
	Prior *Table
}

type Resolver struct {
	store PricingStore
	cache *gocache.Cache
}

func NewResolver(store PricingStore) *Resolver {
	return &Resolver{
		store: store,
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

// Resolve returns the pricing active for the key on saleDate plus the
// adjacent prior table. Results are cached per (addonKey, deployment,
// saleDate) for the resolver's lifetime.
func (r *Resolver) Resolve(ctx context.Context, addonKey string, deployment pricing.Deployment, saleDate pricing.Date) (*ResolvedPricing, error) {
	key := cacheKey(addonKey, deployment, saleDate)
	if cached, ok := r.cache.Get(key); ok {
		return cached.(*ResolvedPricing), nil
	}

	active, err := r.store.TableFor(ctx, addonKey, deployment, saleDate)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedPricing{Active: active}
	if active.ValidFrom != nil {
		prior, err := r.store.TableEndingOn(ctx, addonKey, deployment, active.ValidFrom.AddDays(-1))
		if err != nil {
			return nil, err
		}
		resolved.Prior = prior
	}

	r.cache.Set(key, resolved, gocache.NoExpiration)
	return resolved, nil
}

func cacheKey(addonKey string, deployment pricing.Deployment, saleDate pricing.Date) string {
	return fmt.Sprintf("%s|%s|%s", addonKey, deployment, saleDate)
}
