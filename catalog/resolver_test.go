package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/marketplace-audit/catalog"
	"github.com/warp/marketplace-audit/pricing"
)

// countingStore is a fixed-table PricingStore that counts lookups, so tests
// can observe the resolver's cache behavior.
type countingStore struct {
	tables       []catalog.Table
	forCalls     int
	endingOnCall int
}

func (s *countingStore) TableFor(ctx context.Context, addonKey string, deployment pricing.Deployment, saleDate pricing.Date) (*catalog.Table, error) {
	s.forCalls++
	for i := range s.tables {
		t := s.tables[i]
		if t.AddonKey == addonKey && t.Deployment == deployment && t.Covers(saleDate) {
			return &t, nil
		}
	}
	return nil, pricing.ErrNoPricingFound
}

func (s *countingStore) TableEndingOn(ctx context.Context, addonKey string, deployment pricing.Deployment, end pricing.Date) (*catalog.Table, error) {
	s.endingOnCall++
	for i := range s.tables {
		t := s.tables[i]
		if t.AddonKey == addonKey && t.Deployment == deployment &&
			t.ValidTo != nil && t.ValidTo.Equal(end) {
			return &t, nil
		}
	}
	return nil, nil
}

func datePtr(s string) *pricing.Date {
	d := pricing.MustParseDate(s)
	return &d
}

func points(cost string) []pricing.PricePoint {
	return []pricing.PricePoint{
		{Threshold: pricing.UnlimitedThreshold, UnitCost: decimal.RequireFromString(cost)},
	}
}

func TestResolve_OpenEndedTable_NoPrior(t *testing.T) {
	store := &countingStore{tables: []catalog.Table{{
		AddonKey:   "com.example.assets",
		Deployment: pricing.DeploymentCloud,
		Name:       "Cloud v1",
		Points:     points("10"),
	}}}
	resolver := catalog.NewResolver(store)

	resolved, err := resolver.Resolve(context.Background(),
		"com.example.assets", pricing.DeploymentCloud, pricing.MustParseDate("2025-05-01"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Active == nil || resolved.Active.Name != "Cloud v1" {
		t.Fatalf("expected Cloud v1, got %+v", resolved.Active)
	}
	if resolved.Prior != nil {
		t.Errorf("expected no prior for an open-ended table, got %+v", resolved.Prior)
	}
	if store.endingOnCall != 0 {
		t.Errorf("expected no prior lookup, got %d", store.endingOnCall)
	}
}

func TestResolve_AdjacentTables_SurfacesPrior(t *testing.T) {
	// GIVEN: A table ending 2024-12-31 and its successor starting 2025-01-01
	store := &countingStore{tables: []catalog.Table{
		{
			AddonKey:   "com.example.assets",
			Deployment: pricing.DeploymentCloud,
			Name:       "Cloud 2024",
			ValidTo:    datePtr("2024-12-31"),
			Points:     points("8"),
		},
		{
			AddonKey:   "com.example.assets",
			Deployment: pricing.DeploymentCloud,
			Name:       "Cloud 2025",
			ValidFrom:  datePtr("2025-01-01"),
			Points:     points("10"),
		},
	}}
	resolver := catalog.NewResolver(store)

	resolved, err := resolver.Resolve(context.Background(),
		"com.example.assets", pricing.DeploymentCloud, pricing.MustParseDate("2025-03-01"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Active.Name != "Cloud 2025" {
		t.Errorf("expected active Cloud 2025, got %s", resolved.Active.Name)
	}
	if resolved.Prior == nil || resolved.Prior.Name != "Cloud 2024" {
		t.Fatalf("expected prior Cloud 2024, got %+v", resolved.Prior)
	}
}

func TestResolve_GapBeforeTable_NoPrior(t *testing.T) {
	// A predecessor ending two days earlier is not adjacent; cutover
	// ambiguity only exists across a seamless handover.
	store := &countingStore{tables: []catalog.Table{
		{
			AddonKey:   "com.example.assets",
			Deployment: pricing.DeploymentCloud,
			Name:       "Cloud 2024",
			ValidTo:    datePtr("2024-12-30"),
			Points:     points("8"),
		},
		{
			AddonKey:   "com.example.assets",
			Deployment: pricing.DeploymentCloud,
			Name:       "Cloud 2025",
			ValidFrom:  datePtr("2025-01-01"),
			Points:     points("10"),
		},
	}}
	resolver := catalog.NewResolver(store)

	resolved, err := resolver.Resolve(context.Background(),
		"com.example.assets", pricing.DeploymentCloud, pricing.MustParseDate("2025-03-01"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Prior != nil {
		t.Errorf("expected no prior across a gap, got %+v", resolved.Prior)
	}
}

func TestResolve_RepeatedLookups_HitCache(t *testing.T) {
	store := &countingStore{tables: []catalog.Table{{
		AddonKey:   "com.example.assets",
		Deployment: pricing.DeploymentCloud,
		Name:       "Cloud v1",
		Points:     points("10"),
	}}}
	resolver := catalog.NewResolver(store)
	date := pricing.MustParseDate("2025-05-01")

	for i := 0; i < 5; i++ {
		if _, err := resolver.Resolve(context.Background(),
			"com.example.assets", pricing.DeploymentCloud, date); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if store.forCalls != 1 {
		t.Errorf("expected 1 store lookup across 5 resolves, got %d", store.forCalls)
	}

	// A different date is a different cache key.
	if _, err := resolver.Resolve(context.Background(),
		"com.example.assets", pricing.DeploymentCloud, date.AddDays(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.forCalls != 2 {
		t.Errorf("expected a fresh lookup for a new date, got %d calls", store.forCalls)
	}
}

func TestResolve_UnknownAddon_IsError(t *testing.T) {
	resolver := catalog.NewResolver(&countingStore{})

	_, err := resolver.Resolve(context.Background(),
		"com.example.missing", pricing.DeploymentCloud, pricing.MustParseDate("2025-05-01"))
	if !errors.Is(err, pricing.ErrNoPricingFound) {
		t.Errorf("expected ErrNoPricingFound, got %v", err)
	}
}
