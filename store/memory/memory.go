/*
Package memory provides in-memory implementations of the storage interfaces.

PURPOSE:
  Backs tests and local development without a database file. Implements the
  same contracts as store/sqlite: audit.TransactionStore, audit.LicenseStore
  and catalog.PricingStore.

  Data is seeded through the Add* and Set* methods; reads are copy-on-return so
  callers can't mutate the store's state through returned slices.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/marketplace-audit/audit"
	"github.com/warp/marketplace-audit/catalog"
	"github.com/warp/marketplace-audit/pricing"
)

// Store holds everything in process memory, guarded by a single RWMutex.
type Store struct {
	mu sync.RWMutex

	transactions    map[string]audit.Transaction
	reconciliations map[string][]audit.ReconciliationRecord // by transaction id, newest last
	tables          []catalog.Table
	sandbox         map[string]bool // by entitlement id
}

func New() *Store {
	return &Store{
		transactions:    make(map[string]audit.Transaction),
		reconciliations: make(map[string][]audit.ReconciliationRecord),
		sandbox:         make(map[string]bool),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

func (s *Store) AddTransaction(tx audit.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
}

func (s *Store) AddTable(table catalog.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = append(s.tables, table)
}

func (s *Store) SetSandbox(entitlementID string, sandbox bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sandbox[entitlementID] = sandbox
}

// =============================================================================
// audit.TransactionStore
// =============================================================================

func (s *Store) TransactionsSince(ctx context.Context, cutoff pricing.Date) ([]audit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Transaction
	for _, tx := range s.transactions {
		if tx.SaleDate.AfterOrEqual(cutoff) {
			out = append(out, tx)
		}
	}
	sortBySaleDate(out)
	return out, nil
}

func (s *Store) TransactionsForEntitlement(ctx context.Context, entitlementID string) ([]audit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Transaction
	for _, tx := range s.transactions {
		if tx.EntitlementID == entitlementID {
			out = append(out, tx)
		}
	}
	sortBySaleDate(out)
	return out, nil
}

func (s *Store) CurrentReconciliation(ctx context.Context, transactionID string) (*audit.ReconciliationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.reconciliations[transactionID] {
		if rec.Current {
			copied := rec
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *Store) SaveReconciliation(ctx context.Context, record audit.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.reconciliations[record.TransactionID]
	for i := range records {
		records[i].Current = false
	}
	s.reconciliations[record.TransactionID] = append(records, record)
	return nil
}

// Reconciliations returns a transaction's full reconciliation history,
// newest last.
func (s *Store) Reconciliations(ctx context.Context, transactionID string) ([]audit.ReconciliationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.reconciliations[transactionID]
	out := make([]audit.ReconciliationRecord, len(records))
	copy(out, records)
	return out, nil
}

// ListTransactions returns a page of transactions ordered by sale date
// ascending, optionally filtered by entitlement.
func (s *Store) ListTransactions(ctx context.Context, entitlementID string, limit, offset int) ([]audit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Transaction
	for _, tx := range s.transactions {
		if entitlementID == "" || tx.EntitlementID == entitlementID {
			all = append(all, tx)
		}
	}
	sortBySaleDate(all)

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// GetTransaction returns one transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*audit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	return &tx, nil
}

// =============================================================================
// audit.LicenseStore
// =============================================================================

func (s *Store) IsSandbox(ctx context.Context, entitlementID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sandbox[entitlementID], nil
}

// =============================================================================
// catalog.PricingStore
// =============================================================================

func (s *Store) TableFor(ctx context.Context, addonKey string, deployment pricing.Deployment, saleDate pricing.Date) (*catalog.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.tables {
		t := s.tables[i]
		if t.AddonKey == addonKey && t.Deployment == deployment && t.Covers(saleDate) {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s/%s on %s: %w", addonKey, deployment, saleDate, pricing.ErrNoPricingFound)
}

func (s *Store) TableEndingOn(ctx context.Context, addonKey string, deployment pricing.Deployment, end pricing.Date) (*catalog.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.tables {
		t := s.tables[i]
		if t.AddonKey == addonKey && t.Deployment == deployment &&
			t.ValidTo != nil && t.ValidTo.Equal(end) {
			return &t, nil
		}
	}
	return nil, nil
}

// ListTables returns all pricing tables, optionally filtered by addon key.
func (s *Store) ListTables(ctx context.Context, addonKey string) ([]catalog.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []catalog.Table
	for _, t := range s.tables {
		if addonKey == "" || t.AddonKey == addonKey {
			out = append(out, t)
		}
	}
	return out, nil
}

func sortBySaleDate(txs []audit.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].SaleDate.Equal(txs[j].SaleDate) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].SaleDate.Before(txs[j].SaleDate)
	})
}
