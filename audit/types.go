/*
Package audit validates marketplace purchase transactions against the
vendor's own pricing rules and records the outcome.

PURPOSE:
  For every transaction since a cutover date, compute the price the vendor
  should have been paid (pricing package), compare it to what was actually
  paid, classify the result, and persist an auditable reconciliation record.
  Re-running is always safe: records are written once per transaction
  version and never re-evaluated for an unchanged version.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: one marketplace sale event (read-only to this engine)
  - ReconciliationRecord: the recorded outcome of one validation
  - Store interfaces: the persistence contracts the validator reads/writes

SEE ALSO:
  - previous.go:  which prior purchase an upgrade extends
  - validator.go: the per-transaction validation loop
*/
package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/marketplace-audit/pricing"
)

// =============================================================================
// TRANSACTION - One marketplace sale event
// =============================================================================

// Transaction is a marketplace sale as imported from the vendor's sales
// exports. The engine never mutates transactions; CurrentVersion increments
// upstream whenever the underlying data changes, which is what triggers
// re-validation.
//
// Invariant: MaintenanceEnd >= MaintenanceStart.
type Transaction struct {
	ID string

	// EntitlementID groups every sale (new, renewals, upgrades, refunds)
	// belonging to one customer license over its lifetime.
	EntitlementID string

	AddonKey         string
	SaleDate         pricing.Date
	SaleType         pricing.SaleType
	Hosting          pricing.Hosting
	LicenseType      pricing.LicenseType
	Tier             string
	BillingPeriod    pricing.BillingPeriod
	MaintenanceStart pricing.Date
	MaintenanceEnd   pricing.Date

	// VendorAmount is what the vendor actually received for this sale.
	VendorAmount decimal.Decimal

	Country string

	// ManualDiscount is an optional partner/manual adjustment recorded
	// against the sale, applied after the automatic calculation.
	ManualDiscount *decimal.Decimal

	CurrentVersion int
}

// =============================================================================
// RECONCILIATION RECORD - Outcome of validating one transaction version
// =============================================================================

// ReconciliationRecord is one row per (transaction, transaction version).
// The latest record for a transaction carries Current=true; older rows are
// kept for audit history.
type ReconciliationRecord struct {
	ID            string
	TransactionID string

	// TransactionVersion is the transaction version this record evaluated.
	// The validator skips transactions whose current record already covers
	// their version.
	TransactionVersion int

	// Reconciled is true when the actual amount matched the expected amount
	// within tolerance. Refunds are never auto-reconciled.
	Reconciled bool

	// Automatic distinguishes engine-produced records from manual overrides.
	Automatic bool

	ActualVendorAmount   decimal.Decimal
	ExpectedVendorAmount decimal.Decimal

	// Notes explains the outcome: legacy-pricing flags, the refund-review
	// policy, country-specific tolerance, or why nothing matched.
	Notes string

	Current   bool
	CreatedAt time.Time
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// TransactionStore is the persistence contract for transactions and their
// reconciliation records.
type TransactionStore interface {
	// TransactionsSince returns all transactions with sale date >= cutoff,
	// ordered by sale date ascending.
	TransactionsSince(ctx context.Context, cutoff pricing.Date) ([]Transaction, error)

	// TransactionsForEntitlement returns every transaction sharing an
	// entitlement, ordered by sale date ascending.
	TransactionsForEntitlement(ctx context.Context, entitlementID string) ([]Transaction, error)

	// CurrentReconciliation returns the record flagged Current for a
	// transaction, or nil when none exists.
	CurrentReconciliation(ctx context.Context, transactionID string) (*ReconciliationRecord, error)

	// SaveReconciliation persists a record and clears the Current flag on
	// any previous record for the same transaction.
	SaveReconciliation(ctx context.Context, record ReconciliationRecord) error
}

// LicenseStore reports license attributes the engine needs but transactions
// don't carry.
type LicenseStore interface {
	// IsSandbox returns true when the license behind an entitlement is
	// flagged as installed on a sandbox instance.
	IsSandbox(ctx context.Context, entitlementID string) (bool, error)
}
