package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/marketplace-audit/audit"
	"github.com/warp/marketplace-audit/catalog"
	"github.com/warp/marketplace-audit/pricing"
	"github.com/warp/marketplace-audit/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleTransaction(id, entitlement, saleDate string) audit.Transaction {
	return audit.Transaction{
		ID:               id,
		EntitlementID:    entitlement,
		AddonKey:         "com.example.assets",
		SaleDate:         pricing.MustParseDate(saleDate),
		SaleType:         pricing.SaleRenewal,
		Hosting:          pricing.HostingCloud,
		LicenseType:      pricing.LicenseCommercial,
		Tier:             "100 Users",
		BillingPeriod:    pricing.BillingAnnual,
		MaintenanceStart: pricing.MustParseDate(saleDate),
		MaintenanceEnd:   pricing.MustParseDate(saleDate).AddYears(1),
		VendorAmount:     decimal.RequireFromString("1402.50"),
		Country:          "United States",
		CurrentVersion:   1,
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSaveTransaction_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	discount := decimal.RequireFromString("12.34")
	tx := sampleTransaction("AT-1", "E-1", "2025-05-01")
	tx.ManualDiscount = &discount
	require.NoError(t, store.SaveTransaction(ctx, tx))

	got, err := store.GetTransaction(ctx, "AT-1")
	require.NoError(t, err)

	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, tx.EntitlementID, got.EntitlementID)
	assert.Equal(t, tx.AddonKey, got.AddonKey)
	assert.True(t, got.SaleDate.Equal(tx.SaleDate))
	assert.Equal(t, tx.SaleType, got.SaleType)
	assert.Equal(t, tx.Hosting, got.Hosting)
	assert.Equal(t, tx.LicenseType, got.LicenseType)
	assert.Equal(t, tx.Tier, got.Tier)
	assert.Equal(t, tx.BillingPeriod, got.BillingPeriod)
	assert.True(t, got.MaintenanceStart.Equal(tx.MaintenanceStart))
	assert.True(t, got.MaintenanceEnd.Equal(tx.MaintenanceEnd))
	assert.True(t, got.VendorAmount.Equal(tx.VendorAmount))
	assert.Equal(t, tx.Country, got.Country)
	require.NotNil(t, got.ManualDiscount)
	assert.True(t, got.ManualDiscount.Equal(discount))
	assert.Equal(t, 1, got.CurrentVersion)
}

func TestSaveTransaction_UpsertBumpsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := sampleTransaction("AT-1", "E-1", "2025-05-01")
	require.NoError(t, store.SaveTransaction(ctx, tx))

	tx.CurrentVersion = 2
	tx.VendorAmount = decimal.RequireFromString("1500")
	require.NoError(t, store.SaveTransaction(ctx, tx))

	got, err := store.GetTransaction(ctx, "AT-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentVersion)
	assert.True(t, got.VendorAmount.Equal(decimal.RequireFromString("1500")))
}

func TestTransactionsSince_FiltersAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTransaction(ctx, sampleTransaction("AT-3", "E-1", "2025-06-01")))
	require.NoError(t, store.SaveTransaction(ctx, sampleTransaction("AT-1", "E-1", "2025-04-01")))
	require.NoError(t, store.SaveTransaction(ctx, sampleTransaction("AT-2", "E-2", "2025-05-01")))

	txs, err := store.TransactionsSince(ctx, pricing.MustParseDate("2025-05-01"))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "AT-2", txs[0].ID)
	assert.Equal(t, "AT-3", txs[1].ID)
}

func TestTransactionsForEntitlement_OrderedBySaleDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTransaction(ctx, sampleTransaction("AT-2", "E-1", "2025-06-01")))
	require.NoError(t, store.SaveTransaction(ctx, sampleTransaction("AT-1", "E-1", "2025-04-01")))
	require.NoError(t, store.SaveTransaction(ctx, sampleTransaction("AT-9", "E-2", "2025-05-01")))

	txs, err := store.TransactionsForEntitlement(ctx, "E-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "AT-1", txs[0].ID)
	assert.Equal(t, "AT-2", txs[1].ID)
}

func TestListTransactions_Pagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTransaction(ctx, sampleTransaction("AT-1", "E-1", "2025-04-01")))
	require.NoError(t, store.SaveTransaction(ctx, sampleTransaction("AT-2", "E-1", "2025-05-01")))
	require.NoError(t, store.SaveTransaction(ctx, sampleTransaction("AT-3", "E-1", "2025-06-01")))

	page, err := store.ListTransactions(ctx, "", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "AT-1", page[0].ID)

	page, err = store.ListTransactions(ctx, "", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "AT-3", page[0].ID)
}

// =============================================================================
// LICENSES
// =============================================================================

func TestIsSandbox_DefaultsFalse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sandbox, err := store.IsSandbox(ctx, "E-unknown")
	require.NoError(t, err)
	assert.False(t, sandbox)

	require.NoError(t, store.SetSandbox(ctx, "E-1", true))
	sandbox, err = store.IsSandbox(ctx, "E-1")
	require.NoError(t, err)
	assert.True(t, sandbox)
}

// =============================================================================
// PRICING TABLES
// =============================================================================

func TestSaveTable_RoundTripWithPointOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	from := pricing.MustParseDate("2025-01-01")
	// Points deliberately inserted out of order; reads sort ascending with
	// the unlimited tier last.
	require.NoError(t, store.SaveTable(ctx, catalog.Table{
		AddonKey:   "com.example.assets",
		Deployment: pricing.DeploymentCloud,
		Name:       "Cloud 2025",
		ValidFrom:  &from,
		Points: []pricing.PricePoint{
			{Threshold: pricing.UnlimitedThreshold, UnitCost: decimal.RequireFromString("0.77")},
			{Threshold: 100, UnitCost: decimal.RequireFromString("1.00")},
			{Threshold: 10, UnitCost: decimal.RequireFromString("75")},
		},
	}))

	table, err := store.TableFor(ctx, "com.example.assets", pricing.DeploymentCloud,
		pricing.MustParseDate("2025-05-01"))
	require.NoError(t, err)

	assert.Equal(t, "Cloud 2025", table.Name)
	require.NotNil(t, table.ValidFrom)
	assert.True(t, table.ValidFrom.Equal(from))
	assert.Nil(t, table.ValidTo)

	require.Len(t, table.Points, 3)
	assert.Equal(t, 10, table.Points[0].Threshold)
	assert.Equal(t, 100, table.Points[1].Threshold)
	assert.Equal(t, pricing.UnlimitedThreshold, table.Points[2].Threshold)
}

func TestTableFor_RespectsValidityWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	to := pricing.MustParseDate("2024-12-31")
	require.NoError(t, store.SaveTable(ctx, catalog.Table{
		AddonKey:   "com.example.assets",
		Deployment: pricing.DeploymentCloud,
		Name:       "Cloud 2024",
		ValidTo:    &to,
		Points:     []pricing.PricePoint{{Threshold: pricing.UnlimitedThreshold, UnitCost: decimal.RequireFromString("1")}},
	}))

	// Inside the window.
	table, err := store.TableFor(ctx, "com.example.assets", pricing.DeploymentCloud,
		pricing.MustParseDate("2024-12-31"))
	require.NoError(t, err)
	assert.Equal(t, "Cloud 2024", table.Name)

	// One day past the inclusive end.
	_, err = store.TableFor(ctx, "com.example.assets", pricing.DeploymentCloud,
		pricing.MustParseDate("2025-01-01"))
	assert.ErrorIs(t, err, pricing.ErrNoPricingFound)
}

func TestTableEndingOn_FindsPredecessor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	to := pricing.MustParseDate("2024-12-31")
	require.NoError(t, store.SaveTable(ctx, catalog.Table{
		AddonKey:   "com.example.assets",
		Deployment: pricing.DeploymentCloud,
		Name:       "Cloud 2024",
		ValidTo:    &to,
		Points:     []pricing.PricePoint{{Threshold: pricing.UnlimitedThreshold, UnitCost: decimal.RequireFromString("1")}},
	}))

	table, err := store.TableEndingOn(ctx, "com.example.assets", pricing.DeploymentCloud, to)
	require.NoError(t, err)
	require.NotNil(t, table)
	assert.Equal(t, "Cloud 2024", table.Name)

	// No table ends on this date.
	table, err = store.TableEndingOn(ctx, "com.example.assets", pricing.DeploymentCloud,
		pricing.MustParseDate("2024-06-30"))
	require.NoError(t, err)
	assert.Nil(t, table)
}

// =============================================================================
// RECONCILIATIONS
// =============================================================================

func record(id, txID string, version int, current bool) audit.ReconciliationRecord {
	return audit.ReconciliationRecord{
		ID:                   id,
		TransactionID:        txID,
		TransactionVersion:   version,
		Reconciled:           true,
		Automatic:            true,
		ActualVendorAmount:   decimal.RequireFromString("188.03"),
		ExpectedVendorAmount: decimal.RequireFromString("188.03"),
		Notes:                "",
		Current:              current,
		CreatedAt:            time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveReconciliation_DemotesPreviousCurrent(t *testing.T) {
	// GIVEN: A current record at version 1
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveReconciliation(ctx, record("R-1", "AT-1", 1, true)))

	// WHEN: Version 2 is written
	require.NoError(t, store.SaveReconciliation(ctx, record("R-2", "AT-1", 2, true)))

	// THEN: Exactly one record is current, and it is the new one
	current, err := store.CurrentReconciliation(ctx, "AT-1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "R-2", current.ID)
	assert.Equal(t, 2, current.TransactionVersion)

	history, err := store.Reconciliations(ctx, "AT-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Current)
	assert.True(t, history[1].Current)
}

func TestSaveReconciliation_DuplicateEngineVersion_Rejected(t *testing.T) {
	// The engine writes once per (transaction, version); a second automatic
	// record at the same version is a caller bug and must fail loudly.
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveReconciliation(ctx, record("R-1", "AT-1", 1, true)))
	err := store.SaveReconciliation(ctx, record("R-2", "AT-1", 1, true))
	assert.Error(t, err)
}

func TestSaveReconciliation_ManualOverrideOnSameVersion_Allowed(t *testing.T) {
	// A reviewer override stacks on the engine's record for the same
	// transaction version.
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveReconciliation(ctx, record("R-1", "AT-1", 1, true)))

	override := record("R-2", "AT-1", 1, true)
	override.Automatic = false
	override.Notes = "chargeback pending"
	require.NoError(t, store.SaveReconciliation(ctx, override))

	current, err := store.CurrentReconciliation(ctx, "AT-1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "R-2", current.ID)
	assert.False(t, current.Automatic)
}

func TestCurrentReconciliation_NoneYet_ReturnsNil(t *testing.T) {
	store := newTestStore(t)

	current, err := store.CurrentReconciliation(context.Background(), "AT-unknown")
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestReconciliation_RoundTripFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := record("R-1", "AT-1", 1, true)
	rec.Reconciled = false
	rec.Automatic = false
	rec.Notes = "manual override; see ticket"
	rec.ActualVendorAmount = decimal.RequireFromString("-188.03")
	require.NoError(t, store.SaveReconciliation(ctx, rec))

	got, err := store.CurrentReconciliation(ctx, "AT-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Reconciled)
	assert.False(t, got.Automatic)
	assert.Equal(t, "manual override; see ticket", got.Notes)
	assert.True(t, got.ActualVendorAmount.Equal(rec.ActualVendorAmount))
	assert.True(t, got.ExpectedVendorAmount.Equal(rec.ExpectedVendorAmount))
	assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
}
