package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/marketplace-audit/api"
	"github.com/warp/marketplace-audit/audit"
	"github.com/warp/marketplace-audit/catalog"
	"github.com/warp/marketplace-audit/pricing"
	"github.com/warp/marketplace-audit/store/memory"
)

// newTestServer wires the full router against an in-memory store seeded with
// one cloud pricing table and one matching transaction.
func newTestServer(t *testing.T) (*memory.Store, *httptest.Server) {
	t.Helper()

	store := memory.New()
	store.AddTable(catalog.Table{
		AddonKey:   "com.example.assets",
		Deployment: pricing.DeploymentCloud,
		Name:       "Cloud 2025",
		Points: []pricing.PricePoint{
			{Threshold: 10, UnitCost: decimal.RequireFromString("75")},
			{Threshold: 100, UnitCost: decimal.RequireFromString("1.00")},
			{Threshold: pricing.UnlimitedThreshold, UnitCost: decimal.RequireFromString("0.77")},
		},
	})
	store.AddTransaction(audit.Transaction{
		ID:               "AT-1",
		EntitlementID:    "E-1",
		AddonKey:         "com.example.assets",
		SaleDate:         pricing.MustParseDate("2025-05-01"),
		SaleType:         pricing.SaleRenewal,
		Hosting:          pricing.HostingCloud,
		LicenseType:      pricing.LicenseCommercial,
		Tier:             "Per Unit Pricing (173 Users)",
		BillingPeriod:    pricing.BillingMonthly,
		MaintenanceStart: pricing.MustParseDate("2025-05-01"),
		MaintenanceEnd:   pricing.MustParseDate("2025-06-01"),
		VendorAmount:     decimal.RequireFromString("188.03"),
		Country:          "United States",
		CurrentVersion:   1,
	})

	resolver := catalog.NewResolver(store)
	validator := audit.NewValidator(store, store, resolver,
		pricing.MustParseDate("2024-01-01"), zap.NewNop())

	handler := api.NewHandler(store, validator, zap.NewNop())
	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)
	return store, server
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestListTransactions_ReturnsSeededTransaction(t *testing.T) {
	_, server := newTestServer(t)

	var txs []map[string]any
	status := getJSON(t, server.URL+"/api/transactions", &txs)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, txs, 1)

	assert.Equal(t, "AT-1", txs[0]["id"])
	assert.Equal(t, "E-1", txs[0]["entitlementId"])
	assert.Equal(t, "2025-05-01", txs[0]["saleDate"])
	assert.Equal(t, "2025-05-01", txs[0]["maintenanceStartDate"])
	assert.Equal(t, "188.03", txs[0]["vendorAmount"])
}

func TestGetTransaction_UnknownID_NotFound(t *testing.T) {
	_, server := newTestServer(t)

	status := getJSON(t, server.URL+"/api/transactions/AT-missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTriggerValidation_ReturnsRunSummary(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/validate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 1, summary["processed"])
	assert.Equal(t, 1, summary["reconciled"])
	assert.Equal(t, 0, summary["discrepancies"])
}

func TestOverrideReconciliation_WritesManualRecord(t *testing.T) {
	// GIVEN: An automatic reconciliation already exists
	_, server := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/validate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	// WHEN: A reviewer overrides it
	body := strings.NewReader(`{"reconciled": false, "notes": "chargeback pending"}`)
	resp, err = http.Post(server.URL+"/api/transactions/AT-1/reconciliations/override",
		"application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, false, rec["reconciled"])
	assert.Equal(t, false, rec["automatic"])
	assert.Equal(t, "chargeback pending", rec["notes"])
	// The manual record carries forward the engine's expected amount.
	assert.Equal(t, "188.03", rec["expectedVendorAmount"])

	// THEN: History shows both records, with the override current
	var history []map[string]any
	status := getJSON(t, server.URL+"/api/transactions/AT-1/reconciliations", &history)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history, 2)
	assert.Equal(t, false, history[0]["current"])
	assert.Equal(t, true, history[1]["current"])
}

func TestOverrideReconciliation_InvalidBody_BadRequest(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/transactions/AT-1/reconciliations/override",
		"application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListPricingTables_ReturnsTierPoints(t *testing.T) {
	_, server := newTestServer(t)

	var tables []map[string]any
	status := getJSON(t, server.URL+"/api/pricing?addon=com.example.assets", &tables)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, tables, 1)

	assert.Equal(t, "com.example.assets", tables[0]["addonKey"])
	assert.Equal(t, "cloud", tables[0]["deploymentType"])

	points, ok := tables[0]["points"].([]any)
	require.True(t, ok)
	require.Len(t, points, 3)
	first, ok := points[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(10), first["userTierThreshold"])
	assert.Equal(t, "75", first["unitCost"])
}
