/*
Package pricing implements the expected-price calculation for marketplace
purchase transactions.

PURPOSE:
  Given a transaction's commercial terms (hosting, license type, seat tier,
  billing period, maintenance window) and a resolved tier-price table, compute
  the amount the vendor should have received and the amount the customer
  should have been charged. The calculator is a pure function: no storage,
  no clock, no hidden state. Callers resolve pricing tables and prior
  purchases elsewhere and pass everything in.

KEY CONCEPTS IN THIS FILE (types.go):
  - Hosting / Deployment: where the product runs (Server, Data Center, Cloud)
  - SaleType: New, Renewal, Upgrade, Refund
  - LicenseType: commercial vs. discounted license classes
  - PricePoint: one (seat threshold, unit cost) step of a tier table
  - PriceResult: the calculator's output

DESIGN PRINCIPLES:
  1. Precision: all money math on decimal.Decimal; rounding happens once,
     at the very end of the calculation.
  2. Explicit errors: malformed input is a structured error value, never a
     silent correction (upstream data corruption must surface).

SEE ALSO:
  - calculator.go: the price calculation itself
  - dates.go: day/month duration and maintenance-overlap arithmetic
  - tier.go: seat-count parsing from tier strings
*/
package pricing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// COMMERCIAL TERM ENUMS
// =============================================================================

// Hosting is the hosting label as it appears on marketplace transactions.
type Hosting string

const (
	HostingServer     Hosting = "Server"
	HostingDataCenter Hosting = "Data Center"
	HostingCloud      Hosting = "Cloud"
)

// Deployment is the pricing-table key derived from Hosting.
type Deployment string

const (
	DeploymentServer     Deployment = "server"
	DeploymentDataCenter Deployment = "datacenter"
	DeploymentCloud      Deployment = "cloud"
)

// Deployment maps the transaction-facing hosting label to the key pricing
// tables are filed under. Unrecognized values are fatal for the transaction.
func (h Hosting) Deployment() (Deployment, error) {
	switch h {
	case HostingServer:
		return DeploymentServer, nil
	case HostingDataCenter:
		return DeploymentDataCenter, nil
	case HostingCloud:
		return DeploymentCloud, nil
	default:
		return "", &UnknownHostingError{Hosting: h}
	}
}

type SaleType string

const (
	SaleNew     SaleType = "New"
	SaleRenewal SaleType = "Renewal"
	SaleUpgrade SaleType = "Upgrade"
	SaleRefund  SaleType = "Refund"
)

type LicenseType string

const (
	LicenseAcademic   LicenseType = "ACADEMIC"
	LicenseCommercial LicenseType = "COMMERCIAL"
	LicenseCommunity  LicenseType = "COMMUNITY"
	LicenseEvaluation LicenseType = "EVALUATION"
	LicenseOpenSource LicenseType = "OPEN_SOURCE"
)

type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "Monthly"
	BillingAnnual  BillingPeriod = "Annual"
)

// =============================================================================
// TIER TABLE
// =============================================================================

// UnlimitedThreshold marks the top/unbounded tier of a price table, and is
// also the parsed seat count of an "Unlimited Users" tier string.
const UnlimitedThreshold = -1

// PricePoint is one step of a tier table: seats up to Threshold cost
// UnitCost. For cloud tables the first point is a flat rate covering the
// whole band and later points are per-seat; for server/datacenter every
// point is a flat annual price.
type PricePoint struct {
	Threshold int
	UnitCost  decimal.Decimal
}

// =============================================================================
// PRICE RESULT
// =============================================================================

// PriceResult is the calculator's output.
//
// VendorPrice and PurchasePrice are rounded to 2 decimal places.
// DailyNominalPrice is intentionally unrounded: it is carried forward as the
// proration basis when a later upgrade credits this purchase's remaining
// coverage, and rounding it would compound into the upgrade price.
type PriceResult struct {
	// VendorPrice is what the vendor should receive after the marketplace
	// revenue share and all discounts.
	VendorPrice decimal.Decimal

	// PurchasePrice is what the customer should be charged.
	PurchasePrice decimal.Decimal

	// DailyNominalPrice is PurchasePrice spread over the license duration.
	DailyNominalPrice decimal.Decimal
}

// ZeroResult is the price of sandbox and free-license transactions.
func ZeroResult() PriceResult {
	return PriceResult{
		VendorPrice:       decimal.Zero,
		PurchasePrice:     decimal.Zero,
		DailyNominalPrice: decimal.Zero,
	}
}
