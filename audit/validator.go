/*
validator.go - Per-transaction validation and reconciliation loop

PURPOSE:
  Drives the whole audit: for each transaction since the cutover, resolve
  pricing, compute the expected price, compare against the actual amount,
  and persist a reconciliation record. One bad transaction never aborts the
  batch - failures are logged with the transaction id and the loop moves on.

LEGACY-PRICING SEARCH:
  Sales near a pricing-table cutover are sometimes honored at the outgoing
  prices, on either the sale itself, the purchase it upgrades from, or both.
  The validator tries a fixed ordered list of hypotheses and stops at the
  first one whose expected price matches the actual amount within tolerance.
  If none match, the final current-pricing computation stands as the
  best-effort result and the transaction is flagged as a discrepancy.

TOLERANCE:
  Japan-billed sales tolerate 15% relative drift (JPY rounding upstream is
  coarse); everywhere else gets a flat ±$10 band. An actual amount of
  exactly zero against a nonzero expectation is never valid - that is how
  free/erroneous postings surface.

IDEMPOTENCE:
  Records are written once per (transaction, version). Re-running over an
  unchanged data set writes nothing; editing a transaction bumps its version
  upstream and triggers exactly one fresh evaluation.

CONCURRENCY:
  Strictly sequential by design. Upgrade resolution reads sibling
  transactions of the same entitlement, and the pricing cache is shared
  across the run, so processing transactions in order avoids races without
  locks.

SEE ALSO:
  - pricing/calculator.go: the pure expected-price computation
  - catalog/resolver.go:   table resolution and the run-lifetime cache
  - previous.go:           refund-aware previous-purchase resolution
*/
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/marketplace-audit/catalog"
	"github.com/warp/marketplace-audit/pricing"
)

// =============================================================================
// TOLERANCE
// =============================================================================

var (
	absoluteTolerance = decimal.NewFromInt(10)
	jpyRelativeDrift  = decimal.NewFromFloat(0.15)
)

// withinTolerance reports whether an actual payment matches the expected
// amount closely enough to reconcile.
func withinTolerance(actual, expected decimal.Decimal, country string) bool {
	if actual.IsZero() && !expected.IsZero() {
		return false
	}
	if country == "Japan" {
		if expected.IsZero() {
			return actual.IsZero()
		}
		drift := actual.Sub(expected).Abs().Div(expected.Abs())
		return drift.LessThanOrEqual(jpyRelativeDrift)
	}
	return actual.Sub(expected).Abs().LessThanOrEqual(absoluteTolerance)
}

// =============================================================================
// LEGACY-PRICING PERMUTATIONS
// =============================================================================

type legacyPermutation struct {
	current  bool // price this sale with the prior table
	previous bool // price the upgraded-from purchase with its prior table
}

// Hypotheses are tried in order with early exit. The closing all-current
// entry guarantees the best-effort result recorded on no match is the
// non-legacy computation.
var legacyPermutations = []legacyPermutation{
	{current: false, previous: false},
	{current: true, previous: false},
	{current: false, previous: true},
	{current: true, previous: true},
	{current: false, previous: false},
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator runs the audit over all transactions since a cutover date.
type Validator struct {
	transactions TransactionStore
	licenses     LicenseStore
	catalog      *catalog.Resolver
	cutover      pricing.Date
	logger       *zap.Logger
	now          func() time.Time
}

func NewValidator(
	transactions TransactionStore,
	licenses LicenseStore,
	resolver *catalog.Resolver,
	cutover pricing.Date,
	logger *zap.Logger,
) *Validator {
	return &Validator{
		transactions: transactions,
		licenses:     licenses,
		catalog:      resolver,
		cutover:      cutover,
		logger:       logger,
		now:          time.Now,
	}
}

// RunSummary reports what a validation run did.
type RunSummary struct {
	Processed     int
	Reconciled    int
	Discrepancies int
	NeedsReview   int
	Skipped       int
	Failed        int
}

// ValidateTransactions validates every transaction with sale date on or
// after the configured cutover, writing one reconciliation record per
// transaction version. Individual transaction failures are logged and
// counted, never propagated; only batch-level store failures return an
// error.
func (v *Validator) ValidateTransactions(ctx context.Context) (RunSummary, error) {
	var summary RunSummary

	txs, err := v.transactions.TransactionsSince(ctx, v.cutover)
	if err != nil {
		return summary, err
	}

	for _, tx := range txs {
		existing, err := v.transactions.CurrentReconciliation(ctx, tx.ID)
		if err != nil {
			return summary, err
		}
		if existing != nil && existing.TransactionVersion >= tx.CurrentVersion {
			summary.Skipped++
			continue
		}

		out, err := v.validateOne(ctx, tx)
		if err != nil {
			summary.Failed++
			v.logger.Error("validation failed",
				zap.String("transaction", tx.ID),
				zap.String("entitlement", tx.EntitlementID),
				zap.String("saleDate", tx.SaleDate.String()),
				zap.Error(err))
			continue
		}

		record := ReconciliationRecord{
			ID:                   ulid.Make().String(),
			TransactionID:        tx.ID,
			TransactionVersion:   tx.CurrentVersion,
			Reconciled:           out.reconciled,
			Automatic:            true,
			ActualVendorAmount:   tx.VendorAmount,
			ExpectedVendorAmount: out.result.VendorPrice,
			Notes:                strings.Join(out.notes, "; "),
			Current:              true,
			CreatedAt:            v.now(),
		}
		if err := v.transactions.SaveReconciliation(ctx, record); err != nil {
			return summary, err
		}

		summary.Processed++
		switch {
		case out.needsReview:
			summary.NeedsReview++
		case out.reconciled:
			summary.Reconciled++
		default:
			summary.Discrepancies++
		}

		marker := "FAIL"
		if out.reconciled {
			marker = "PASS"
		}
		v.logger.Info(marker,
			zap.String("saleDate", tx.SaleDate.String()),
			zap.String("saleType", string(tx.SaleType)),
			zap.String("entitlement", tx.EntitlementID),
			zap.String("expected", out.result.VendorPrice.StringFixed(2)),
			zap.String("actual", tx.VendorAmount.StringFixed(2)),
			zap.String("notes", record.Notes))
	}

	return summary, nil
}

// =============================================================================
// SINGLE-TRANSACTION VALIDATION
// =============================================================================

type outcome struct {
	result      pricing.PriceResult
	reconciled  bool
	needsReview bool
	notes       []string
}

func (v *Validator) validateOne(ctx context.Context, tx Transaction) (outcome, error) {
	var out outcome

	deployment, err := tx.Hosting.Deployment()
	if err != nil {
		return out, err
	}

	resolved, err := v.catalog.Resolve(ctx, tx.AddonKey, deployment, tx.SaleDate)
	if err != nil {
		return out, err
	}

	// A sandbox installation only explains a zero posting; nonzero amounts
	// are priced normally even on flagged licenses.
	sandboxLicense := false
	if tx.VendorAmount.IsZero() {
		sandboxLicense, err = v.licenses.IsSandbox(ctx, tx.EntitlementID)
		if err != nil {
			return out, err
		}
	}

	var previous *PreviousPurchase
	var previousResolved *catalog.ResolvedPricing
	if tx.SaleType == pricing.SaleUpgrade {
		siblings, err := v.transactions.TransactionsForEntitlement(ctx, tx.EntitlementID)
		if err != nil {
			return out, err
		}
		if prev, ok := ResolvePreviousPurchase(siblings, tx); ok {
			previous = prev
			prevDeployment, err := prev.Transaction.Hosting.Deployment()
			if err != nil {
				return out, err
			}
			previousResolved, err = v.catalog.Resolve(ctx,
				prev.Transaction.AddonKey, prevDeployment, prev.Transaction.SaleDate)
			if err != nil {
				return out, err
			}
		}
	}

	var matched *legacyPermutation
	for i := range legacyPermutations {
		perm := legacyPermutations[i]

		table := resolved.Active
		if perm.current {
			if resolved.Prior == nil {
				continue
			}
			table = resolved.Prior
		}
		if perm.previous && (previousResolved == nil || previousResolved.Prior == nil) {
			continue
		}

		in := pricing.CalcInput{
			Tiers:            table.Points,
			SaleDate:         tx.SaleDate,
			SaleType:         tx.SaleType,
			Sandbox:          sandboxLicense,
			Hosting:          tx.Hosting,
			LicenseType:      tx.LicenseType,
			Tier:             tx.Tier,
			MaintenanceStart: tx.MaintenanceStart,
			MaintenanceEnd:   tx.MaintenanceEnd,
			BillingPeriod:    tx.BillingPeriod,
			ManualDiscount:   tx.ManualDiscount,
		}

		if previous != nil {
			prevResult, err := v.pricePrevious(previous, previousResolved, perm.previous)
			if err != nil {
				return out, err
			}
			end := previous.EffectiveEnd
			in.PreviousEndDate = &end
			in.PreviousResult = prevResult
		}

		result, err := pricing.CalculateExpectedPrice(in)
		if err != nil {
			return out, err
		}
		out.result = result

		if withinTolerance(tx.VendorAmount, result.VendorPrice, tx.Country) {
			matched = &perm
			break
		}
	}

	if matched != nil {
		out.reconciled = true
		if matched.current {
			out.notes = append(out.notes, "matched using legacy pricing for this sale")
		}
		if matched.previous {
			out.notes = append(out.notes, "matched using legacy pricing for previous purchase")
		}
		if tx.Country == "Japan" {
			out.notes = append(out.notes, "JPY 15% tolerance applied")
		}
	} else {
		out.notes = append(out.notes, "no pricing permutation matched actual amount")
	}

	// Business policy: every refund gets human sign-off, match or not.
	if tx.SaleType == pricing.SaleRefund {
		out.reconciled = false
		out.needsReview = true
		out.notes = append(out.notes, "refund requires manual review")
	}

	return out, nil
}

// pricePrevious computes the expected price of the purchase an upgrade
// extends. The previous purchase is priced as its own sale, with current
// pricing unless the permutation says otherwise; its own upgrade chain (if
// any) is not followed further.
func (v *Validator) pricePrevious(prev *PreviousPurchase, resolved *catalog.ResolvedPricing, legacy bool) (*pricing.PriceResult, error) {
	table := resolved.Active
	if legacy {
		table = resolved.Prior
	}

	result, err := pricing.CalculateExpectedPrice(pricing.CalcInput{
		Tiers:            table.Points,
		SaleDate:         prev.Transaction.SaleDate,
		SaleType:         prev.Transaction.SaleType,
		Hosting:          prev.Transaction.Hosting,
		LicenseType:      prev.Transaction.LicenseType,
		Tier:             prev.Transaction.Tier,
		MaintenanceStart: prev.Transaction.MaintenanceStart,
		MaintenanceEnd:   prev.Transaction.MaintenanceEnd,
		BillingPeriod:    prev.Transaction.BillingPeriod,
		ManualDiscount:   prev.Transaction.ManualDiscount,
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
