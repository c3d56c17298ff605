/*
previous.go - Which prior purchase does an upgrade extend?

PURPOSE:
  An upgrade is priced with credit for coverage the customer already paid
  for, so the validator must find the prior purchase whose maintenance most
  recently preceded the upgrade's start. Refunds complicate this: a refund
  retroactively shrinks (or voids) the coverage of the purchase it refunds,
  and the shrunken window is what the upgrade actually extends.

EFFECTIVE COVERAGE:
  Every transaction starts with its stated maintenance window. Each refund
  is attributed to the sale it most plausibly reverses, then tightens that
  sale's effective end date - fully covering refunds collapse the window to
  zero. Multiple partial refunds compound.

EDGE CASE:
  Same-day sale-then-refund and refund-then-sale both collapse to "no
  effective coverage". Order within a day is not distinguishable from the
  data, so a refund is allowed to void a same-day sale.
*/
package audit

import (
	"github.com/warp/marketplace-audit/pricing"
)

// PreviousPurchase is the prior transaction an upgrade extends, together
// with its refund-adjusted coverage end.
type PreviousPurchase struct {
	Transaction Transaction

	// EffectiveEnd is the stated maintenance end, tightened by any refunds
	// attributed to the purchase.
	EffectiveEnd pricing.Date
}

// ResolvePreviousPurchase finds the prior purchase (if any) whose effective
// maintenance coverage most recently preceded the evaluated transaction's
// start. siblings must be every transaction for the entitlement, ordered by
// sale date ascending.
func ResolvePreviousPurchase(siblings []Transaction, current Transaction) (*PreviousPurchase, bool) {
	effectiveEnd := make(map[string]pricing.Date, len(siblings))
	for _, tx := range siblings {
		effectiveEnd[tx.ID] = tx.MaintenanceEnd
	}

	for _, refund := range siblings {
		if refund.SaleType != pricing.SaleRefund {
			continue
		}
		target, ok := refundTarget(siblings, refund)
		if !ok {
			continue
		}
		if coversWindow(refund, target) {
			// Fully refunded: zero effective coverage.
			effectiveEnd[target.ID] = target.MaintenanceStart
			continue
		}
		bound := refund.MaintenanceStart.Min(refund.MaintenanceEnd)
		effectiveEnd[target.ID] = effectiveEnd[target.ID].Min(bound)
	}

	var best *Transaction
	var bestEnd pricing.Date
	for i, tx := range siblings {
		if tx.ID == current.ID || tx.SaleType == pricing.SaleRefund {
			continue
		}
		end := effectiveEnd[tx.ID]
		if end.Equal(tx.MaintenanceStart) {
			// Fully nullified by a refund.
			continue
		}
		if !end.Before(current.MaintenanceStart) {
			continue
		}
		if best == nil || end.AfterOrEqual(bestEnd) {
			best = &siblings[i]
			bestEnd = end
		}
	}
	if best == nil {
		return nil, false
	}
	return &PreviousPurchase{Transaction: *best, EffectiveEnd: bestEnd}, true
}

// refundTarget picks the non-refund sale a refund most plausibly reverses:
// overlapping maintenance windows, sold on or before the refund's sale date.
// Among candidates the latest sale wins; same-day sales are refundable.
func refundTarget(siblings []Transaction, refund Transaction) (Transaction, bool) {
	var target Transaction
	found := false
	for _, tx := range siblings {
		if tx.SaleType == pricing.SaleRefund || tx.ID == refund.ID {
			continue
		}
		if tx.SaleDate.After(refund.SaleDate) {
			continue
		}
		if !windowsOverlap(refund, tx) {
			continue
		}
		// siblings are sorted by sale date ascending, so keeping the last
		// match selects the latest qualifying sale.
		target = tx
		found = true
	}
	return target, found
}

func windowsOverlap(a, b Transaction) bool {
	return !a.MaintenanceStart.After(b.MaintenanceEnd) &&
		!b.MaintenanceStart.After(a.MaintenanceEnd)
}

// coversWindow returns true when the refund's window fully contains the
// refunded sale's window.
func coversWindow(refund, sale Transaction) bool {
	return refund.MaintenanceStart.BeforeOrEqual(sale.MaintenanceStart) &&
		refund.MaintenanceEnd.AfterOrEqual(sale.MaintenanceEnd)
}
