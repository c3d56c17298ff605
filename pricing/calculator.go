/*
calculator.go - Expected-price calculation for one transaction

PURPOSE:
  Computes what a marketplace transaction *should* have cost, from the
  vendor's own pricing rules. The validation loop compares this against
  what was actually paid to detect billing discrepancies.

PRICING MODEL:
  Server / Data Center:
    Flat annual tier price, prorated linearly over the license duration.
    Always billed annually - anything else is corrupted data.

  Cloud:
    Seat counts within the first tier pay its flat monthly rate. Beyond it,
    pricing is progressive: each tier's unit cost applies only to the seats
    falling inside that tier's band (standard marginal pricing). Annual
    billing pays 10 monthly payments for the year, prorated over the
    duration; monthly billing under 29 days gets the marketplace's
    short-month correction of (days+2)/31.

  Discount ordering matters and is deliberate:
    refund negation -> license-class multiplier -> annual ceiling ->
    upgrade overlap credit -> manual discount -> annual ceiling again ->
    vendor revenue share -> final 2dp rounding.

REVENUE SHARE:
  Cloud pays the vendor 85% of list, on-prem 75%. The ratio is static per
  deployment type; it does not (yet) vary by sale date.

SEE ALSO:
  - dates.go: the duration math used for every proration here
  - tier.go:  seat-count parsing
*/
package pricing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// CONSTANTS
// =============================================================================

var (
	// academicDiscountCutover is when the on-prem academic/community discount
	// tightened for very large tiers.
	academicDiscountCutover = NewDate(2024, 9, 1)

	// largeTierSeats is the on-prem seat count at which the post-cutover
	// academic/community multiplier drops from 50% to 25%.
	largeTierSeats = 10000

	daysPerYear = decimal.NewFromInt(365)

	// Annual cloud subscriptions are priced as 10 monthly payments.
	annualMonths = decimal.NewFromInt(10)

	cloudVendorShare  = decimal.NewFromFloat(0.85)
	onPremVendorShare = decimal.NewFromFloat(0.75)
)

// =============================================================================
// CALCULATION INPUT
// =============================================================================

// CalcInput carries one transaction's commercial terms plus the resolved tier
// table. Everything the calculation needs is in here - the function reads no
// storage and keeps no state.
type CalcInput struct {
	Tiers    []PricePoint
	SaleDate Date
	SaleType SaleType

	// Sandbox transactions always price at zero.
	Sandbox bool

	Hosting          Hosting
	LicenseType      LicenseType
	Tier             string
	MaintenanceStart Date
	MaintenanceEnd   Date
	BillingPeriod    BillingPeriod

	// For upgrades: the effective end of the purchase being extended and its
	// computed price, used to credit coverage the customer already paid for.
	PreviousEndDate *Date
	PreviousResult  *PriceResult

	// ManualDiscount models partner/manual adjustments applied after the
	// automatic calculation. Subtracted from the base price (added back for
	// refunds).
	ManualDiscount *decimal.Decimal
}

// =============================================================================
// CALCULATOR
// =============================================================================

// CalculateExpectedPrice computes the expected purchase and vendor amounts
// for one transaction. Pure function: identical input yields identical
// output. All intermediate math runs at full decimal precision; rounding to
// 2 decimal places happens only on the returned prices.
func CalculateExpectedPrice(in CalcInput) (PriceResult, error) {
	if in.Sandbox {
		return ZeroResult(), nil
	}

	seats, err := ParseTier(in.Tier)
	if err != nil {
		return PriceResult{}, err
	}

	deployment, err := in.Hosting.Deployment()
	if err != nil {
		return PriceResult{}, err
	}

	durationDays := DayCount(in.MaintenanceStart, in.MaintenanceEnd)

	base, err := basePrice(in, deployment, seats, durationDays)
	if err != nil {
		return PriceResult{}, err
	}

	if in.SaleType == SaleRefund {
		base = base.Neg()
	}

	base = base.Mul(licenseMultiplier(in.LicenseType, deployment, in.SaleDate, seats))

	purchase := base
	if in.BillingPeriod == BillingAnnual {
		purchase = base.Ceil()
	}

	daily := decimal.Zero
	if durationDays > 0 {
		daily = purchase.Div(decimal.NewFromInt(int64(durationDays)))
	}

	// Upgrade proration: days already covered by the previous purchase are
	// charged only the difference between the two daily rates.
	if in.SaleType == SaleUpgrade && in.PreviousEndDate != nil {
		overlap := OverlapDays(in.MaintenanceStart, *in.PreviousEndDate)
		if overlap > durationDays {
			return PriceResult{}, &OverlapError{OverlapDays: overlap, DurationDays: durationDays}
		}
		if overlap > 0 && in.PreviousResult != nil && in.PreviousResult.PurchasePrice.IsPositive() {
			freshDays := decimal.NewFromInt(int64(durationDays - overlap))
			overlapDays := decimal.NewFromInt(int64(overlap))
			credit := daily.Sub(in.PreviousResult.DailyNominalPrice)
			base = freshDays.Mul(daily).Add(overlapDays.Mul(credit))
		}
	}

	if in.ManualDiscount != nil {
		if in.SaleType == SaleRefund {
			base = base.Add(*in.ManualDiscount)
		} else {
			base = base.Sub(*in.ManualDiscount)
		}
	}

	if in.BillingPeriod == BillingAnnual {
		base = base.Ceil()
	}
	purchase = base

	// Vendor-share rounding differs from customer-price rounding for on-prem
	// annual deals: the discounted base is ceiled again before the split.
	if deployment != DeploymentCloud && in.BillingPeriod == BillingAnnual {
		base = base.Ceil()
	}

	vendor := base.Mul(vendorShare(deployment))

	return PriceResult{
		VendorPrice:       vendor.Round(2),
		PurchasePrice:     purchase.Round(2),
		DailyNominalPrice: daily,
	}, nil
}

// =============================================================================
// BASE PRICE
// =============================================================================

func basePrice(in CalcInput, deployment Deployment, seats, durationDays int) (decimal.Decimal, error) {
	duration := decimal.NewFromInt(int64(durationDays))

	if deployment != DeploymentCloud {
		if in.BillingPeriod != BillingAnnual {
			return decimal.Zero, ErrNonAnnualOnPrem
		}
		point, err := flatTierFor(in.Tiers, seats)
		if err != nil {
			return decimal.Zero, err
		}
		return point.UnitCost.Mul(duration).Div(daysPerYear), nil
	}

	base, err := cloudTierPrice(in.Tiers, seats)
	if err != nil {
		return decimal.Zero, err
	}

	switch {
	case in.BillingPeriod == BillingAnnual:
		base = base.Mul(annualMonths).Mul(duration).Div(daysPerYear)
	case durationDays < 29:
		// Short-month correction approximating the marketplace's own
		// partial-month proration.
		base = base.Mul(decimal.NewFromInt(int64(durationDays + 2))).
			Div(decimal.NewFromInt(31))
	}
	return base, nil
}

// flatTierFor selects the on-prem tier covering a seat count: the first
// threshold at or above it, or the unlimited tier for unbounded (or
// overflowing) counts.
func flatTierFor(tiers []PricePoint, seats int) (PricePoint, error) {
	var unlimited *PricePoint
	for i, p := range tiers {
		if p.Threshold == UnlimitedThreshold {
			unlimited = &tiers[i]
			continue
		}
		if seats != UnlimitedThreshold && seats <= p.Threshold {
			return p, nil
		}
	}
	if unlimited != nil {
		return *unlimited, nil
	}
	return PricePoint{}, ErrNoTierFound
}

// cloudTierPrice computes the progressive per-seat cloud price.
//
// The first tier is always a flat rate: seat counts inside it pay the whole
// band price. Beyond it, each tier's unit cost applies to the seats falling
// in that band, clamped to the seats remaining.
func cloudTierPrice(tiers []PricePoint, seats int) (decimal.Decimal, error) {
	if len(tiers) == 0 {
		return decimal.Zero, ErrNoTierFound
	}

	first := tiers[0]
	if seats == UnlimitedThreshold || seats <= first.Threshold {
		return first.UnitCost, nil
	}

	total := first.UnitCost
	covered := first.Threshold
	remaining := seats - first.Threshold

	for _, p := range tiers[1:] {
		band := remaining
		if p.Threshold != UnlimitedThreshold {
			if width := p.Threshold - covered; width < band {
				band = width
			}
		}
		if band <= 0 {
			break
		}
		total = total.Add(p.UnitCost.Mul(decimal.NewFromInt(int64(band))))
		remaining -= band
		covered = p.Threshold
		if remaining <= 0 {
			break
		}
	}
	return total, nil
}

// =============================================================================
// DISCOUNTS AND REVENUE SHARE
// =============================================================================

// licenseMultiplier returns the fraction of list price a license class pays.
//
// Academic and community licenses pay 25% on cloud. On-prem they pay 50%,
// except that from the 2024-09-01 cutover very large (>= 10,000 seat,
// non-unlimited) tiers pay 25%. Evaluation and open-source licenses are
// free; commercial pays full price.
func licenseMultiplier(license LicenseType, deployment Deployment, saleDate Date, seats int) decimal.Decimal {
	switch license {
	case LicenseEvaluation, LicenseOpenSource:
		return decimal.Zero
	case LicenseAcademic, LicenseCommunity:
		if deployment == DeploymentCloud {
			return decimal.NewFromFloat(0.25)
		}
		if saleDate.AfterOrEqual(academicDiscountCutover) &&
			seats != UnlimitedThreshold && seats >= largeTierSeats {
			return decimal.NewFromFloat(0.25)
		}
		return decimal.NewFromFloat(0.5)
	default:
		return decimal.NewFromInt(1)
	}
}

// vendorShare is static per deployment type. Revenue-share changes by sale
// date have been discussed but no cutover rule exists yet.
func vendorShare(deployment Deployment) decimal.Decimal {
	if deployment == DeploymentCloud {
		return cloudVendorShare
	}
	return onPremVendorShare
}
