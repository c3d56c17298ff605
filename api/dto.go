package api

import (
	"github.com/samber/lo"

	"github.com/warp/marketplace-audit/audit"
	"github.com/warp/marketplace-audit/catalog"
	"github.com/warp/marketplace-audit/pricing"
)

// =============================================================================
// RESPONSE DTOs
// =============================================================================

type transactionDTO struct {
	ID               string  `json:"id"`
	EntitlementID    string  `json:"entitlementId"`
	AddonKey         string  `json:"addonKey"`
	SaleDate         string  `json:"saleDate"`
	SaleType         string  `json:"saleType"`
	Hosting          string  `json:"hosting"`
	LicenseType      string  `json:"licenseType"`
	Tier             string  `json:"tier"`
	BillingPeriod    string  `json:"billingPeriod"`
	MaintenanceStart string  `json:"maintenanceStartDate"`
	MaintenanceEnd   string  `json:"maintenanceEndDate"`
	VendorAmount     string  `json:"vendorAmount"`
	Country          string  `json:"country"`
	ManualDiscount   *string `json:"manualDiscount,omitempty"`
	CurrentVersion   int     `json:"currentVersion"`
}

type reconciliationDTO struct {
	ID                   string `json:"id"`
	TransactionID        string `json:"transactionId"`
	TransactionVersion   int    `json:"transactionVersion"`
	Reconciled           bool   `json:"reconciled"`
	Automatic            bool   `json:"automatic"`
	ActualVendorAmount   string `json:"actualVendorAmount"`
	ExpectedVendorAmount string `json:"expectedVendorAmount"`
	Notes                string `json:"notes"`
	Current              bool   `json:"current"`
	CreatedAt            string `json:"createdAt"`
}

type pricePointDTO struct {
	Threshold int    `json:"userTierThreshold"`
	UnitCost  string `json:"unitCost"`
}

type tableDTO struct {
	AddonKey   string          `json:"addonKey"`
	Deployment string          `json:"deploymentType"`
	Name       string          `json:"name,omitempty"`
	ValidFrom  *string         `json:"startDate,omitempty"`
	ValidTo    *string         `json:"endDate,omitempty"`
	Points     []pricePointDTO `json:"points"`
}

type runSummaryDTO struct {
	Processed     int `json:"processed"`
	Reconciled    int `json:"reconciled"`
	Discrepancies int `json:"discrepancies"`
	NeedsReview   int `json:"needsReview"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTransactionDTO(tx audit.Transaction) transactionDTO {
	var discount *string
	if tx.ManualDiscount != nil {
		v := tx.ManualDiscount.String()
		discount = &v
	}
	return transactionDTO{
		ID:               tx.ID,
		EntitlementID:    tx.EntitlementID,
		AddonKey:         tx.AddonKey,
		SaleDate:         tx.SaleDate.String(),
		SaleType:         string(tx.SaleType),
		Hosting:          string(tx.Hosting),
		LicenseType:      string(tx.LicenseType),
		Tier:             tx.Tier,
		BillingPeriod:    string(tx.BillingPeriod),
		MaintenanceStart: tx.MaintenanceStart.String(),
		MaintenanceEnd:   tx.MaintenanceEnd.String(),
		VendorAmount:     tx.VendorAmount.StringFixed(2),
		Country:          tx.Country,
		ManualDiscount:   discount,
		CurrentVersion:   tx.CurrentVersion,
	}
}

func toTransactionDTOs(txs []audit.Transaction) []transactionDTO {
	return lo.Map(txs, func(tx audit.Transaction, _ int) transactionDTO {
		return toTransactionDTO(tx)
	})
}

func toReconciliationDTO(rec audit.ReconciliationRecord) reconciliationDTO {
	return reconciliationDTO{
		ID:                   rec.ID,
		TransactionID:        rec.TransactionID,
		TransactionVersion:   rec.TransactionVersion,
		Reconciled:           rec.Reconciled,
		Automatic:            rec.Automatic,
		ActualVendorAmount:   rec.ActualVendorAmount.StringFixed(2),
		ExpectedVendorAmount: rec.ExpectedVendorAmount.StringFixed(2),
		Notes:                rec.Notes,
		Current:              rec.Current,
		CreatedAt:            rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toReconciliationDTOs(recs []audit.ReconciliationRecord) []reconciliationDTO {
	return lo.Map(recs, func(rec audit.ReconciliationRecord, _ int) reconciliationDTO {
		return toReconciliationDTO(rec)
	})
}

func toTableDTO(t catalog.Table) tableDTO {
	var from, to *string
	if t.ValidFrom != nil {
		v := t.ValidFrom.String()
		from = &v
	}
	if t.ValidTo != nil {
		v := t.ValidTo.String()
		to = &v
	}
	return tableDTO{
		AddonKey:   t.AddonKey,
		Deployment: string(t.Deployment),
		Name:       t.Name,
		ValidFrom:  from,
		ValidTo:    to,
		Points: lo.Map(t.Points, func(p pricing.PricePoint, _ int) pricePointDTO {
			return pricePointDTO{Threshold: p.Threshold, UnitCost: p.UnitCost.String()}
		}),
	}
}

func toRunSummaryDTO(s audit.RunSummary) runSummaryDTO {
	return runSummaryDTO{
		Processed:     s.Processed,
		Reconciled:    s.Reconciled,
		Discrepancies: s.Discrepancies,
		NeedsReview:   s.NeedsReview,
		Skipped:       s.Skipped,
		Failed:        s.Failed,
	}
}
