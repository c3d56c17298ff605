/*
handlers.go - HTTP handler implementations

PURPOSE:
  The read/trigger surface over the audit engine: list and inspect
  transactions, read reconciliation history, manually override a
  reconciliation, trigger a validation run, and browse pricing tables.
  The handlers are thin: decode, delegate to the store or validator,
  encode. No pricing logic lives here.

SEE ALSO:
  - server.go: router configuration
  - audit/validator.go: what POST /api/validate actually runs
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/warp/marketplace-audit/audit"
	"github.com/warp/marketplace-audit/catalog"
)

// Store is the persistence surface the API reads from. Both store/sqlite
// and store/memory satisfy it.
type Store interface {
	audit.TransactionStore

	GetTransaction(ctx context.Context, id string) (*audit.Transaction, error)
	ListTransactions(ctx context.Context, entitlementID string, limit, offset int) ([]audit.Transaction, error)
	Reconciliations(ctx context.Context, transactionID string) ([]audit.ReconciliationRecord, error)
	ListTables(ctx context.Context, addonKey string) ([]catalog.Table, error)
}

type Handler struct {
	store     Store
	validator *audit.Validator
	logger    *zap.Logger
}

func NewHandler(store Store, validator *audit.Validator, logger *zap.Logger) *Handler {
	return &Handler{store: store, validator: validator, logger: logger}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// ListTransactions handles GET /api/transactions?entitlement=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intQuery(q.Get("limit"), 50)
	offset := intQuery(q.Get("offset"), 0)

	txs, err := h.store.ListTransactions(r.Context(), q.Get("entitlement"), limit, offset)
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransaction handles GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.store.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// GetReconciliations handles GET /api/transactions/{id}/reconciliations
func (h *Handler) GetReconciliations(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Reconciliations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toReconciliationDTOs(records))
}

// OverrideReconciliation handles POST /api/transactions/{id}/reconciliations/override
//
// A manual override writes a non-automatic record for the transaction's
// current version. The next data change on the transaction bumps its version
// and puts it back in front of the engine.
func (h *Handler) OverrideReconciliation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reconciled bool   `json:"reconciled"`
		Notes      string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := h.store.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	existing, err := h.store.CurrentReconciliation(r.Context(), tx.ID)
	if err != nil {
		h.serverError(w, err)
		return
	}

	record := audit.ReconciliationRecord{
		ID:                 ulid.Make().String(),
		TransactionID:      tx.ID,
		TransactionVersion: tx.CurrentVersion,
		Reconciled:         body.Reconciled,
		Automatic:          false,
		ActualVendorAmount: tx.VendorAmount,
		Notes:              body.Notes,
		Current:            true,
	}
	if existing != nil {
		record.ExpectedVendorAmount = existing.ExpectedVendorAmount
	}
	if err := h.store.SaveReconciliation(r.Context(), record); err != nil {
		h.serverError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toReconciliationDTO(record))
}

// =============================================================================
// VALIDATION RUNS
// =============================================================================

// TriggerValidation handles POST /api/validate
func (h *Handler) TriggerValidation(w http.ResponseWriter, r *http.Request) {
	summary, err := h.validator.ValidateTransactions(r.Context())
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRunSummaryDTO(summary))
}

// =============================================================================
// PRICING TABLES
// =============================================================================

// ListPricingTables handles GET /api/pricing?addon=
func (h *Handler) ListPricingTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListTables(r.Context(), r.URL.Query().Get("addon"))
	if err != nil {
		h.serverError(w, err)
		return
	}
	dtos := make([]tableDTO, 0, len(tables))
	for _, t := range tables {
		dtos = append(dtos, toTableDTO(t))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) serverError(w http.ResponseWriter, err error) {
	h.logger.Error("request failed", zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "internal error")
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
