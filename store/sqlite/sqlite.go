/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements the persistence contracts the audit engine consumes
  (audit.TransactionStore, audit.LicenseStore, catalog.PricingStore) plus
  the import/listing surface the HTTP API uses. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  transactions:    Marketplace sale events (imported, engine-read-only)
  pricing_tables:  Versioned price lists per (addon_key, deployment)
  pricing_points:  Tier steps belonging to a pricing table
  licenses:        Per-entitlement attributes (sandbox flag)
  reconciliations: One row per validated (transaction, version)

RECONCILIATION WRITES:
  SaveReconciliation runs in a database transaction: the previous Current
  row is demoted and the new row inserted atomically, so there is always
  exactly one current record per transaction.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers don't
  block, single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/audit.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - audit/types.go:      interface definitions
  - catalog/resolver.go: PricingStore consumer
  - store/memory:        in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/marketplace-audit/audit"
	"github.com/warp/marketplace-audit/catalog"
	"github.com/warp/marketplace-audit/pricing"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		entitlement_id TEXT NOT NULL,
		addon_key TEXT NOT NULL,
		sale_date TEXT NOT NULL,
		sale_type TEXT NOT NULL,
		hosting TEXT NOT NULL,
		license_type TEXT NOT NULL,
		tier TEXT NOT NULL,
		billing_period TEXT NOT NULL,
		maintenance_start TEXT NOT NULL,
		maintenance_end TEXT NOT NULL,
		vendor_amount TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		manual_discount TEXT,
		current_version INTEGER NOT NULL DEFAULT 1
	);

	-- Sibling lookup for upgrade resolution (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_entitlement
		ON transactions(entitlement_id, sale_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_sale_date
		ON transactions(sale_date);

	CREATE TABLE IF NOT EXISTS pricing_tables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		addon_key TEXT NOT NULL,
		deployment TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		valid_from TEXT,
		valid_to TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_pricing_tables_key
		ON pricing_tables(addon_key, deployment);

	CREATE TABLE IF NOT EXISTS pricing_points (
		table_id INTEGER NOT NULL REFERENCES pricing_tables(id) ON DELETE CASCADE,
		threshold INTEGER NOT NULL,
		unit_cost TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pricing_points_table
		ON pricing_points(table_id, threshold);

	CREATE TABLE IF NOT EXISTS licenses (
		entitlement_id TEXT PRIMARY KEY,
		sandbox INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS reconciliations (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		transaction_version INTEGER NOT NULL,
		reconciled INTEGER NOT NULL,
		automatic INTEGER NOT NULL,
		actual_vendor_amount TEXT NOT NULL,
		expected_vendor_amount TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		is_current INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliations_transaction
		ON reconciliations(transaction_id, is_current);

	-- The engine writes once per (transaction, version); manual overrides may
	-- stack on the same version, so the constraint covers automatic rows only.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reconciliations_engine_version
		ON reconciliations(transaction_id, transaction_version)
		WHERE automatic = 1;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// IMPORT / SEEDING
// =============================================================================

// SaveTransaction upserts one marketplace transaction (sales-export ingest).
func (s *Store) SaveTransaction(ctx context.Context, tx audit.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var discount *string
	if tx.ManualDiscount != nil {
		v := tx.ManualDiscount.String()
		discount = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transactions
		(id, entitlement_id, addon_key, sale_date, sale_type, hosting,
		 license_type, tier, billing_period, maintenance_start, maintenance_end,
		 vendor_amount, country, manual_discount, current_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.EntitlementID, tx.AddonKey, tx.SaleDate.String(),
		string(tx.SaleType), string(tx.Hosting), string(tx.LicenseType),
		tx.Tier, string(tx.BillingPeriod), tx.MaintenanceStart.String(),
		tx.MaintenanceEnd.String(), tx.VendorAmount.String(), tx.Country,
		discount, tx.CurrentVersion)
	return err
}

// SaveTable inserts a pricing table and its tier points atomically.
func (s *Store) SaveTable(ctx context.Context, table catalog.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	res, err := dbTx.ExecContext(ctx, `
		INSERT INTO pricing_tables (addon_key, deployment, name, valid_from, valid_to)
		VALUES (?, ?, ?, ?, ?)`,
		table.AddonKey, string(table.Deployment), table.Name,
		dateOrNil(table.ValidFrom), dateOrNil(table.ValidTo))
	if err != nil {
		return err
	}
	tableID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, p := range table.Points {
		if _, err := dbTx.ExecContext(ctx, `
			INSERT INTO pricing_points (table_id, threshold, unit_cost)
			VALUES (?, ?, ?)`,
			tableID, p.Threshold, p.UnitCost.String()); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// SetSandbox records whether an entitlement's license runs on a sandbox
// instance.
func (s *Store) SetSandbox(ctx context.Context, entitlementID string, sandbox bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO licenses (entitlement_id, sandbox)
		VALUES (?, ?)`,
		entitlementID, boolToInt(sandbox))
	return err
}

// =============================================================================
// audit.TransactionStore
// =============================================================================

const transactionColumns = `
	id, entitlement_id, addon_key, sale_date, sale_type, hosting,
	license_type, tier, billing_period, maintenance_start, maintenance_end,
	vendor_amount, country, manual_discount, current_version`

func (s *Store) TransactionsSince(ctx context.Context, cutoff pricing.Date) ([]audit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE sale_date >= ?
		ORDER BY sale_date ASC, id ASC`,
		cutoff.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *Store) TransactionsForEntitlement(ctx context.Context, entitlementID string) ([]audit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE entitlement_id = ?
		ORDER BY sale_date ASC, id ASC`,
		entitlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListTransactions returns a page of transactions ordered by sale date,
// optionally filtered by entitlement.
func (s *Store) ListTransactions(ctx context.Context, entitlementID string, limit, offset int) ([]audit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions`
	args := []any{}
	if entitlementID != "" {
		query += ` WHERE entitlement_id = ?`
		args = append(args, entitlementID)
	}
	query += ` ORDER BY sale_date ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// GetTransaction returns one transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*audit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	return &txs[0], nil
}

func (s *Store) CurrentReconciliation(ctx context.Context, transactionID string) (*audit.ReconciliationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, transaction_version, reconciled, automatic,
		       actual_vendor_amount, expected_vendor_amount, notes, is_current, created_at
		FROM reconciliations
		WHERE transaction_id = ? AND is_current = 1`,
		transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanReconciliations(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *Store) SaveReconciliation(ctx context.Context, record audit.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, `
		UPDATE reconciliations SET is_current = 0
		WHERE transaction_id = ? AND is_current = 1`,
		record.TransactionID); err != nil {
		return err
	}

	if _, err := dbTx.ExecContext(ctx, `
		INSERT INTO reconciliations
		(id, transaction_id, transaction_version, reconciled, automatic,
		 actual_vendor_amount, expected_vendor_amount, notes, is_current, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.TransactionID, record.TransactionVersion,
		boolToInt(record.Reconciled), boolToInt(record.Automatic),
		record.ActualVendorAmount.String(), record.ExpectedVendorAmount.String(),
		record.Notes, boolToInt(record.Current),
		record.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	return dbTx.Commit()
}

// Reconciliations returns a transaction's full reconciliation history,
// oldest first.
func (s *Store) Reconciliations(ctx context.Context, transactionID string) ([]audit.ReconciliationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, transaction_version, reconciled, automatic,
		       actual_vendor_amount, expected_vendor_amount, notes, is_current, created_at
		FROM reconciliations
		WHERE transaction_id = ?
		ORDER BY transaction_version ASC`,
		transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReconciliations(rows)
}

// =============================================================================
// audit.LicenseStore
// =============================================================================

func (s *Store) IsSandbox(ctx context.Context, entitlementID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sandbox int
	err := s.db.QueryRowContext(ctx, `
		SELECT sandbox FROM licenses WHERE entitlement_id = ?`,
		entitlementID).Scan(&sandbox)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sandbox != 0, nil
}

// =============================================================================
// catalog.PricingStore
// =============================================================================

func (s *Store) TableFor(ctx context.Context, addonKey string, deployment pricing.Deployment, saleDate pricing.Date) (*catalog.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, addon_key, deployment, name, valid_from, valid_to
		FROM pricing_tables
		WHERE addon_key = ? AND deployment = ?
		  AND (valid_from IS NULL OR valid_from <= ?)
		  AND (valid_to IS NULL OR valid_to >= ?)`,
		addonKey, string(deployment), saleDate.String(), saleDate.String())

	table, id, err := scanTable(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s on %s: %w", addonKey, deployment, saleDate, pricing.ErrNoPricingFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadPoints(ctx, id, table); err != nil {
		return nil, err
	}
	return table, nil
}

func (s *Store) TableEndingOn(ctx context.Context, addonKey string, deployment pricing.Deployment, end pricing.Date) (*catalog.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, addon_key, deployment, name, valid_from, valid_to
		FROM pricing_tables
		WHERE addon_key = ? AND deployment = ? AND valid_to = ?`,
		addonKey, string(deployment), end.String())

	table, id, err := scanTable(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadPoints(ctx, id, table); err != nil {
		return nil, err
	}
	return table, nil
}

// ListTables returns all pricing tables, optionally filtered by addon key.
func (s *Store) ListTables(ctx context.Context, addonKey string) ([]catalog.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, addon_key, deployment, name, valid_from, valid_to
		FROM pricing_tables`
	args := []any{}
	if addonKey != "" {
		query += ` WHERE addon_key = ?`
		args = append(args, addonKey)
	}
	query += ` ORDER BY addon_key, deployment, valid_from`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []catalog.Table
	var ids []int64
	for rows.Next() {
		table, id, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *table)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range tables {
		if err := s.loadPoints(ctx, ids[i], &tables[i]); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// loadPoints fills a table's tier points, ascending by threshold with the
// unlimited (-1) tier last.
func (s *Store) loadPoints(ctx context.Context, tableID int64, table *catalog.Table) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT threshold, unit_cost
		FROM pricing_points
		WHERE table_id = ?
		ORDER BY CASE WHEN threshold = -1 THEN 1 ELSE 0 END, threshold ASC`,
		tableID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var threshold int
		var cost string
		if err := rows.Scan(&threshold, &cost); err != nil {
			return err
		}
		unitCost, err := decimal.NewFromString(cost)
		if err != nil {
			return fmt.Errorf("corrupt unit cost %q: %w", cost, err)
		}
		table.Points = append(table.Points, pricing.PricePoint{
			Threshold: threshold,
			UnitCost:  unitCost,
		})
	}
	return rows.Err()
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactions(rows *sql.Rows) ([]audit.Transaction, error) {
	var out []audit.Transaction
	for rows.Next() {
		var tx audit.Transaction
		var saleDate, saleType, hosting, licenseType, billingPeriod string
		var maintStart, maintEnd, vendorAmount string
		var discount sql.NullString

		if err := rows.Scan(&tx.ID, &tx.EntitlementID, &tx.AddonKey, &saleDate,
			&saleType, &hosting, &licenseType, &tx.Tier, &billingPeriod,
			&maintStart, &maintEnd, &vendorAmount, &tx.Country, &discount,
			&tx.CurrentVersion); err != nil {
			return nil, err
		}

		var err error
		if tx.SaleDate, err = pricing.ParseDate(saleDate); err != nil {
			return nil, err
		}
		if tx.MaintenanceStart, err = pricing.ParseDate(maintStart); err != nil {
			return nil, err
		}
		if tx.MaintenanceEnd, err = pricing.ParseDate(maintEnd); err != nil {
			return nil, err
		}
		if tx.VendorAmount, err = decimal.NewFromString(vendorAmount); err != nil {
			return nil, fmt.Errorf("corrupt vendor amount %q: %w", vendorAmount, err)
		}
		if discount.Valid {
			d, err := decimal.NewFromString(discount.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt manual discount %q: %w", discount.String, err)
			}
			tx.ManualDiscount = &d
		}
		tx.SaleType = pricing.SaleType(saleType)
		tx.Hosting = pricing.Hosting(hosting)
		tx.LicenseType = pricing.LicenseType(licenseType)
		tx.BillingPeriod = pricing.BillingPeriod(billingPeriod)

		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanReconciliations(rows *sql.Rows) ([]audit.ReconciliationRecord, error) {
	var out []audit.ReconciliationRecord
	for rows.Next() {
		var rec audit.ReconciliationRecord
		var reconciled, automatic, isCurrent int
		var actual, expected, createdAt string

		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.TransactionVersion,
			&reconciled, &automatic, &actual, &expected, &rec.Notes,
			&isCurrent, &createdAt); err != nil {
			return nil, err
		}

		var err error
		if rec.ActualVendorAmount, err = decimal.NewFromString(actual); err != nil {
			return nil, err
		}
		if rec.ExpectedVendorAmount, err = decimal.NewFromString(expected); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, err
		}
		rec.Reconciled = reconciled != 0
		rec.Automatic = automatic != 0
		rec.Current = isCurrent != 0

		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTable(row rowScanner) (*catalog.Table, int64, error) {
	var id int64
	var table catalog.Table
	var deployment string
	var validFrom, validTo sql.NullString

	if err := row.Scan(&id, &table.AddonKey, &deployment, &table.Name,
		&validFrom, &validTo); err != nil {
		return nil, 0, err
	}
	table.Deployment = pricing.Deployment(deployment)

	if validFrom.Valid {
		d, err := pricing.ParseDate(validFrom.String)
		if err != nil {
			return nil, 0, err
		}
		table.ValidFrom = &d
	}
	if validTo.Valid {
		d, err := pricing.ParseDate(validTo.String)
		if err != nil {
			return nil, 0, err
		}
		table.ValidTo = &d
	}
	return &table, id, nil
}

func dateOrNil(d *pricing.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
