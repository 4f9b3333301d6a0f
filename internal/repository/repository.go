// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransactions stores an invoice batch atomically with tenant isolation.
// Re-ingesting an invoice ID replaces the stored record.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID string, txs []*domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := `
		INSERT INTO invoices (
			invoice_id, tenant_id, customer_id, salesperson_id, region,
			payment_method, invoice_date, due_date, payment_date,
			amount_billed, discount, amount_received, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, invoice_id) DO UPDATE SET
			customer_id = excluded.customer_id,
			salesperson_id = excluded.salesperson_id,
			region = excluded.region,
			payment_method = excluded.payment_method,
			invoice_date = excluded.invoice_date,
			due_date = excluded.due_date,
			payment_date = excluded.payment_date,
			amount_billed = excluded.amount_billed,
			discount = excluded.discount,
			amount_received = excluded.amount_received
	`

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, tx := range txs {
		var paymentDate any
		if tx.PaymentDate != nil {
			paymentDate = *tx.PaymentDate
		}

		if _, err := stmt.ExecContext(ctx,
			tx.InvoiceID, tenantID, tx.CustomerID, tx.SalespersonID, tx.Region,
			tx.PaymentMethod, tx.InvoiceDate, tx.DueDate, paymentDate,
			tx.AmountBilled.String(), tx.Discount.String(), tx.AmountReceived.String(),
			now,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

const invoiceColumns = `
	invoice_id, customer_id, salesperson_id, region, payment_method,
	invoice_date, due_date, payment_date,
	amount_billed, discount, amount_received
`

// GetTransaction retrieves an invoice by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, invoiceID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE tenant_id = ? AND invoice_id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, invoiceID)
	tx, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// ListTransactions retrieves a tenant's invoice snapshot since a point in
// time, ordered by invoice date.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string, since time.Time) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE tenant_id = ? AND invoice_date >= ?
		ORDER BY invoice_date, invoice_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var paymentDate sql.NullTime
	var billed, discount, received string

	if err := s.Scan(
		&tx.InvoiceID, &tx.CustomerID, &tx.SalespersonID, &tx.Region, &tx.PaymentMethod,
		&tx.InvoiceDate, &tx.DueDate, &paymentDate,
		&billed, &discount, &received,
	); err != nil {
		return nil, err
	}

	if paymentDate.Valid {
		d := paymentDate.Time
		tx.PaymentDate = &d
	}

	var err error
	if tx.AmountBilled, err = decimal.NewFromString(billed); err != nil {
		return nil, fmt.Errorf("invoice %s: bad amount_billed: %w", tx.InvoiceID, err)
	}
	if tx.Discount, err = decimal.NewFromString(discount); err != nil {
		return nil, fmt.Errorf("invoice %s: bad discount: %w", tx.InvoiceID, err)
	}
	if tx.AmountReceived, err = decimal.NewFromString(received); err != nil {
		return nil, fmt.Errorf("invoice %s: bad amount_received: %w", tx.InvoiceID, err)
	}

	return &tx, nil
}

// SaveReviewRule stores a review rule with tenant isolation.
func (r *SQLRepository) SaveReviewRule(ctx context.Context, tenantID string, rule *domain.ReviewRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO review_rules (
			id, tenant_id, name, description, version, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Severity, enabled,
		now, now,
	)
	return err
}

// GetReviewRule retrieves a review rule with tenant isolation.
func (r *SQLRepository) GetReviewRule(ctx context.Context, tenantID string, ruleID string) (*domain.ReviewRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, severity, enabled
		FROM review_rules
		WHERE tenant_id = ? AND id = ?
	`

	var rule domain.ReviewRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.Severity, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListReviewRules retrieves all enabled review rules for a tenant.
func (r *SQLRepository) ListReviewRules(ctx context.Context, tenantID string) ([]*domain.ReviewRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, severity, enabled
		FROM review_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleSet []*domain.ReviewRule
	for rows.Next() {
		var rule domain.ReviewRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.Severity, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		ruleSet = append(ruleSet, &rule)
	}

	return ruleSet, rows.Err()
}

// DeleteReviewRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteReviewRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE review_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveReport stores a completed analysis report with tenant isolation.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.Report) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	query := `
		INSERT INTO reports (
			id, tenant_id, generated_at, transaction_count, total_leakage, payload
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.GeneratedAt,
		report.Metadata.TransactionCount, report.TotalLeakage.String(),
		string(payload),
	)
	return err
}

// GetReport retrieves a report by ID with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.Report, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload
		FROM reports
		WHERE tenant_id = ? AND id = ?
	`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", reportID, err)
	}

	return &report, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
