package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL. Monetary amounts are stored
// as decimal strings to avoid float drift.

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    invoice_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    salesperson_id TEXT,
    region TEXT,
    payment_method TEXT,
    invoice_date TIMESTAMP NOT NULL,
    due_date TIMESTAMP NOT NULL,
    payment_date TIMESTAMP,
    amount_billed TEXT NOT NULL,
    discount TEXT NOT NULL,
    amount_received TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, invoice_id)
);

CREATE INDEX IF NOT EXISTS idx_invoices_tenant ON invoices(tenant_id);
CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_invoices_invoice_date ON invoices(tenant_id, invoice_date);
`

const schemaReviewRules = `
CREATE TABLE IF NOT EXISTS review_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_review_rules_tenant ON review_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_review_rules_enabled ON review_rules(tenant_id, enabled);
`

// schemaReports stores completed analysis reports as JSON payloads.
// Reports are immutable; the columns outside the payload exist for lookup.
const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    transaction_count INTEGER NOT NULL,
    total_leakage TEXT NOT NULL,
    payload TEXT NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_reports_tenant ON reports(tenant_id);
CREATE INDEX IF NOT EXISTS idx_reports_generated ON reports(tenant_id, generated_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaInvoices,
		schemaReviewRules,
		schemaReports,
	}
}
