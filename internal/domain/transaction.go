// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single invoice record, immutable once ingested.
// Monetary fields use decimal arithmetic; rounding happens only at the
// report boundary.
type Transaction struct {
	InvoiceID     string `json:"invoiceId"`
	CustomerID    string `json:"customerId"`
	SalespersonID string `json:"salespersonId"`
	Region        string `json:"region"`
	PaymentMethod string `json:"paymentMethod"`

	InvoiceDate time.Time  `json:"invoiceDate"`
	DueDate     time.Time  `json:"dueDate"`
	PaymentDate *time.Time `json:"paymentDate,omitempty"` // nil = payment never received

	AmountBilled   decimal.Decimal `json:"amountBilled"`
	Discount       decimal.Decimal `json:"discount"`
	AmountReceived decimal.Decimal `json:"amountReceived"`
}

// NetDue is the true amount owed: billed minus discount.
func (t *Transaction) NetDue() decimal.Decimal {
	return t.AmountBilled.Sub(t.Discount)
}

// LeakageAmount is the uncollected portion of net due, floored at zero.
// Overpayments are not negative leakage.
func (t *Transaction) LeakageAmount() decimal.Decimal {
	gap := t.NetDue().Sub(t.AmountReceived)
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap
}

// DiscountPct returns the discount as a percentage of the billed amount.
// The second return is false when the ratio is undefined (billed = 0).
func (t *Transaction) DiscountPct() (float64, bool) {
	if t.AmountBilled.IsZero() {
		return 0, false
	}
	pct, _ := t.Discount.Div(t.AmountBilled).Mul(decimal.NewFromInt(100)).Float64()
	return pct, true
}

// PaymentDelayDays returns the number of days the payment landed after the
// due date (negative = early). The second return is false when no payment
// was recorded.
func (t *Transaction) PaymentDelayDays() (int, bool) {
	if t.PaymentDate == nil {
		return 0, false
	}
	days := int(t.PaymentDate.Sub(t.DueDate).Hours() / 24)
	return days, true
}

// FieldViolation describes a single validation failure on a record.
type FieldViolation struct {
	InvoiceID string `json:"invoiceId"`
	Field     string `json:"field"`
	Reason    string `json:"reason"`
}

func (v FieldViolation) String() string {
	return fmt.Sprintf("%s: %s %s", v.InvoiceID, v.Field, v.Reason)
}

// BatchValidationError carries every violation found in a batch so callers
// can report all bad records at once instead of fixing them one by one.
type BatchValidationError struct {
	Violations []FieldViolation
}

func (e *BatchValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("batch validation failed (%d violations): %s",
		len(e.Violations), strings.Join(parts, "; "))
}

// Validate checks a single transaction's invariants and returns every
// violation found.
func (t *Transaction) Validate() []FieldViolation {
	var out []FieldViolation

	add := func(field, reason string) {
		out = append(out, FieldViolation{InvoiceID: t.InvoiceID, Field: field, Reason: reason})
	}

	if t.InvoiceID == "" {
		add("invoiceId", "is required")
	}
	if t.CustomerID == "" {
		add("customerId", "is required")
	}
	if t.InvoiceDate.IsZero() {
		add("invoiceDate", "is required")
	}
	if t.DueDate.IsZero() {
		add("dueDate", "is required")
	}
	if !t.InvoiceDate.IsZero() && !t.DueDate.IsZero() && t.DueDate.Before(t.InvoiceDate) {
		add("dueDate", "must not precede invoiceDate")
	}
	if t.AmountBilled.IsNegative() {
		add("amountBilled", "must be non-negative")
	}
	if t.Discount.IsNegative() {
		add("discount", "must be non-negative")
	}
	if t.AmountReceived.IsNegative() {
		add("amountReceived", "must be non-negative")
	}
	if t.Discount.GreaterThan(t.AmountBilled) {
		add("discount", "must not exceed amountBilled")
	}

	return out
}

// ValidateBatch validates every record and the batch-level invoice_id
// uniqueness invariant. Returns nil when the batch is clean, otherwise a
// *BatchValidationError listing all violations.
func ValidateBatch(txs []*Transaction) error {
	var violations []FieldViolation
	seen := make(map[string]bool, len(txs))

	for _, tx := range txs {
		violations = append(violations, tx.Validate()...)

		if tx.InvoiceID != "" {
			if seen[tx.InvoiceID] {
				violations = append(violations, FieldViolation{
					InvoiceID: tx.InvoiceID,
					Field:     "invoiceId",
					Reason:    "is not unique within the batch",
				})
			}
			seen[tx.InvoiceID] = true
		}
	}

	if len(violations) > 0 {
		return &BatchValidationError{Violations: violations}
	}
	return nil
}
