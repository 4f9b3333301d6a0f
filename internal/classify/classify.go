// Package classify implements the per-record labeling rules: duplicate
// detection, payment timeliness, and leakage-type attribution.
package classify

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Classifier labels a batch of validated transactions. It holds only the
// run configuration; classification itself is pure.
type Classifier struct {
	cfg domain.AnalysisConfig
}

// New creates a classifier for one analysis run.
func New(cfg domain.AnalysisConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// duplicateKey identifies transactions that look like re-billings of the
// same invoice: same customer, same invoice date, same billed amount.
func duplicateKey(tx *domain.Transaction) string {
	return fmt.Sprintf("%s|%s|%s",
		tx.CustomerID,
		tx.InvoiceDate.Format("2006-01-02"),
		tx.AmountBilled.String(),
	)
}

// Classify labels every transaction in the batch. The input order is
// preserved in the output. Duplicate detection needs the full batch; all
// other labels are per-record.
func (c *Classifier) Classify(txs []*domain.Transaction) []domain.ClassifiedTransaction {
	// Full-batch grouping pass for duplicates.
	groups := make(map[string]int, len(txs))
	for _, tx := range txs {
		groups[duplicateKey(tx)]++
	}

	out := make([]domain.ClassifiedTransaction, len(txs))
	for i, tx := range txs {
		out[i] = c.classifyOne(tx, groups[duplicateKey(tx)])
	}
	return out
}

// classifyOne computes the derived fields and labels for one record.
// groupSize is the size of the record's duplicate group (1 = unique).
func (c *Classifier) classifyOne(tx *domain.Transaction, groupSize int) domain.ClassifiedTransaction {
	ct := domain.ClassifiedTransaction{
		Transaction:   *tx,
		NetDue:        tx.NetDue(),
		LeakageAmount: tx.LeakageAmount(),
	}

	if pct, ok := tx.DiscountPct(); ok {
		ct.DiscountPct = &pct
	}
	if days, ok := tx.PaymentDelayDays(); ok {
		ct.PaymentDelayDays = &days
	}

	ct.Timeliness = timeliness(ct)

	if groupSize > 1 {
		ct.IsDuplicate = true
		ct.DuplicateCount = groupSize
	}

	ct.LeakageType = c.leakageType(ct)
	ct.IsLeaked = ct.LeakageType != domain.LeakageNone && ct.LeakageType != domain.LeakageDelayed

	return ct
}

func timeliness(ct domain.ClassifiedTransaction) domain.Timeliness {
	if ct.PaymentDelayDays == nil {
		return domain.PaymentMissing
	}
	if *ct.PaymentDelayDays > 0 {
		return domain.PaymentDelayed
	}
	return domain.PaymentOnTime
}

// leakageType applies the attribution precedence top to bottom; the first
// matching rule wins so every record gets exactly one type.
func (c *Classifier) leakageType(ct domain.ClassifiedTransaction) domain.LeakageType {
	if ct.IsDuplicate {
		return domain.LeakageDuplicate
	}
	if ct.PaymentDate == nil && ct.AmountReceived.IsZero() {
		return domain.LeakageMissingPayment
	}
	if ct.DiscountPct != nil && *ct.DiscountPct > c.cfg.OverDiscountThresholdPct {
		return domain.LeakageOverDiscount
	}
	if ct.AmountReceived.LessThan(ct.NetDue) {
		return domain.LeakageUnderpayment
	}
	if ct.PaymentDelayDays != nil && *ct.PaymentDelayDays > 0 {
		return domain.LeakageDelayed
	}
	return domain.LeakageNone
}
