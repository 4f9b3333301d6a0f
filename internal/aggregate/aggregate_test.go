package aggregate

import (
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/classify"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	d := date(s)
	return &d
}

func classified(t *testing.T, txs []*domain.Transaction) []domain.ClassifiedTransaction {
	t.Helper()
	return classify.New(domain.DefaultAnalysisConfig()).Classify(txs)
}

func sampleBatch() []*domain.Transaction {
	mk := func(id, customer, region, month string, billed, received float64) *domain.Transaction {
		return &domain.Transaction{
			InvoiceID:      id,
			CustomerID:     customer,
			SalespersonID:  "S1",
			Region:         region,
			PaymentMethod:  "wire",
			InvoiceDate:    date(month + "-05"),
			DueDate:        date(month + "-25"),
			PaymentDate:    datePtr(month + "-20"),
			AmountBilled:   decimal.NewFromFloat(billed),
			AmountReceived: decimal.NewFromFloat(received),
		}
	}
	return []*domain.Transaction{
		mk("I1", "C1", "North", "2024-01", 1000, 400),
		mk("I2", "C1", "North", "2024-02", 500, 500),
		mk("I3", "C2", "South", "2024-01", 2000, 2000),
		mk("I4", "C3", "South", "2024-03", 800, 0),
	}
}

func TestGroupingPartitionsWithoutLoss(t *testing.T) {
	txs := classified(t, sampleBatch())
	summaries := New(domain.DefaultAnalysisConfig()).Summarize(txs)

	var total decimal.Decimal
	for _, tx := range txs {
		total = total.Add(tx.AmountBilled)
	}

	for dim, sums := range summaries {
		var dimTotal decimal.Decimal
		var count int
		for _, s := range sums {
			dimTotal = dimTotal.Add(s.TotalBilled)
			count += s.TransactionCount
		}
		if !dimTotal.Equal(total) {
			t.Errorf("dimension %s: billed total %s != batch total %s", dim, dimTotal, total)
		}
		if count != len(txs) {
			t.Errorf("dimension %s: transaction count %d != %d", dim, count, len(txs))
		}
	}
}

func TestCustomerOrderingByTotalLeakage(t *testing.T) {
	txs := classified(t, sampleBatch())
	summaries := New(domain.DefaultAnalysisConfig()).Summarize(txs)

	customers := summaries[domain.DimCustomer]
	for i := 1; i < len(customers); i++ {
		if customers[i-1].TotalLeakage.LessThan(customers[i].TotalLeakage) {
			t.Errorf("customer summaries not sorted by total leakage desc at %d", i)
		}
	}
	// C3 leaked 800, C1 leaked 600, C2 leaked 0
	if customers[0].GroupKey != "C3" {
		t.Errorf("expected C3 first, got %s", customers[0].GroupKey)
	}
}

func TestMonthOrderingIsChronological(t *testing.T) {
	txs := classified(t, sampleBatch())
	summaries := New(domain.DefaultAnalysisConfig()).Summarize(txs)

	months := summaries[domain.DimMonth]
	want := []string{"2024-01", "2024-02", "2024-03"}
	if len(months) != len(want) {
		t.Fatalf("expected %d month groups, got %d", len(want), len(months))
	}
	for i, m := range months {
		if m.GroupKey != want[i] {
			t.Errorf("month %d: expected %s, got %s", i, want[i], m.GroupKey)
		}
	}
}

func TestRegionOrderingByLeakagePct(t *testing.T) {
	txs := classified(t, sampleBatch())
	summaries := New(domain.DefaultAnalysisConfig()).Summarize(txs)

	regions := summaries[domain.DimRegion]
	// North: 600/1500 = 40%; South: 800/2800 ~ 28.6%
	if regions[0].GroupKey != "North" {
		t.Errorf("expected North first by leakage pct, got %s", regions[0].GroupKey)
	}
}

func TestZeroBilledGroupHasUndefinedPct(t *testing.T) {
	zero := &domain.Transaction{
		InvoiceID:      "Z1",
		CustomerID:     "C9",
		Region:         "East",
		PaymentMethod:  "wire",
		InvoiceDate:    date("2024-01-05"),
		DueDate:        date("2024-01-25"),
		AmountBilled:   decimal.Zero,
		AmountReceived: decimal.Zero,
	}

	txs := classified(t, append(sampleBatch(), zero))
	summaries := New(domain.DefaultAnalysisConfig()).Summarize(txs)

	for _, s := range summaries[domain.DimCustomer] {
		if s.GroupKey == "C9" {
			if s.LeakagePct != nil {
				t.Errorf("expected undefined leakage pct for zero-billed group, got %v", *s.LeakagePct)
			}
			return
		}
	}
	t.Fatal("C9 group missing from customer summaries")
}

func TestTopCustomersExcludesUndefinedAndTruncates(t *testing.T) {
	zero := &domain.Transaction{
		InvoiceID:      "Z1",
		CustomerID:     "C9",
		Region:         "East",
		PaymentMethod:  "wire",
		InvoiceDate:    date("2024-01-05"),
		DueDate:        date("2024-01-25"),
		AmountBilled:   decimal.Zero,
		AmountReceived: decimal.Zero,
	}

	txs := classified(t, append(sampleBatch(), zero))
	summaries := New(domain.DefaultAnalysisConfig()).Summarize(txs)

	top := TopCustomers(summaries[domain.DimCustomer], 2)
	if len(top) != 2 {
		t.Fatalf("expected top list truncated to 2, got %d", len(top))
	}
	for _, s := range top {
		if s.GroupKey == "C9" {
			t.Error("undefined-pct group must be excluded from the ranking")
		}
	}
}

func TestDelayBuckets(t *testing.T) {
	mk := func(id string, delayDays int) *domain.Transaction {
		pay := date("2024-01-10").AddDate(0, 0, delayDays)
		return &domain.Transaction{
			InvoiceID:      id,
			CustomerID:     "C1",
			InvoiceDate:    date("2024-01-01"),
			DueDate:        date("2024-01-10"),
			PaymentDate:    &pay,
			AmountBilled:   decimal.NewFromInt(100),
			AmountReceived: decimal.NewFromInt(100),
		}
	}
	unpaid := &domain.Transaction{
		InvoiceID:    "U1",
		CustomerID:   "C1",
		InvoiceDate:  date("2024-01-01"),
		DueDate:      date("2024-01-10"),
		AmountBilled: decimal.NewFromInt(100),
	}

	txs := classified(t, []*domain.Transaction{
		mk("I1", -2), mk("I2", 0), mk("I3", 10), mk("I4", 45), mk("I5", 90), unpaid,
	})

	buckets := DelayBuckets(txs)

	wantCounts := map[string]int{
		"On Time":    2,
		"1-15 days":  1,
		"16-30 days": 0,
		"31-60 days": 1,
		"60+ days":   1,
	}
	var total int
	for _, b := range buckets {
		if b.Count != wantCounts[b.Label] {
			t.Errorf("bucket %q: expected %d, got %d", b.Label, wantCounts[b.Label], b.Count)
		}
		total += b.Count
	}
	if total != 5 {
		t.Errorf("unpaid invoices must be excluded; bucketed %d of 5 paid", total)
	}
}
