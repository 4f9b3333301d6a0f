package anomaly

import (
	"errors"
	"testing"
	"time"

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

func paidInvoice(id string, billed float64) *domain.Transaction {
	return &domain.Transaction{
		InvoiceID:      id,
		CustomerID:     "C1",
		InvoiceDate:    date("2024-01-05"),
		DueDate:        date("2024-01-20"),
		PaymentDate:    datePtr("2024-01-15"),
		AmountBilled:   decimal.NewFromFloat(billed),
		AmountReceived: decimal.NewFromFloat(billed),
	}
}

func TestPopulationTooSmall(t *testing.T) {
	_, err := New(domain.DefaultAnalysisConfig()).Detect([]*domain.Transaction{paidInvoice("I1", 100)})
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestZeroVariancePopulation(t *testing.T) {
	// Identical invoices: every feature column has zero spread, so no
	// feature carries signal.
	txs := make([]*domain.Transaction, 5)
	for i := range txs {
		txs[i] = paidInvoice("I", 100)
	}

	_, err := New(domain.DefaultAnalysisConfig()).Detect(txs)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData for degenerate population, got %v", err)
	}
}

func TestObviousOutlierIsFlagged(t *testing.T) {
	txs := make([]*domain.Transaction, 0, 12)
	for i := 0; i < 11; i++ {
		txs = append(txs, paidInvoice("I", 100+float64(i)))
	}
	txs = append(txs, paidInvoice("OUT", 50000))

	res, err := New(domain.DefaultAnalysisConfig()).Detect(txs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Scores) != len(txs) || len(res.Flags) != len(txs) {
		t.Fatalf("result not aligned with input: %d scores, %d flags, %d txs", len(res.Scores), len(res.Flags), len(txs))
	}

	last := len(txs) - 1
	if !res.Flags[last] {
		t.Error("extreme amount must be flagged anomalous")
	}
	for i := 0; i < last; i++ {
		if res.Scores[i] >= res.Scores[last] {
			t.Errorf("inlier %d scored %v, not below the outlier's %v", i, res.Scores[i], res.Scores[last])
		}
	}
}

func TestFlagRateTracksQuantile(t *testing.T) {
	// 20 distinct inliers plus one outlier; at the default 0.95 quantile
	// only the extreme tail may exceed the threshold.
	txs := make([]*domain.Transaction, 0, 21)
	for i := 0; i < 20; i++ {
		txs = append(txs, paidInvoice("I", 100+float64(i)*3))
	}
	txs = append(txs, paidInvoice("OUT", 9000))

	res, err := New(domain.DefaultAnalysisConfig()).Detect(txs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	flagged := 0
	for _, f := range res.Flags {
		if f {
			flagged++
		}
	}
	if flagged == 0 || flagged > 2 {
		t.Errorf("expected roughly the top 5%% flagged, got %d of %d", flagged, len(txs))
	}
}

func TestUndefinedFeaturesAreImputed(t *testing.T) {
	// Unpaid and zero-billed records have undefined delay, discount and
	// received-ratio features; imputation keeps them scoreable without
	// making them outliers on those axes.
	txs := make([]*domain.Transaction, 0, 10)
	for i := 0; i < 8; i++ {
		txs = append(txs, paidInvoice("I", 100+float64(i)))
	}
	unpaid := &domain.Transaction{
		InvoiceID:    "U1",
		CustomerID:   "C1",
		InvoiceDate:  date("2024-01-05"),
		DueDate:      date("2024-01-20"),
		AmountBilled: decimal.NewFromInt(104),
	}
	zeroBilled := &domain.Transaction{
		InvoiceID:   "Z1",
		CustomerID:  "C1",
		InvoiceDate: date("2024-01-05"),
		DueDate:     date("2024-01-20"),
	}
	txs = append(txs, unpaid, zeroBilled)

	res, err := New(domain.DefaultAnalysisConfig()).Detect(txs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, score := range res.Scores {
		if score < 0 {
			t.Errorf("score %d negative: %v", i, score)
		}
	}
}

func TestQuantileNearestRank(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := quantile(vals, 0.95); got != 9 {
		t.Errorf("expected 9 at q=0.95, got %v", got)
	}
	if got := quantile(vals, 0.5); got != 5 {
		t.Errorf("expected 5 at q=0.5, got %v", got)
	}
}

func TestMedianAndMAD(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 100}
	if got := median(vals); got != 3 {
		t.Errorf("expected median 3, got %v", got)
	}
	if got := mad(vals, 3); got != 1 {
		t.Errorf("expected MAD 1, got %v", got)
	}
}
