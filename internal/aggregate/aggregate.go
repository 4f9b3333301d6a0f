// Package aggregate groups classified transactions by reporting dimension
// and computes per-group leakage summaries.
package aggregate

import (
	"sort"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// Engine computes dimension summaries over a classified batch.
type Engine struct {
	cfg domain.AnalysisConfig
}

// New creates an aggregation engine for one analysis run.
func New(cfg domain.AnalysisConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Summarize computes the summary set for every dimension. Dimensions are
// independent, so each one runs in its own goroutine.
func (e *Engine) Summarize(txs []domain.ClassifiedTransaction) map[domain.Dimension][]domain.AggregateSummary {
	dims := domain.AllDimensions()
	results := make([][]domain.AggregateSummary, len(dims))

	var wg sync.WaitGroup
	for i, dim := range dims {
		wg.Add(1)
		go func(idx int, d domain.Dimension) {
			defer wg.Done()
			results[idx] = e.summarizeDimension(d, txs)
		}(i, dim)
	}
	wg.Wait()

	out := make(map[domain.Dimension][]domain.AggregateSummary, len(dims))
	for i, dim := range dims {
		out[dim] = results[i]
	}
	return out
}

// groupKey extracts a transaction's key for a dimension.
func groupKey(dim domain.Dimension, tx *domain.ClassifiedTransaction) string {
	switch dim {
	case domain.DimCustomer:
		return tx.CustomerID
	case domain.DimSalesperson:
		return tx.SalespersonID
	case domain.DimRegion:
		return tx.Region
	case domain.DimPaymentMethod:
		return tx.PaymentMethod
	case domain.DimMonth:
		return tx.InvoiceDate.Format("2006-01")
	case domain.DimLeakageType:
		return string(tx.LeakageType)
	default:
		return ""
	}
}

func (e *Engine) summarizeDimension(dim domain.Dimension, txs []domain.ClassifiedTransaction) []domain.AggregateSummary {
	byKey := make(map[string]*domain.AggregateSummary)

	for i := range txs {
		tx := &txs[i]
		key := groupKey(dim, tx)

		sum, ok := byKey[key]
		if !ok {
			sum = &domain.AggregateSummary{
				Dimension:     dim,
				GroupKey:      key,
				TotalBilled:   decimal.Zero,
				TotalReceived: decimal.Zero,
				TotalLeakage:  decimal.Zero,
			}
			byKey[key] = sum
		}

		sum.TransactionCount++
		if tx.IsLeaked {
			sum.LeakedCount++
		}
		sum.TotalBilled = sum.TotalBilled.Add(tx.AmountBilled)
		sum.TotalReceived = sum.TotalReceived.Add(tx.AmountReceived)
		sum.TotalLeakage = sum.TotalLeakage.Add(tx.LeakageAmount)
	}

	out := make([]domain.AggregateSummary, 0, len(byKey))
	for _, sum := range byKey {
		// Guarded ratio: leakage_pct stays undefined when nothing was billed.
		if !sum.TotalBilled.IsZero() {
			pct, _ := sum.TotalLeakage.Div(sum.TotalBilled).Mul(decimal.NewFromInt(100)).Float64()
			sum.LeakagePct = &pct
		}
		out = append(out, *sum)
	}

	sortSummaries(dim, out)
	return out
}

// sortSummaries applies the per-dimension ordering contract: months run
// chronologically, percentage-focused dimensions rank by leakage_pct with
// undefined ratios last, everything else ranks by total leakage.
func sortSummaries(dim domain.Dimension, sums []domain.AggregateSummary) {
	switch dim {
	case domain.DimMonth:
		sort.Slice(sums, func(i, j int) bool {
			return sums[i].GroupKey < sums[j].GroupKey
		})
	case domain.DimSalesperson, domain.DimRegion, domain.DimPaymentMethod:
		sort.Slice(sums, func(i, j int) bool {
			pi, pj := sums[i].LeakagePct, sums[j].LeakagePct
			if pi == nil && pj == nil {
				return sums[i].GroupKey < sums[j].GroupKey
			}
			if pi == nil {
				return false
			}
			if pj == nil {
				return true
			}
			if *pi != *pj {
				return *pi > *pj
			}
			return sums[i].GroupKey < sums[j].GroupKey
		})
	default:
		sort.Slice(sums, func(i, j int) bool {
			if c := sums[i].TotalLeakage.Cmp(sums[j].TotalLeakage); c != 0 {
				return c > 0
			}
			return sums[i].GroupKey < sums[j].GroupKey
		})
	}
}

// TopCustomers is the customer summary truncated to the top n by total
// leakage. Groups with an undefined leakage ratio never made anything
// collectable, so they are excluded from the ranking.
func TopCustomers(customerSummaries []domain.AggregateSummary, n int) []domain.AggregateSummary {
	ranked := make([]domain.AggregateSummary, 0, len(customerSummaries))
	for _, s := range customerSummaries {
		if s.LeakagePct != nil {
			ranked = append(ranked, s)
		}
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// delayBands defines the payment-delay distribution used in trend reports.
var delayBands = []struct {
	label string
	min   int
	max   int // inclusive; -1 = unbounded
}{
	{"On Time", -1 << 31, 0},
	{"1-15 days", 1, 15},
	{"16-30 days", 16, 30},
	{"31-60 days", 31, 60},
	{"60+ days", 61, -1},
}

// DelayBuckets distributes paid invoices over delay bands. Invoices with no
// recorded payment are excluded.
func DelayBuckets(txs []domain.ClassifiedTransaction) []domain.DelayBucket {
	buckets := make([]domain.DelayBucket, len(delayBands))
	for i, band := range delayBands {
		buckets[i] = domain.DelayBucket{Label: band.label, TotalBilled: decimal.Zero}
	}

	for i := range txs {
		tx := &txs[i]
		if tx.PaymentDelayDays == nil {
			continue
		}
		d := *tx.PaymentDelayDays
		for j, band := range delayBands {
			if d >= band.min && (band.max == -1 || d <= band.max) {
				buckets[j].Count++
				buckets[j].TotalBilled = buckets[j].TotalBilled.Add(tx.AmountBilled)
				break
			}
		}
	}

	return buckets
}
