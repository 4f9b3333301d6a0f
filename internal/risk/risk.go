// Package risk combines classification signals and per-entity aggregates
// into bounded, explainable risk scores.
package risk

import (
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Scorer produces customer and transaction risk scores for one run.
type Scorer struct {
	cfg domain.AnalysisConfig
}

// New creates a scorer for one analysis run.
func New(cfg domain.AnalysisConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// customerStats accumulates the per-customer raw signals.
type customerStats struct {
	invoices   int
	leaked     int
	duplicates int

	discountPctSum float64
	discountPctN   int

	delayDaysSum float64
	delayDaysN   int

	leakagePct float64 // from the customer aggregate; 0 when undefined
}

// ScoreCustomers computes a [0,100] score per customer from five signals,
// each normalized to [0,1] and combined by the configured weight vector.
// Customer summaries supply the leakage ratio; everything else comes from
// the classified records.
func (s *Scorer) ScoreCustomers(txs []domain.ClassifiedTransaction, customerSummaries []domain.AggregateSummary) []domain.RiskScore {
	stats := make(map[string]*customerStats)

	for i := range txs {
		tx := &txs[i]
		st, ok := stats[tx.CustomerID]
		if !ok {
			st = &customerStats{}
			stats[tx.CustomerID] = st
		}

		st.invoices++
		if tx.IsLeaked {
			st.leaked++
		}
		if tx.IsDuplicate {
			st.duplicates++
		}
		if tx.DiscountPct != nil {
			st.discountPctSum += *tx.DiscountPct
			st.discountPctN++
		}
		if tx.PaymentDelayDays != nil {
			st.delayDaysSum += math.Max(float64(*tx.PaymentDelayDays), 0)
			st.delayDaysN++
		}
	}

	// Leakage ratio is relative to the worst customer in the population.
	var maxLeakagePct float64
	for _, sum := range customerSummaries {
		if sum.LeakagePct == nil {
			continue
		}
		if st, ok := stats[sum.GroupKey]; ok {
			st.leakagePct = *sum.LeakagePct
			if *sum.LeakagePct > maxLeakagePct {
				maxLeakagePct = *sum.LeakagePct
			}
		}
	}

	scores := make([]domain.RiskScore, 0, len(stats))
	for customerID, st := range stats {
		scores = append(scores, s.scoreCustomer(customerID, st, maxLeakagePct))
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].EntityID < scores[j].EntityID
	})
	return scores
}

func (s *Scorer) scoreCustomer(customerID string, st *customerStats, maxLeakagePct float64) domain.RiskScore {
	w := s.cfg.RiskWeights

	leakageRatio := 0.0
	if maxLeakagePct > 0 {
		leakageRatio = clamp01(st.leakagePct / maxLeakagePct)
	}

	leakedFreq := clamp01(float64(st.leaked) / float64(st.invoices))
	dupRate := clamp01(float64(st.duplicates) / float64(st.invoices))

	avgDiscount := 0.0
	if st.discountPctN > 0 {
		avgDiscount = clamp01(st.discountPctSum / float64(st.discountPctN) / 100)
	}

	avgDelay := 0.0
	if st.delayDaysN > 0 {
		avgDelay = clamp01(st.delayDaysSum / float64(st.delayDaysN) / float64(s.cfg.PaymentDelayCapDays))
	}

	factors := []domain.FactorContribution{
		{Factor: "leakage_ratio", RawValue: leakageRatio, Weight: w.LeakageRatio},
		{Factor: "leaked_frequency", RawValue: leakedFreq, Weight: w.LeakedFrequency},
		{Factor: "duplicate_rate", RawValue: dupRate, Weight: w.DuplicateRate},
		{Factor: "avg_discount", RawValue: avgDiscount, Weight: w.AvgDiscount},
		{Factor: "avg_delay", RawValue: avgDelay, Weight: w.AvgDelay},
	}

	var score float64
	for i := range factors {
		factors[i].Contribution = factors[i].RawValue * factors[i].Weight * 100
		score += factors[i].Contribution
	}
	score = math.Min(math.Max(score, 0), 100)

	return domain.RiskScore{
		EntityID:            customerID,
		EntityType:          domain.EntityCustomer,
		Score:               score,
		Category:            domain.CategorizeRisk(score),
		ContributingFactors: factors,
	}
}

// transaction point caps for the per-invoice score
const (
	delayPointsCap        = 30.0
	missingPaymentPoints  = 50.0
	underpaymentPointsCap = 40.0
	overDiscountPointsCap = 20.0
	duplicatePoints       = 25.0
)

// ScoreTransactions assigns each invoice a [0,100] score from additive risk
// points, normalized against the highest-scoring invoice in the batch.
func (s *Scorer) ScoreTransactions(txs []domain.ClassifiedTransaction) []domain.RiskScore {
	type rawScore struct {
		invoiceID string
		points    float64
		factors   []domain.FactorContribution
	}

	raws := make([]rawScore, 0, len(txs))
	var maxPoints float64

	for i := range txs {
		tx := &txs[i]
		var factors []domain.FactorContribution

		addFactor := func(name string, points float64) {
			factors = append(factors, domain.FactorContribution{
				Factor:   name,
				RawValue: points,
				Weight:   1,
			})
		}

		if tx.PaymentDelayDays != nil && *tx.PaymentDelayDays > 0 {
			addFactor("payment_delay", math.Min(float64(*tx.PaymentDelayDays)/3, delayPointsCap))
		}
		if tx.PaymentDate == nil {
			addFactor("missing_payment", missingPaymentPoints)
		}
		if tx.LeakageAmount.IsPositive() && tx.NetDue.IsPositive() {
			gapPct, _ := tx.LeakageAmount.Div(tx.NetDue).Float64()
			addFactor("underpayment", math.Min(gapPct*100, underpaymentPointsCap))
		}
		if tx.DiscountPct != nil && *tx.DiscountPct > s.cfg.OverDiscountThresholdPct {
			addFactor("over_discount", math.Min(*tx.DiscountPct-s.cfg.OverDiscountThresholdPct, overDiscountPointsCap))
		}
		if tx.IsDuplicate {
			addFactor("duplicate_invoice", duplicatePoints)
		}

		var points float64
		for _, f := range factors {
			points += f.RawValue
		}
		if points > maxPoints {
			maxPoints = points
		}

		raws = append(raws, rawScore{invoiceID: tx.InvoiceID, points: points, factors: factors})
	}

	scores := make([]domain.RiskScore, 0, len(raws))
	for _, r := range raws {
		scale := 0.0
		if maxPoints > 0 {
			scale = 100 / maxPoints
		}

		for i := range r.factors {
			r.factors[i].Contribution = r.factors[i].RawValue * scale
		}

		score := r.points * scale
		scores = append(scores, domain.RiskScore{
			EntityID:            r.invoiceID,
			EntityType:          domain.EntityTransaction,
			Score:               score,
			Category:            domain.CategorizeRisk(score),
			ContributingFactors: r.factors,
		})
	}
	return scores
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
