// Package anomaly flags transactions whose numeric feature profile deviates
// from the population. It is deliberately independent of the rule-based
// classifications so it can surface patterns the fixed rules miss.
package anomaly

import (
	"errors"
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrInsufficientData signals a population too small or too degenerate for
// outlier detection. Callers treat it as non-fatal: the run completes with
// no anomaly flags and a report annotation.
var ErrInsufficientData = errors.New("insufficient data for anomaly detection")

// Detector computes robust z-score outlier flags over a batch.
type Detector struct {
	cfg domain.AnalysisConfig
}

// New creates a detector for one analysis run.
func New(cfg domain.AnalysisConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Result holds the per-transaction outlier scores, aligned with the input
// batch order.
type Result struct {
	Scores    []float64
	Flags     []bool
	Threshold float64
}

// featureNames documents the numeric profile the detector examines.
var featureNames = []string{
	"amount_billed",
	"discount_pct",
	"payment_delay_days",
	"received_ratio",
}

// Detect computes a combined robust z-score per transaction and flags
// everything above the configured population quantile. Undefined feature
// values (no payment date, zero billed amount) are imputed with the feature
// median so they contribute nothing to the deviation.
func (d *Detector) Detect(txs []*domain.Transaction) (*Result, error) {
	n := len(txs)
	if n < d.cfg.MinAnomalyPopulation {
		return nil, ErrInsufficientData
	}

	features := extractFeatures(txs)

	// Per-feature robust scale. MAD first, stddev fallback; a feature with
	// zero spread carries no signal and is skipped.
	combined := make([]float64, n)
	usedFeatures := 0

	for f := range features {
		col := features[f]

		med := median(defined(col))
		for i := range col {
			if math.IsNaN(col[i]) {
				col[i] = med
			}
		}

		scale := mad(col, med) * 1.4826
		if scale == 0 {
			scale = stddev(col)
		}
		if scale == 0 {
			continue
		}

		usedFeatures++
		for i := range col {
			combined[i] += math.Abs(col[i]-med) / scale
		}
	}

	if usedFeatures == 0 {
		return nil, ErrInsufficientData
	}
	for i := range combined {
		combined[i] /= float64(usedFeatures)
	}

	threshold := quantile(combined, d.cfg.AnomalyQuantile)

	flags := make([]bool, n)
	for i, score := range combined {
		flags[i] = score > threshold
	}

	return &Result{Scores: combined, Flags: flags, Threshold: threshold}, nil
}

// extractFeatures builds the feature matrix, one row per feature. Undefined
// values are NaN placeholders until imputation.
func extractFeatures(txs []*domain.Transaction) [][]float64 {
	features := make([][]float64, len(featureNames))
	for f := range features {
		features[f] = make([]float64, len(txs))
	}

	for i, tx := range txs {
		billed, _ := tx.AmountBilled.Float64()
		features[0][i] = billed

		if pct, ok := tx.DiscountPct(); ok {
			features[1][i] = pct
		} else {
			features[1][i] = math.NaN()
		}

		if days, ok := tx.PaymentDelayDays(); ok {
			features[2][i] = float64(days)
		} else {
			features[2][i] = math.NaN()
		}

		if tx.AmountBilled.IsZero() {
			features[3][i] = math.NaN()
		} else {
			ratio, _ := tx.AmountReceived.Div(tx.AmountBilled).Float64()
			features[3][i] = ratio
		}
	}

	return features
}

// defined filters out NaN placeholders.
func defined(col []float64) []float64 {
	out := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// mad is the median absolute deviation around a center.
func mad(vals []float64, center float64) float64 {
	devs := make([]float64, len(vals))
	for i, v := range vals {
		devs[i] = math.Abs(v - center)
	}
	return median(devs)
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// quantile returns the q-th order statistic of vals (nearest-rank).
func quantile(vals []float64, q float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	idx := int(q * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
