// Package analyzer runs the full leakage analysis pipeline over one
// transaction snapshot and assembles the immutable report.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/anomaly"
	"github.com/opensource-finance/harrier/internal/classify"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/risk"
	"github.com/shopspring/decimal"
)

// EngineVersion is stamped into every report's metadata.
const EngineVersion = "harrier-1.0"

// Analyzer composes the classification, aggregation, scoring and anomaly
// stages. It is safe for concurrent runs: all per-run state lives in the
// input and the result.
type Analyzer struct {
	rules RuleAnnotator
}

// RuleAnnotator attaches review flags to classified records. The CEL
// review rule engine implements it; a nil annotator skips the stage.
type RuleAnnotator interface {
	AnnotateBatch(ctx context.Context, txs []domain.ClassifiedTransaction) error
}

// New creates an analyzer. ruleEngine may be nil when no review rules are
// configured.
func New(ruleEngine RuleAnnotator) *Analyzer {
	return &Analyzer{rules: ruleEngine}
}

// RunInput holds everything one analysis run consumes.
type RunInput struct {
	TenantID     string
	TraceID      string
	Transactions []*domain.Transaction
	Config       domain.AnalysisConfig
}

// Run executes one analysis. It either returns a complete report or fails
// atomically: configuration errors and batch validation errors abort before
// any result is produced.
func (a *Analyzer) Run(ctx context.Context, input *RunInput) (*domain.Report, error) {
	start := time.Now()

	if err := input.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis config: %w", err)
	}
	if err := domain.ValidateBatch(input.Transactions); err != nil {
		return nil, err
	}

	cfg := input.Config

	// The anomaly pass reads only raw numeric features, so it runs
	// concurrently with the classification branch.
	var (
		wg sync.WaitGroup

		classified []domain.ClassifiedTransaction
		classifyMs int64

		anomalyResult *anomaly.Result
		anomalyErr    error
		anomalyMs     int64
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		t := time.Now()
		classified = classify.New(cfg).Classify(input.Transactions)
		classifyMs = time.Since(t).Milliseconds()
	}()
	go func() {
		defer wg.Done()
		t := time.Now()
		anomalyResult, anomalyErr = anomaly.New(cfg).Detect(input.Transactions)
		anomalyMs = time.Since(t).Milliseconds()
	}()
	wg.Wait()

	var annotations []string
	if anomalyErr != nil {
		if anomalyErr != anomaly.ErrInsufficientData {
			return nil, fmt.Errorf("anomaly detection failed: %w", anomalyErr)
		}
		annotations = append(annotations, "insufficient data for anomaly detection; no transactions flagged")
	} else {
		for i := range classified {
			classified[i].AnomalyScore = anomalyResult.Scores[i]
			classified[i].IsAnomalous = anomalyResult.Flags[i]
		}
	}

	aggStart := time.Now()
	summaries := aggregate.New(cfg).Summarize(classified)
	delayBuckets := aggregate.DelayBuckets(classified)
	aggregateMs := time.Since(aggStart).Milliseconds()

	riskStart := time.Now()
	scorer := risk.New(cfg)
	customerScores := scorer.ScoreCustomers(classified, summaries[domain.DimCustomer])
	transactionScores := scorer.ScoreTransactions(classified)
	riskMs := time.Since(riskStart).Milliseconds()

	if a.rules != nil {
		if err := a.rules.AnnotateBatch(ctx, classified); err != nil {
			return nil, fmt.Errorf("review rule evaluation failed: %w", err)
		}
	}

	report := &domain.Report{
		ID:                uuid.New().String(),
		TenantID:          input.TenantID,
		GeneratedAt:       time.Now().UTC(),
		Transactions:      classified,
		Summaries:         summaries,
		TopCustomers:      aggregate.TopCustomers(summaries[domain.DimCustomer], cfg.TopNCustomers),
		DelayBuckets:      delayBuckets,
		CustomerScores:    customerScores,
		TransactionScores: transactionScores,
		Annotations:       annotations,
	}

	fillTotals(report, classified)
	roundReport(report)

	report.Metadata = domain.ReportMetadata{
		TraceID:          input.TraceID,
		TransactionCount: len(input.Transactions),
		ClassifyMs:       classifyMs,
		AggregateMs:      aggregateMs,
		RiskMs:           riskMs,
		AnomalyMs:        anomalyMs,
		TotalMs:          time.Since(start).Milliseconds(),
		EngineVersion:    EngineVersion,
	}

	return report, nil
}

func fillTotals(report *domain.Report, txs []domain.ClassifiedTransaction) {
	billed, received, leakage := decimal.Zero, decimal.Zero, decimal.Zero
	for i := range txs {
		billed = billed.Add(txs[i].AmountBilled)
		received = received.Add(txs[i].AmountReceived)
		leakage = leakage.Add(txs[i].LeakageAmount)
	}
	report.TotalBilled = billed
	report.TotalReceived = received
	report.TotalLeakage = leakage

	if !billed.IsZero() {
		pct, _ := leakage.Div(billed).Mul(decimal.NewFromInt(100)).Float64()
		report.LeakagePct = &pct
	}
}

// roundReport applies the presentation rounding contract: 2 decimal places
// for money and for percentages/scores. Internal computation stays exact up
// to this point.
func roundReport(report *domain.Report) {
	for i := range report.Transactions {
		tx := &report.Transactions[i]
		tx.NetDue = tx.NetDue.Round(2)
		tx.LeakageAmount = tx.LeakageAmount.Round(2)
		roundPtr(tx.DiscountPct)
		tx.AnomalyScore = round2(tx.AnomalyScore)
	}

	for dim := range report.Summaries {
		roundSummaries(report.Summaries[dim])
	}
	roundSummaries(report.TopCustomers)

	for i := range report.DelayBuckets {
		report.DelayBuckets[i].TotalBilled = report.DelayBuckets[i].TotalBilled.Round(2)
	}

	roundScores(report.CustomerScores)
	roundScores(report.TransactionScores)

	report.TotalBilled = report.TotalBilled.Round(2)
	report.TotalReceived = report.TotalReceived.Round(2)
	report.TotalLeakage = report.TotalLeakage.Round(2)
	roundPtr(report.LeakagePct)
}

func roundSummaries(sums []domain.AggregateSummary) {
	for i := range sums {
		sums[i].TotalBilled = sums[i].TotalBilled.Round(2)
		sums[i].TotalReceived = sums[i].TotalReceived.Round(2)
		sums[i].TotalLeakage = sums[i].TotalLeakage.Round(2)
		roundPtr(sums[i].LeakagePct)
	}
}

func roundScores(scores []domain.RiskScore) {
	for i := range scores {
		scores[i].Score = round2(scores[i].Score)
		for j := range scores[i].ContributingFactors {
			f := &scores[i].ContributingFactors[j]
			f.RawValue = round2(f.RawValue)
			f.Contribution = round2(f.Contribution)
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundPtr(v *float64) {
	if v != nil {
		*v = round2(*v)
	}
}
