package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dimension is a grouping key for the aggregation engine.
type Dimension string

const (
	DimCustomer      Dimension = "customer"
	DimSalesperson   Dimension = "salesperson"
	DimRegion        Dimension = "region"
	DimPaymentMethod Dimension = "paymentMethod"
	DimMonth         Dimension = "month"
	DimLeakageType   Dimension = "leakageType"
)

// AllDimensions lists every supported grouping dimension.
func AllDimensions() []Dimension {
	return []Dimension{
		DimCustomer, DimSalesperson, DimRegion,
		DimPaymentMethod, DimMonth, DimLeakageType,
	}
}

// AggregateSummary holds the leakage totals for one group key within a
// dimension.
type AggregateSummary struct {
	Dimension        Dimension       `json:"dimension"`
	GroupKey         string          `json:"groupKey"`
	TransactionCount int             `json:"transactionCount"`
	LeakedCount      int             `json:"leakedCount"`
	TotalBilled      decimal.Decimal `json:"totalBilled"`
	TotalReceived    decimal.Decimal `json:"totalReceived"`
	TotalLeakage     decimal.Decimal `json:"totalLeakage"`

	// LeakagePct is nil when undefined (totalBilled = 0). Undefined groups
	// are excluded from percentage-ranked orderings.
	LeakagePct *float64 `json:"leakagePct,omitempty"`
}

// DelayBucket is one band of the payment-delay distribution.
type DelayBucket struct {
	Label       string          `json:"label"`
	Count       int             `json:"count"`
	TotalBilled decimal.Decimal `json:"totalBilled"`
}

// EntityType identifies what a risk score is attached to.
type EntityType string

const (
	EntityCustomer    EntityType = "customer"
	EntityTransaction EntityType = "transaction"
)

// RiskCategory bands a risk score for reporting.
type RiskCategory string

const (
	RiskLow      RiskCategory = "Low"
	RiskMedium   RiskCategory = "Medium"
	RiskHigh     RiskCategory = "High"
	RiskCritical RiskCategory = "Critical"
)

// CategorizeRisk maps a [0,100] score to its reporting band.
func CategorizeRisk(score float64) RiskCategory {
	switch {
	case score < 25:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// FactorContribution explains one signal's part of a risk score.
type FactorContribution struct {
	Factor       string  `json:"factor"`
	RawValue     float64 `json:"rawValue"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// RiskScore is a bounded [0,100] composite score for a customer or a
// single transaction. A score without contributing factors is a defect:
// every score must be decomposable.
type RiskScore struct {
	EntityID            string               `json:"entityId"`
	EntityType          EntityType           `json:"entityType"`
	Score               float64              `json:"score"`
	Category            RiskCategory         `json:"category"`
	ContributingFactors []FactorContribution `json:"contributingFactors"`
}

// ReportMetadata carries per-stage timing for an analysis run.
type ReportMetadata struct {
	TraceID          string `json:"traceId,omitempty"`
	TransactionCount int    `json:"transactionCount"`
	ClassifyMs       int64  `json:"classifyMs"`
	AggregateMs      int64  `json:"aggregateMs"`
	RiskMs           int64  `json:"riskMs"`
	AnomalyMs        int64  `json:"anomalyMs"`
	TotalMs          int64  `json:"totalMs"`
	EngineVersion    string `json:"engineVersion"`
}

// Report is the complete, immutable result of one analysis run.
type Report struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	GeneratedAt time.Time `json:"generatedAt"`

	Transactions []ClassifiedTransaction         `json:"transactions"`
	Summaries    map[Dimension][]AggregateSummary `json:"summaries"`
	TopCustomers []AggregateSummary              `json:"topCustomers"`
	DelayBuckets []DelayBucket                   `json:"delayBuckets"`

	CustomerScores    []RiskScore `json:"customerScores"`
	TransactionScores []RiskScore `json:"transactionScores"`

	TotalBilled   decimal.Decimal `json:"totalBilled"`
	TotalReceived decimal.Decimal `json:"totalReceived"`
	TotalLeakage  decimal.Decimal `json:"totalLeakage"`
	LeakagePct    *float64        `json:"leakagePct,omitempty"`

	// Non-fatal conditions surfaced to the caller, e.g. the anomaly
	// detector declining a degenerate population.
	Annotations []string `json:"annotations,omitempty"`

	Metadata ReportMetadata `json:"metadata"`
}

// HighRiskCustomers returns customer scores at or above the threshold,
// used by the alerting worker.
func (r *Report) HighRiskCustomers(threshold float64) []RiskScore {
	var out []RiskScore
	for _, s := range r.CustomerScores {
		if s.Score >= threshold {
			out = append(out, s)
		}
	}
	return out
}
