package domain

import "github.com/shopspring/decimal"

// LeakageType is the classified root cause of an invoice's leakage.
// Exactly one type is assigned per transaction, by precedence.
type LeakageType string

const (
	LeakageNone           LeakageType = "None"
	LeakageUnderpayment   LeakageType = "Underpayment"
	LeakageMissingPayment LeakageType = "MissingPayment"
	LeakageOverDiscount   LeakageType = "OverDiscount"
	LeakageDuplicate      LeakageType = "Duplicate"
	LeakageDelayed        LeakageType = "Delayed"
)

// Timeliness classifies when a payment landed relative to its due date.
type Timeliness string

const (
	PaymentOnTime  Timeliness = "OnTime"
	PaymentDelayed Timeliness = "Delayed"
	PaymentMissing Timeliness = "Missing"
)

// ClassifiedTransaction is a transaction plus every per-record label and
// derived value computed during an analysis run. The embedded ground-truth
// fields are never mutated.
type ClassifiedTransaction struct {
	Transaction

	NetDue        decimal.Decimal `json:"netDue"`
	LeakageAmount decimal.Decimal `json:"leakageAmount"`

	// DiscountPct is nil when undefined (amountBilled = 0).
	DiscountPct *float64 `json:"discountPct,omitempty"`

	// PaymentDelayDays is nil when no payment was recorded.
	PaymentDelayDays *int `json:"paymentDelayDays,omitempty"`

	Timeliness     Timeliness  `json:"timeliness"`
	LeakageType    LeakageType `json:"leakageType"`
	IsLeaked       bool        `json:"isLeaked"`
	IsDuplicate    bool        `json:"isDuplicate"`
	DuplicateCount int         `json:"duplicateCount,omitempty"`

	// Set by the anomaly detector, independent of the rule labels.
	IsAnomalous  bool    `json:"isAnomalous"`
	AnomalyScore float64 `json:"anomalyScore,omitempty"`

	// Review flags raised by analyst-defined rules.
	ReviewFlags []ReviewFlag `json:"reviewFlags,omitempty"`
}
