package domain

// ReviewRule is an analyst-defined CEL expression evaluated against each
// classified transaction. A truthy result raises a review flag on the
// record.
type ReviewRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the classified invoice variables.
	Expression string `json:"expression"`

	// Severity attached to flags this rule raises.
	Severity string `json:"severity"`

	Enabled bool `json:"enabled"`
}

// ReviewFlag is the output of a review rule match on a transaction.
type ReviewFlag struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Severity string `json:"severity"`
	Reason   string `json:"reason,omitempty"`
}

// Review flag severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)
