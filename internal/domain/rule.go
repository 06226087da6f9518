package domain

// Well-known rule IDs. MLRuleID is a reserved sentinel for alerts originated
// by the classifier; it never carries a CEL expression.
const (
	HighAmountRuleID = 1
	MLRuleID         = 99
)

// Severity tiers for detection rules.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Rule is a detection rule: a pure predicate over a transaction expressed as
// a CEL boolean expression, plus reviewer-facing metadata.
type Rule struct {
	ID          int    `json:"ruleId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`

	// Expression is a CEL predicate over {amount, hour, v1..v28}.
	Expression string `json:"expression"`

	Enabled bool `json:"enabled"`
}

// BuiltinHighAmountRule returns the seeded threshold rule: amount above 800
// currency units.
func BuiltinHighAmountRule() *Rule {
	return &Rule{
		ID:          HighAmountRuleID,
		Name:        "high-amount",
		Description: "Transaction amount exceeds 800 currency units",
		Severity:    SeverityHigh,
		Expression:  "amount > 800.0",
		Enabled:     true,
	}
}

// MLSentinelRule returns the reserved pseudo-rule under which classifier
// alerts are filed. It has no expression and is never evaluated.
func MLSentinelRule() *Rule {
	return &Rule{
		ID:          MLRuleID,
		Name:        "ml-fraud",
		Description: "Flagged by the fraud classifier at high confidence",
		Severity:    SeverityHigh,
		Enabled:     true,
	}
}
