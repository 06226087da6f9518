package domain

import (
	"time"
)

// Alert statuses. An alert is active while it is neither resolved nor
// temporary; temporary alerts are scratch state cleared at the start of
// every detection run.
const (
	AlertStatusNew           = "new"
	AlertStatusInvestigating = "investigating"
	AlertStatusConfirmed     = "confirmed"
	AlertStatusResolved      = "resolved"
	AlertStatusTemporary     = "temporary"
)

// ValidAlertStatus reports whether s is a known alert status.
func ValidAlertStatus(s string) bool {
	switch s {
	case AlertStatusNew, AlertStatusInvestigating, AlertStatusConfirmed,
		AlertStatusResolved, AlertStatusTemporary:
		return true
	}
	return false
}

// Finding sources.
const (
	SourceRule = "rule"
	SourceML   = "ml"
)

// Alert is a fraud alert referencing exactly one transaction and one rule.
// At most one active alert exists per (transaction_id, rule_id) pair.
type Alert struct {
	ID            string    `json:"alertId"`
	TransactionID string    `json:"transactionId"`
	RuleID        int       `json:"ruleId"`
	Status        string    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Finding is a candidate alert produced by the rule engine or the scoring
// pipeline, before deduplication against the alert store.
type Finding struct {
	TransactionID string `json:"transactionId"`
	RuleID        int    `json:"ruleId"`
	Source        string `json:"source"`
}
