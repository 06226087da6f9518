package repository

import (
	"fmt"
	"strings"
)

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

func schemaTransactions() string {
	var cols strings.Builder
	for i := 1; i <= 28; i++ {
		fmt.Fprintf(&cols, "    v%d REAL NOT NULL,\n", i)
	}

	return `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id TEXT PRIMARY KEY,
    transaction_time TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
` + cols.String() + `    is_fraud INTEGER,
    ml_prediction INTEGER,
    ml_confidence REAL
);

CREATE INDEX IF NOT EXISTS idx_transactions_time ON transactions(transaction_time);
CREATE INDEX IF NOT EXISTS idx_transactions_amount ON transactions(amount);
`
}

const schemaFraudRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    rule_id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    severity TEXT NOT NULL,
    expression TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    alert_id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    rule_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_pair ON fraud_alerts(transaction_id, rule_id);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_status ON fraud_alerts(status);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_created ON fraud_alerts(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions(),
		schemaFraudRules,
		schemaFraudAlerts,
	}
}
