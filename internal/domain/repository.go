// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the data-access contract consumed by the engine.
// Implementations must use parameterized queries exclusively; the engine
// never concatenates dynamic values into query text.
type Repository interface {
	// Transaction operations. SaveTransactions inserts a batch atomically
	// (used by the dataset importer); feature and amount columns are never
	// updated after insert.
	SaveTransactions(ctx context.Context, txs []*Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// FetchTrainingSet returns labeled transactions with amount above
	// minAmount, most recent first, capped at limit.
	FetchTrainingSet(ctx context.Context, minAmount float64, limit int) ([]*Transaction, error)

	// FetchScoringWindow returns the most recent transactions (labeled or
	// not), capped at limit.
	FetchScoringWindow(ctx context.Context, limit int) ([]*Transaction, error)

	// UpsertPredictions writes ml_prediction / ml_confidence for one batch
	// of transactions as a single atomic unit.
	UpsertPredictions(ctx context.Context, preds []Prediction) error

	// Alert operations. InsertAlerts writes one batch atomically and skips
	// findings that already have an active alert for the same
	// (transaction_id, rule_id) pair; it reports how many rows were
	// actually inserted. AlertExists considers active alerts only.
	InsertAlerts(ctx context.Context, findings []Finding) (int, error)
	AlertExists(ctx context.Context, txID string, ruleID int) (bool, error)
	DeleteAlertsByStatus(ctx context.Context, status string) (int64, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status, notes string) error
	ListAlerts(ctx context.Context, status string, limit, offset int) ([]*Alert, error)

	// Rule configuration operations.
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID int) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
