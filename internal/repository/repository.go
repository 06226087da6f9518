// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// txColumns is the full transaction column list in scan order.
var txColumns = "transaction_id, transaction_time, amount, " + featureColumnList() + ", is_fraud, ml_prediction, ml_confidence"

func featureColumnList() string {
	parts := make([]string, domain.FeatureCount)
	for i := range parts {
		parts[i] = fmt.Sprintf("v%d", i+1)
	}
	return strings.Join(parts, ", ")
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers. Every query is
// parameterized: no dynamic value is ever concatenated into query text.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransactions inserts a batch of transactions as one atomic unit.
// Feature and amount columns are write-once: the engine never updates them.
func (r *SQLRepository) SaveTransactions(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	query := `
		INSERT INTO transactions (
			transaction_id, transaction_time, amount, ` + featureColumnList() + `, is_fraud
		) VALUES (` + placeholders(3+domain.FeatureCount+1) + `)
	`

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range txs {
		args := make([]any, 0, 3+domain.FeatureCount+1)
		args = append(args, t.ID, t.Timestamp, t.Amount)
		for _, v := range t.Features {
			args = append(args, v)
		}
		args = append(args, nullableInt(t.Label))

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
		}
	}

	return dbTx.Commit()
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `SELECT ` + txColumns + ` FROM transactions WHERE transaction_id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), txID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// FetchTrainingSet returns labeled transactions above minAmount, most
// recent first.
func (r *SQLRepository) FetchTrainingSet(ctx context.Context, minAmount float64, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE amount > ? AND is_fraud IS NOT NULL
		ORDER BY transaction_time DESC
		LIMIT ?
	`

	return r.queryTransactions(ctx, r.rebind(query), minAmount, limit)
}

// FetchScoringWindow returns the most recent transactions.
func (r *SQLRepository) FetchScoringWindow(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT ` + txColumns + `
		FROM transactions
		ORDER BY transaction_time DESC
		LIMIT ?
	`

	return r.queryTransactions(ctx, r.rebind(query), limit)
}

// UpsertPredictions writes derived prediction fields for one batch as a
// single transaction. Source features and amount are never touched.
func (r *SQLRepository) UpsertPredictions(ctx context.Context, preds []domain.Prediction) error {
	if len(preds) == 0 {
		return nil
	}

	query := `
		UPDATE transactions
		SET ml_prediction = ?, ml_confidence = ?
		WHERE transaction_id = ?
	`

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range preds {
		if _, err := stmt.ExecContext(ctx, p.Label, p.Confidence, p.TransactionID); err != nil {
			return fmt.Errorf("failed to update prediction for %s: %w", p.TransactionID, err)
		}
	}

	return dbTx.Commit()
}

// InsertAlerts inserts one batch of findings as a single transaction,
// skipping findings that already have an active alert for the same
// (transaction_id, rule_id) pair. Duplicate attempts are a no-op, not an
// error. Returns the number of rows actually inserted.
func (r *SQLRepository) InsertAlerts(ctx context.Context, findings []domain.Finding) (int, error) {
	if len(findings) == 0 {
		return 0, nil
	}

	// The NOT EXISTS guard sees rows inserted earlier in the same
	// transaction, so a batch with internal duplicates stays deduplicated.
	query := `
		INSERT INTO fraud_alerts (alert_id, transaction_id, rule_id, status, notes, created_at)
		SELECT ?, ?, ?, ?, '', ?
		WHERE NOT EXISTS (
			SELECT 1 FROM fraud_alerts
			WHERE transaction_id = ? AND rule_id = ?
			  AND status NOT IN (?, ?)
		)
	`

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := 0
	for _, f := range findings {
		res, err := stmt.ExecContext(ctx,
			uuid.New().String(), f.TransactionID, f.RuleID, domain.AlertStatusNew, now,
			f.TransactionID, f.RuleID,
			domain.AlertStatusResolved, domain.AlertStatusTemporary,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert alert for %s: %w", f.TransactionID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// AlertExists reports whether an active alert exists for the pair.
// Resolved and temporary alerts do not count as active.
func (r *SQLRepository) AlertExists(ctx context.Context, txID string, ruleID int) (bool, error) {
	if txID == "" {
		return false, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(1) FROM fraud_alerts
		WHERE transaction_id = ? AND rule_id = ?
		  AND status NOT IN (?, ?)
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		txID, ruleID, domain.AlertStatusResolved, domain.AlertStatusTemporary,
	).Scan(&count)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// DeleteAlertsByStatus removes all alerts with the given status. Used to
// clear temporary scratch alerts at the start of a detection run.
func (r *SQLRepository) DeleteAlertsByStatus(ctx context.Context, status string) (int64, error) {
	if status == "" {
		return 0, fmt.Errorf("%w: status is required", ErrInvalidInput)
	}

	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM fraud_alerts WHERE status = ?`), status)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateAlertStatus transitions an alert's status and notes (reviewer
// operation).
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, alertID string, status, notes string) error {
	if alertID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}
	if !domain.ValidAlertStatus(status) {
		return fmt.Errorf("%w: unknown alert status %q", ErrInvalidInput, status)
	}

	query := `UPDATE fraud_alerts SET status = ?, notes = ? WHERE alert_id = ?`

	res, err := r.db.ExecContext(ctx, r.rebind(query), status, notes, alertID)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListAlerts returns alerts filtered by status (all statuses when empty),
// newest first, paginated with bound parameters.
func (r *SQLRepository) ListAlerts(ctx context.Context, status string, limit, offset int) ([]*domain.Alert, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}
	if offset < 0 {
		offset = 0
	}

	var rows *sql.Rows
	var err error
	if status == "" {
		query := `
			SELECT alert_id, transaction_id, rule_id, status, notes, created_at
			FROM fraud_alerts
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?
		`
		rows, err = r.db.QueryContext(ctx, r.rebind(query), limit, offset)
	} else {
		query := `
			SELECT alert_id, transaction_id, rule_id, status, notes, created_at
			FROM fraud_alerts
			WHERE status = ?
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?
		`
		rows, err = r.db.QueryContext(ctx, r.rebind(query), status, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.RuleID, &a.Status, &a.Notes, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// SaveRule stores a detection rule.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.ID <= 0 {
		return fmt.Errorf("%w: rule with a positive id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO fraud_rules (rule_id, name, description, severity, expression, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			severity = excluded.severity,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Severity,
		rule.Expression, enabled, now, now,
	)
	return err
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID int) (*domain.Rule, error) {
	query := `
		SELECT rule_id, name, description, severity, expression, enabled
		FROM fraud_rules
		WHERE rule_id = ?
	`

	var rule domain.Rule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Severity, &rule.Expression, &enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListRules retrieves all rules ordered by ID.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT rule_id, name, description, severity, expression, enabled
		FROM fraud_rules
		ORDER BY rule_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var enabled int
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Severity, &rule.Expression, &enabled); err != nil {
			return nil, err
		}
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var label, prediction sql.NullInt64
	var confidence sql.NullFloat64

	dest := make([]any, 0, 3+domain.FeatureCount+3)
	dest = append(dest, &tx.ID, &tx.Timestamp, &tx.Amount)
	for i := range tx.Features {
		dest = append(dest, &tx.Features[i])
	}
	dest = append(dest, &label, &prediction, &confidence)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if label.Valid {
		v := int(label.Int64)
		tx.Label = &v
	}
	if prediction.Valid {
		v := int(prediction.Int64)
		tx.MLPrediction = &v
	}
	if confidence.Valid {
		v := confidence.Float64
		tx.MLConfidence = &v
	}

	return &tx, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// placeholders returns n comma-separated ? markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
