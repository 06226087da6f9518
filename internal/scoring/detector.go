// Package scoring implements the online detection pipeline: evaluate
// rules over the recent transaction window, score it with the persisted
// model artifact, write predictions back, and raise alerts for
// high-confidence fraud.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerting"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ErrNoModel indicates no trained model artifact is available yet.
var ErrNoModel = errors.New("no trained model available")

const predictionCacheTTL = 5 * time.Minute

// Summary reports one detection run.
type Summary struct {
	ModelVersion string        `json:"modelVersion"`
	Scored       int           `json:"scored"`
	RuleAlerts   int           `json:"ruleAlerts"`
	MLAlerts     int           `json:"mlAlerts"`
	Degraded     bool          `json:"degraded"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Detector runs detection over the recent transaction window. The model
// artifact is loaded fresh on every run; the detector holds no fitted
// state between runs and never refits anything.
type Detector struct {
	repo    domain.Repository
	store   *artifact.Store
	engine  *rules.Engine
	emitter *alerting.Emitter
	policy  *decision.Policy
	cache   domain.Cache
	bus     domain.EventBus
	logger  *slog.Logger
	cfg     domain.DetectionConfig
}

// NewDetector creates a detector.
func NewDetector(
	repo domain.Repository,
	store *artifact.Store,
	engine *rules.Engine,
	emitter *alerting.Emitter,
	cache domain.Cache,
	bus domain.EventBus,
	logger *slog.Logger,
	cfg domain.DetectionConfig,
) *Detector {
	return &Detector{
		repo:    repo,
		store:   store,
		engine:  engine,
		emitter: emitter,
		policy:  decision.NewPolicy(),
		cache:   cache,
		bus:     bus,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run executes one detection pass: load the current artifact, purge
// scratch alerts, evaluate rules, score the window, persist predictions
// in batches, and raise alerts for confident fraud predictions.
// The artifact loads first so a run without a usable model fails before
// it has written anything to the alert store.
func (d *Detector) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	a, err := d.store.Load()
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, fmt.Errorf("%w: run training first", ErrNoModel)
		}
		return nil, fmt.Errorf("failed to load model artifact: %w", err)
	}

	if _, err := d.emitter.PurgeTemporary(ctx); err != nil {
		return nil, err
	}

	txs, err := d.repo.FetchScoringWindow(ctx, d.cfg.WindowLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch scoring window: %w", err)
	}
	if len(txs) == 0 {
		d.logger.Info("no transactions to score")
		return &Summary{ModelVersion: a.Version, Elapsed: time.Since(start)}, nil
	}

	summary := &Summary{
		ModelVersion: a.Version,
		Degraded:     a.Degraded,
	}

	ruleFindings := d.evaluateRules(txs)
	if len(ruleFindings) > 0 {
		n, err := d.emitter.Emit(ctx, ruleFindings)
		if err != nil {
			return nil, fmt.Errorf("failed to persist rule alerts: %w", err)
		}
		summary.RuleAlerts = n
	}

	preds, err := d.score(txs, a)
	if err != nil {
		return nil, err
	}
	summary.Scored = len(preds)

	if err := d.persistPredictions(ctx, preds); err != nil {
		return nil, err
	}

	var mlFindings []domain.Finding
	for _, p := range preds {
		if d.policy.Decide(p.Confidence).Alert && p.Label == domain.LabelFraud {
			mlFindings = append(mlFindings, domain.Finding{
				TransactionID: p.TransactionID,
				RuleID:        domain.MLRuleID,
				Source:        domain.SourceML,
			})
		}
	}
	if len(mlFindings) > 0 {
		n, err := d.emitter.Emit(ctx, mlFindings)
		if err != nil {
			return nil, fmt.Errorf("failed to persist model alerts: %w", err)
		}
		summary.MLAlerts = n
	}

	summary.Elapsed = time.Since(start)

	d.logger.Info("detection run completed",
		"model_version", summary.ModelVersion,
		"scored", summary.Scored,
		"rule_alerts", summary.RuleAlerts,
		"ml_alerts", summary.MLAlerts,
		"degraded", summary.Degraded,
		"elapsed_ms", summary.Elapsed.Milliseconds())

	d.publish(ctx, summary)

	return summary, nil
}

// PredictOne scores a single transaction by ID, serving from cache when a
// recent result exists.
func (d *Detector) PredictOne(ctx context.Context, txID string) (*domain.PredictionResult, error) {
	if d.cache != nil {
		if cached, err := d.cache.GetPrediction(ctx, txID); err == nil && cached != nil {
			return cached, nil
		}
	}

	tx, err := d.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	a, err := d.store.Load()
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, fmt.Errorf("%w: run training first", ErrNoModel)
		}
		return nil, fmt.Errorf("failed to load model artifact: %w", err)
	}

	row := tx.FeatureVector()
	if a.Degraded {
		d.logger.Warn("scaler blob missing, scoring unscaled input",
			"model_version", a.Version)
	} else {
		row, err = a.Scaler.TransformRow(row)
		if err != nil {
			return nil, fmt.Errorf("failed to scale transaction %s: %w", txID, err)
		}
	}

	_, prob := a.Forest.Predict(row)
	out := d.policy.Decide(prob)

	res := &domain.PredictionResult{
		TransactionID: txID,
		Label:         out.Label,
		Confidence:    out.Confidence,
		Fraud:         out.Label == domain.LabelFraud,
	}

	if d.cache != nil {
		if err := d.cache.SetPrediction(ctx, txID, res, predictionCacheTTL); err != nil {
			d.logger.Warn("failed to cache prediction", "tx_id", txID, "error", err)
		}
	}

	return res, nil
}

// evaluateRules runs the CEL rule engine over the window. Rule evaluation
// is pure: it reads transaction fields and produces findings, nothing else.
func (d *Detector) evaluateRules(txs []*domain.Transaction) []domain.Finding {
	var findings []domain.Finding
	for _, tx := range txs {
		for _, m := range d.engine.Evaluate(tx) {
			findings = append(findings, domain.Finding{
				TransactionID: tx.ID,
				RuleID:        m.RuleID,
				Source:        domain.SourceRule,
			})
		}
	}
	return findings
}

// score builds the feature frame, applies the artifact's scaler (or logs
// the degraded fallback), and predicts every row keyed by transaction ID.
func (d *Detector) score(txs []*domain.Transaction, a *artifact.Artifact) ([]domain.Prediction, error) {
	f, err := frame.FromTransactions(txs, false)
	if err != nil {
		return nil, fmt.Errorf("failed to build scoring frame: %w", err)
	}

	X := f.X
	if a.Degraded {
		d.logger.Warn("scaler blob missing, scoring unscaled input",
			"model_version", a.Version)
	} else {
		X, err = a.Scaler.Transform(X)
		if err != nil {
			return nil, fmt.Errorf("failed to scale scoring frame: %w", err)
		}
	}

	preds := make([]domain.Prediction, len(X))
	for i, row := range X {
		label, prob := a.Forest.Predict(row)
		preds[i] = domain.Prediction{
			TransactionID: f.IDs[i],
			Label:         label,
			Confidence:    prob,
		}
	}

	return preds, nil
}

// persistPredictions writes predictions back in batches. Each batch is a
// single repository transaction; a failure reports the failing batch and
// leaves earlier batches committed.
func (d *Detector) persistPredictions(ctx context.Context, preds []domain.Prediction) error {
	batchSize := d.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = alerting.DefaultBatchSize
	}

	for i := 0; i < len(preds); i += batchSize {
		end := i + batchSize
		if end > len(preds) {
			end = len(preds)
		}
		batch := preds[i:end]

		if err := d.repo.UpsertPredictions(ctx, batch); err != nil {
			return &alerting.BatchError{
				Index: i / batchSize,
				Rows:  len(batch),
				Err:   fmt.Errorf("failed to persist predictions: %w", err),
			}
		}
	}

	return nil
}

func (d *Detector) publish(ctx context.Context, summary *Summary) {
	if d.bus == nil {
		return
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}

	if err := d.bus.Publish(ctx, domain.TopicDetectionCompleted, payload); err != nil {
		d.logger.Warn("failed to publish detection event", "error", err)
	}
}
