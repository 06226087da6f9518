// Package training implements the offline model training pipeline: fetch a
// labeled window, split, rebalance the train partition, fit the scaler on
// the balanced rows, fit the ensemble, evaluate, and publish a fresh
// co-versioned artifact.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/ml"
)

// Report summarizes a completed training run.
type Report struct {
	Version         string                  `json:"version"`
	TrainedAt       time.Time               `json:"trainedAt"`
	TotalRows       int                     `json:"totalRows"`
	TrainRows       int                     `json:"trainRows"`
	TestRows        int                     `json:"testRows"`
	PositiveSamples int                     `json:"positiveSamples"`
	BalancedRows    int                     `json:"balancedRows"`
	Metrics         map[int]ml.ClassMetrics `json:"metrics"`
	Elapsed         time.Duration           `json:"elapsed"`
}

// Pipeline runs training end to end. Each Run builds a fresh model; no
// fitted state is shared between runs or with the scoring pipeline except
// through the artifact store.
type Pipeline struct {
	repo   domain.Repository
	store  *artifact.Store
	bus    domain.EventBus
	logger *slog.Logger
	cfg    domain.TrainingConfig
}

// NewPipeline creates a training pipeline.
func NewPipeline(repo domain.Repository, store *artifact.Store, bus domain.EventBus, logger *slog.Logger, cfg domain.TrainingConfig) *Pipeline {
	return &Pipeline{
		repo:   repo,
		store:  store,
		bus:    bus,
		logger: logger,
		cfg:    cfg,
	}
}

// Run executes one training run. The artifact is written only after every
// prior stage has succeeded, so a failed run never replaces the previous
// model.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	txs, err := p.repo.FetchTrainingSet(ctx, p.cfg.MinAmount, p.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch training set: %w", err)
	}

	f, err := frame.FromTransactions(txs, true)
	if err != nil {
		return nil, fmt.Errorf("failed to build training frame: %w", err)
	}

	neg, pos := f.ClassCounts()
	p.logger.Info("training window loaded",
		"rows", f.Len(), "legit", neg, "fraud", pos)
	if pos < p.cfg.WarnPositives {
		p.logger.Warn("very few fraud samples in training window",
			"fraud_samples", pos, "threshold", p.cfg.WarnPositives)
	}

	train, test, err := f.StratifiedSplit(p.cfg.TestFraction, p.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to split training window: %w", err)
	}

	// Rebalance the training partition only. The held-out rows keep their
	// natural class imbalance so evaluation reflects production.
	balancedX, balancedY, err := ml.Oversample(train.X, train.Y, p.cfg.Neighbors, p.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to rebalance training rows: %w", err)
	}

	// The scaler is fitted on the balanced rows, so the stored statistics
	// describe the distribution the classifier actually trains on.
	scaler, err := ml.FitScaler(balancedX)
	if err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}

	scaledBalanced, err := scaler.Transform(balancedX)
	if err != nil {
		return nil, fmt.Errorf("failed to scale training rows: %w", err)
	}

	forest, err := ml.TrainForest(scaledBalanced, balancedY, ml.ForestConfig{
		Trees:           p.cfg.Trees,
		MaxDepth:        p.cfg.MaxDepth,
		MinSamplesSplit: p.cfg.MinSamplesSplit,
		Seed:            p.cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to train classifier: %w", err)
	}

	scaledTest, err := scaler.Transform(test.X)
	if err != nil {
		return nil, fmt.Errorf("failed to scale evaluation rows: %w", err)
	}

	yPred := make([]int, len(scaledTest))
	for i, row := range scaledTest {
		yPred[i], _ = forest.Predict(row)
	}
	metrics := ml.Classification(test.Y, yPred)

	report := &Report{
		Version:         uuid.New().String(),
		TrainedAt:       time.Now().UTC(),
		TotalRows:       f.Len(),
		TrainRows:       train.Len(),
		TestRows:        test.Len(),
		PositiveSamples: pos,
		BalancedRows:    len(balancedX),
		Metrics:         metrics,
		Elapsed:         time.Since(start),
	}

	a := &artifact.Artifact{
		Version:   report.Version,
		TrainedAt: report.TrainedAt,
		Scaler:    scaler,
		Forest:    forest,
	}
	if err := p.store.Save(a); err != nil {
		return nil, fmt.Errorf("failed to save model artifact: %w", err)
	}

	p.logger.Info("training run completed",
		"version", report.Version,
		"train_rows", report.TrainRows,
		"test_rows", report.TestRows,
		"balanced_rows", report.BalancedRows,
		"elapsed_ms", report.Elapsed.Milliseconds())

	p.publish(ctx, report)

	return report, nil
}

func (p *Pipeline) publish(ctx context.Context, report *Report) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return
	}

	if err := p.bus.Publish(ctx, domain.TopicTrainingCompleted, payload); err != nil {
		p.logger.Warn("failed to publish training event", "error", err)
	}
}
