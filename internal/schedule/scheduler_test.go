package schedule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerting"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/training"
)

// buildDetector wires a detector over a seeded, trained sqlite store.
func buildDetector(t *testing.T) (*scoring.Detector, domain.Repository) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	rng := rand.New(rand.NewSource(17))
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	var txs []*domain.Transaction
	for i := 0; i < 150; i++ {
		label := domain.LabelLegit
		if i >= 125 {
			label = domain.LabelFraud
		}
		tx := &domain.Transaction{
			ID:        fmt.Sprintf("tx-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Amount:    20 + rng.Float64()*30,
			Label:     &label,
		}
		for j := range tx.Features {
			tx.Features[j] = rng.NormFloat64()
			if label == domain.LabelFraud && j < 6 {
				tx.Features[j] += 10
			}
		}
		txs = append(txs, tx)
	}
	if err := repo.SaveTransactions(context.Background(), txs); err != nil {
		t.Fatalf("failed to seed transactions: %v", err)
	}

	store := artifact.NewStore(t.TempDir())
	trainer := training.NewPipeline(repo, store, nil, logger, domain.TrainingConfig{
		MinAmount:       10,
		Limit:           1000,
		TestFraction:    0.2,
		Trees:           25,
		MaxDepth:        8,
		MinSamplesSplit: 2,
		Neighbors:       5,
		WarnPositives:   10,
		Seed:            42,
	})
	if _, err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("training failed: %v", err)
	}

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	emitter := alerting.NewEmitter(repo, nil, logger, 25)

	return scoring.NewDetector(repo, store, engine, emitter, nil, nil, logger,
		domain.DetectionConfig{WindowLimit: 1000, BatchSize: 25}), repo
}

func TestSchedulerRunsOnBusRequest(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	detector, repo := buildDetector(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewScheduler(detector, b, logger, 0)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if err := b.Publish(context.Background(), domain.TopicDetectionRequested, nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// The triggered run scores the window and writes predictions back.
	deadline := time.Now().Add(10 * time.Second)
	for {
		tx, err := repo.GetTransaction(context.Background(), "tx-140")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if tx.MLPrediction != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the bus-triggered detection run")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSchedulerPeriodicRuns(t *testing.T) {
	detector, repo := buildDetector(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewScheduler(detector, nil, logger, 100*time.Millisecond)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for {
		tx, err := repo.GetTransaction(context.Background(), "tx-140")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if tx.MLPrediction != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a periodic detection run")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSchedulerStopIsIdempotentWithoutStart(t *testing.T) {
	detector, _ := buildDetector(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewScheduler(detector, nil, logger, 0)
	if err := s.Stop(); err != nil {
		t.Errorf("Stop without Start failed: %v", err)
	}
}
