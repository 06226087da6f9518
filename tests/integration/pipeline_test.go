//go:build integration
// +build integration

// Package integration exercises the full engine in process: seed a realistic
// transaction window into sqlite, train a model over the HTTP API, run
// detection, and review the resulting alerts.
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerting"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/training"
)

const obviousFraudID = "tx-obvious-fraud"

// newEngine wires the community-tier stack end to end: sqlite repository,
// LRU cache, channel bus, artifact store, CEL rules, and the HTTP API.
func newEngine(t *testing.T) (*api.Server, domain.Repository) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel.db"),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	c := cache.NewLRUCache(1000)
	store := artifact.NewStore(t.TempDir())

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	ctx := context.Background()
	for _, rule := range []*domain.Rule{domain.BuiltinHighAmountRule(), domain.MLSentinelRule()} {
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("failed to seed rule %d: %v", rule.ID, err)
		}
	}
	dbRules, err := repo.ListRules(ctx)
	if err != nil {
		t.Fatalf("failed to list rules: %v", err)
	}
	if err := engine.LoadRules(dbRules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	emitter := alerting.NewEmitter(repo, b, logger, 25)
	trainer := training.NewPipeline(repo, store, b, logger, domain.TrainingConfig{
		MinAmount:       10,
		Limit:           5000,
		TestFraction:    0.2,
		Trees:           50,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		Neighbors:       5,
		WarnPositives:   10,
		Seed:            42,
	})
	detector := scoring.NewDetector(repo, store, engine, emitter, c, b, logger,
		domain.DetectionConfig{WindowLimit: 5000, BatchSize: 25})

	return api.NewServer(domain.ServerConfig{}, repo, c, b, engine, trainer, detector, "integration"), repo
}

// seedDataset inserts a window shaped like the production stream: mostly
// legitimate traffic near the feature origin with a small shifted fraud
// cluster, plus one unmistakable high-amount fraud transaction.
func seedDataset(t *testing.T, repo domain.Repository, legit, fraud int) {
	t.Helper()

	rng := rand.New(rand.NewSource(99))
	base := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)

	var txs []*domain.Transaction
	mk := func(id string, label int, amount float64) *domain.Transaction {
		tx := &domain.Transaction{
			ID:        id,
			Timestamp: base.Add(time.Duration(len(txs)) * time.Second),
			Amount:    amount,
			Label:     &label,
		}
		for j := range tx.Features {
			tx.Features[j] = rng.NormFloat64()
			if label == domain.LabelFraud && j < 8 {
				tx.Features[j] += 9
			}
		}
		return tx
	}

	for i := 0; i < legit; i++ {
		txs = append(txs, mk(fmt.Sprintf("tx-legit-%d", i), domain.LabelLegit, 15+rng.Float64()*60))
	}
	for i := 0; i < fraud; i++ {
		txs = append(txs, mk(fmt.Sprintf("tx-fraud-%d", i), domain.LabelFraud, 15+rng.Float64()*60))
	}
	txs = append(txs, mk(obviousFraudID, domain.LabelFraud, 5000))

	if err := repo.SaveTransactions(context.Background(), txs); err != nil {
		t.Fatalf("failed to seed dataset: %v", err)
	}
}

func call(t *testing.T, srv *api.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestFullDetectionPipeline(t *testing.T) {
	srv, repo := newEngine(t)
	seedDataset(t, repo, 950, 50)
	ctx := context.Background()

	// Detection before training is rejected, not silently empty.
	if rec := call(t, srv, http.MethodPost, "/detect", nil); rec.Code != http.StatusConflict {
		t.Fatalf("detect before training: status = %d, want 409", rec.Code)
	}

	// Train.
	rec := call(t, srv, http.MethodPost, "/train", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("train: status = %d: %s", rec.Code, rec.Body.String())
	}
	var report training.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.TotalRows != 1001 {
		t.Errorf("TotalRows = %d, want 1001", report.TotalRows)
	}
	if m := report.Metrics[domain.LabelFraud]; m.Recall < 0.5 {
		t.Errorf("fraud recall = %v on a separable window", m.Recall)
	}

	// Detect.
	rec = call(t, srv, http.MethodPost, "/detect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detect: status = %d: %s", rec.Code, rec.Body.String())
	}
	var summary scoring.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.Scored != 1001 {
		t.Errorf("Scored = %d, want 1001", summary.Scored)
	}
	if summary.ModelVersion != report.Version {
		t.Errorf("model version mismatch: %s vs %s", summary.ModelVersion, report.Version)
	}
	if summary.RuleAlerts < 1 {
		t.Errorf("RuleAlerts = %d, want at least the high-amount hit", summary.RuleAlerts)
	}
	if summary.MLAlerts < 1 {
		t.Errorf("MLAlerts = %d, want confident fraud alerts", summary.MLAlerts)
	}

	// The obvious fraud transaction got exactly one model alert and one
	// high-amount rule alert.
	alerts, err := repo.ListAlerts(ctx, "", 10000, 0)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	mlCount, ruleCount := 0, 0
	for _, a := range alerts {
		if a.TransactionID != obviousFraudID {
			continue
		}
		switch a.RuleID {
		case domain.MLRuleID:
			mlCount++
		case domain.HighAmountRuleID:
			ruleCount++
		}
	}
	if mlCount != 1 {
		t.Errorf("model alerts for %s = %d, want 1", obviousFraudID, mlCount)
	}
	if ruleCount != 1 {
		t.Errorf("high-amount alerts for %s = %d, want 1", obviousFraudID, ruleCount)
	}

	// Re-running detection over the same window creates no duplicates.
	rec = call(t, srv, http.MethodPost, "/detect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second detect: status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.RuleAlerts != 0 || summary.MLAlerts != 0 {
		t.Errorf("second run created duplicates: rule=%d ml=%d", summary.RuleAlerts, summary.MLAlerts)
	}

	// Single-transaction scoring agrees with the batch run.
	rec = call(t, srv, http.MethodGet, "/predictions/"+obviousFraudID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("prediction: status = %d", rec.Code)
	}
	var pred domain.PredictionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &pred); err != nil {
		t.Fatalf("failed to decode prediction: %v", err)
	}
	if !pred.Fraud {
		t.Errorf("obvious fraud not flagged by single-transaction scoring: %+v", pred)
	}

	// Review the model alert and confirm the status filter sees it.
	var mlAlertID string
	for _, a := range alerts {
		if a.TransactionID == obviousFraudID && a.RuleID == domain.MLRuleID {
			mlAlertID = a.ID
		}
	}
	rec = call(t, srv, http.MethodPut, "/alerts/"+mlAlertID, map[string]string{
		"status": domain.AlertStatusConfirmed,
		"notes":  "confirmed with issuer",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("alert update: status = %d: %s", rec.Code, rec.Body.String())
	}

	confirmed, err := repo.ListAlerts(ctx, domain.AlertStatusConfirmed, 100, 0)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(confirmed) != 1 {
		t.Errorf("confirmed alerts = %d, want 1", len(confirmed))
	}
}

func TestRuleLifecycleOverAPI(t *testing.T) {
	srv, repo := newEngine(t)
	seedDataset(t, repo, 100, 20)

	// Add a rule that fires on the seeded window, reload, and detect with
	// it after training.
	rec := call(t, srv, http.MethodPost, "/rules", map[string]any{
		"id":         10,
		"name":       "feature-spike",
		"severity":   "medium",
		"expression": `features["v1"] > 6.0`,
		"enabled":    true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule: status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := call(t, srv, http.MethodPost, "/rules/reload", nil); rec.Code != http.StatusOK {
		t.Fatalf("reload: status = %d", rec.Code)
	}

	if rec := call(t, srv, http.MethodPost, "/train", nil); rec.Code != http.StatusOK {
		t.Fatalf("train: status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = call(t, srv, http.MethodPost, "/detect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detect: status = %d: %s", rec.Code, rec.Body.String())
	}

	// The shifted fraud cluster trips the new feature rule.
	alerts, err := repo.ListAlerts(context.Background(), "", 10000, 0)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	fired := 0
	for _, a := range alerts {
		if a.RuleID == 10 {
			fired++
		}
	}
	if fired == 0 {
		t.Error("expected the hot-loaded rule to fire on the fraud cluster")
	}
}
