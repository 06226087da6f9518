package alerting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// stubRepo records InsertAlerts calls and simulates deduplication and
// per-batch failures. Unused Repository methods panic via the embedded nil.
type stubRepo struct {
	domain.Repository

	batches [][]domain.Finding
	seen    map[string]bool
	failAt  int // batch index that fails, -1 for none

	purged int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{seen: make(map[string]bool), failAt: -1}
}

func (s *stubRepo) InsertAlerts(_ context.Context, findings []domain.Finding) (int, error) {
	if s.failAt >= 0 && len(s.batches) == s.failAt {
		return 0, errors.New("database gone away")
	}
	s.batches = append(s.batches, findings)

	inserted := 0
	for _, f := range findings {
		key := fmt.Sprintf("%s/%d", f.TransactionID, f.RuleID)
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		inserted++
	}
	return inserted, nil
}

func (s *stubRepo) DeleteAlertsByStatus(_ context.Context, status string) (int64, error) {
	if status != domain.AlertStatusTemporary {
		return 0, fmt.Errorf("unexpected status %q", status)
	}
	return s.purged, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func findings(n int) []domain.Finding {
	fs := make([]domain.Finding, n)
	for i := range fs {
		fs[i] = domain.Finding{
			TransactionID: fmt.Sprintf("tx-%d", i),
			RuleID:        1,
			Source:        domain.SourceRule,
		}
	}
	return fs
}

func TestEmitChunksIntoBatches(t *testing.T) {
	repo := newStubRepo()
	e := NewEmitter(repo, nil, discardLogger(), 10)

	created, err := e.Emit(context.Background(), findings(25))
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if created != 25 {
		t.Errorf("created = %d, want 25", created)
	}

	if len(repo.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(repo.batches))
	}
	for i, want := range []int{10, 10, 5} {
		if len(repo.batches[i]) != want {
			t.Errorf("batch %d has %d rows, want %d", i, len(repo.batches[i]), want)
		}
	}
}

func TestEmitDefaultBatchSize(t *testing.T) {
	repo := newStubRepo()
	e := NewEmitter(repo, nil, discardLogger(), 0)

	if _, err := e.Emit(context.Background(), findings(DefaultBatchSize+1)); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(repo.batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(repo.batches))
	}
	if len(repo.batches[0]) != DefaultBatchSize || len(repo.batches[1]) != 1 {
		t.Errorf("unexpected batch sizes: %d, %d", len(repo.batches[0]), len(repo.batches[1]))
	}
}

func TestEmitCountsOnlyNewAlerts(t *testing.T) {
	repo := newStubRepo()
	e := NewEmitter(repo, nil, discardLogger(), 10)
	ctx := context.Background()

	if _, err := e.Emit(ctx, findings(5)); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	// Re-emitting the same findings creates nothing.
	created, err := e.Emit(ctx, findings(5))
	if err != nil {
		t.Fatalf("second Emit failed: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0 for already-active findings", created)
	}
}

func TestEmitBatchFailure(t *testing.T) {
	repo := newStubRepo()
	repo.failAt = 2
	e := NewEmitter(repo, nil, discardLogger(), 10)

	created, err := e.Emit(context.Background(), findings(35))
	if err == nil {
		t.Fatal("expected batch failure")
	}

	var be *BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BatchError, got %T", err)
	}
	if be.Index != 2 {
		t.Errorf("failing batch index = %d, want 2", be.Index)
	}
	if be.Rows != 10 {
		t.Errorf("failing batch rows = %d, want 10", be.Rows)
	}
	if be.Unwrap() == nil {
		t.Error("BatchError must wrap the underlying cause")
	}

	// Batches before the failure stay committed.
	if created != 20 {
		t.Errorf("created = %d, want 20 committed before the failure", created)
	}
	if len(repo.batches) != 2 {
		t.Errorf("expected 2 committed batches, got %d", len(repo.batches))
	}
}

func TestEmitEmpty(t *testing.T) {
	repo := newStubRepo()
	e := NewEmitter(repo, nil, discardLogger(), 10)

	created, err := e.Emit(context.Background(), nil)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if created != 0 || len(repo.batches) != 0 {
		t.Error("empty input must not touch the repository")
	}
}

func TestPurgeTemporary(t *testing.T) {
	repo := newStubRepo()
	repo.purged = 3
	e := NewEmitter(repo, nil, discardLogger(), 10)

	n, err := e.PurgeTemporary(context.Background())
	if err != nil {
		t.Fatalf("PurgeTemporary failed: %v", err)
	}
	if n != 3 {
		t.Errorf("purged = %d, want 3", n)
	}
}
