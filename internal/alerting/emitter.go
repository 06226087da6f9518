// Package alerting persists findings as alerts in fixed-size batches.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultBatchSize is the number of findings written per database
// transaction.
const DefaultBatchSize = 25

// BatchError reports a failed batch write. Earlier batches have already
// been committed; the failing batch and everything after it were not
// written.
type BatchError struct {
	Index int // zero-based batch index
	Rows  int // rows in the failing batch
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d rows) failed: %v", e.Index, e.Rows, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Emitter writes findings to the repository and announces new alerts on
// the event bus.
type Emitter struct {
	repo      domain.Repository
	bus       domain.EventBus
	logger    *slog.Logger
	batchSize int
}

// NewEmitter creates an emitter. batchSize <= 0 selects the default.
func NewEmitter(repo domain.Repository, bus domain.EventBus, logger *slog.Logger, batchSize int) *Emitter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Emitter{
		repo:      repo,
		bus:       bus,
		logger:    logger,
		batchSize: batchSize,
	}
}

// PurgeTemporary deletes all temporary scratch alerts. Called at the
// start of every detection run so stale scratch rows never linger.
func (e *Emitter) PurgeTemporary(ctx context.Context) (int64, error) {
	n, err := e.repo.DeleteAlertsByStatus(ctx, domain.AlertStatusTemporary)
	if err != nil {
		return 0, fmt.Errorf("failed to purge temporary alerts: %w", err)
	}
	if n > 0 {
		e.logger.Info("purged temporary alerts", "count", n)
	}
	return n, nil
}

// Emit writes findings in batches. Each batch is a single repository
// transaction; when a batch fails, committed batches stay committed and
// the error identifies the failing batch. Findings that already have an
// active alert are skipped silently. Returns the number of alerts
// actually created.
func (e *Emitter) Emit(ctx context.Context, findings []domain.Finding) (int, error) {
	if len(findings) == 0 {
		return 0, nil
	}

	created := 0
	for i := 0; i < len(findings); i += e.batchSize {
		end := i + e.batchSize
		if end > len(findings) {
			end = len(findings)
		}
		batch := findings[i:end]

		n, err := e.repo.InsertAlerts(ctx, batch)
		if err != nil {
			return created, &BatchError{
				Index: i / e.batchSize,
				Rows:  len(batch),
				Err:   err,
			}
		}
		created += n
	}

	if created > 0 {
		e.publish(ctx, findings, created)
	}

	return created, nil
}

func (e *Emitter) publish(ctx context.Context, findings []domain.Finding, created int) {
	if e.bus == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"created":    created,
		"submitted":  len(findings),
		"emitted_at": time.Now().UTC(),
	})
	if err != nil {
		return
	}

	if err := e.bus.Publish(ctx, domain.TopicAlertCreated, payload); err != nil {
		e.logger.Warn("failed to publish alert event", "error", err)
	}
}
