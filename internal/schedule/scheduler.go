// Package schedule runs detection passes in the background, either on a
// fixed interval or on demand via the event bus.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Scheduler triggers detection runs. Runs are serialized: a trigger that
// arrives while a run is in flight is dropped, not queued, since the next
// run covers the same window anyway.
type Scheduler struct {
	detector *scoring.Detector
	bus      domain.EventBus
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewScheduler creates a scheduler. interval <= 0 disables periodic runs;
// bus-triggered runs still work.
func NewScheduler(detector *scoring.Detector, bus domain.EventBus, logger *slog.Logger, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		detector: detector,
		bus:      bus,
		logger:   logger,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins background processing.
func (s *Scheduler) Start() error {
	if s.bus != nil {
		sub, err := s.bus.Subscribe(s.ctx, domain.TopicDetectionRequested, s.handleRequest)
		if err != nil {
			return err
		}
		s.subscriptions = append(s.subscriptions, sub)
	}

	if s.interval > 0 {
		s.wg.Add(1)
		go s.runPeriodic()
	}

	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) runPeriodic() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.trigger("interval")
		}
	}
}

func (s *Scheduler) handleRequest(ctx context.Context, msg *domain.Message) error {
	s.trigger("bus")
	return nil
}

// trigger runs detection unless a run is already in flight.
func (s *Scheduler) trigger(source string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug("detection run already in flight, skipping", "source", source)
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	summary, err := s.detector.Run(s.ctx)
	if err != nil {
		s.logger.Error("scheduled detection run failed",
			"source", source,
			"error", err,
		)
		return
	}

	s.logger.Info("scheduled detection run finished",
		"source", source,
		"scored", summary.Scored,
		"rule_alerts", summary.RuleAlerts,
		"ml_alerts", summary.MLAlerts,
	)
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() error {
	s.cancel()

	for _, sub := range s.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	s.subscriptions = nil

	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}
