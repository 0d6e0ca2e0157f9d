// Package cleanup enforces data retention on the event history.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// EventDeleter removes expired event rows. Satisfied by *events.Store.
type EventDeleter interface {
	DeleteOlderThan(ctx context.Context, ttl time.Duration) (int64, error)
}

// RetentionConfig controls the retention sweeper. Research results are
// never swept: they are the knowledge base.
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	EventTTL time.Duration `yaml:"eventTTL"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultRetentionConfig keeps thirty days of event history, swept hourly.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:  true,
		EventTTL: 30 * 24 * time.Hour,
		Interval: time.Hour,
	}
}

// Service periodically deletes event rows past their TTL. Deletion is
// idempotent and safe to run from multiple replicas.
type Service struct {
	cfg    RetentionConfig
	events EventDeleter

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweeper.
func NewService(cfg RetentionConfig, events EventDeleter) *Service {
	return &Service{cfg: cfg, events: events}
}

// Start launches the background sweep loop. The first sweep runs
// immediately.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil || !s.cfg.Enabled {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention sweeper started",
		"event_ttl", s.cfg.EventTTL, "interval", s.cfg.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	count, err := s.events.DeleteOlderThan(ctx, s.cfg.EventTTL)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention sweep removed expired events", "count", count)
	}
}
