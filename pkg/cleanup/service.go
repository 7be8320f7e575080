// Package cleanup runs the background retention loop: soft-deleting
// terminal sessions past their retention window and pruning the event log
// for sessions that finished long enough ago that no client is still
// replaying it. Both passes run on one ticker and are driven by
// pkg/session.Store and pkg/events.EventPublisher.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/opencodetree/codetree/pkg/config"
	"github.com/opencodetree/codetree/pkg/events"
	"github.com/opencodetree/codetree/pkg/session"
)

// Service periodically enforces retention policy. All operations are
// idempotent and safe to run from multiple codetree-server replicas at
// once, since each round is a plain conditional UPDATE/DELETE.
type Service struct {
	config    *config.RetentionConfig
	store     *session.Store
	publisher *events.EventPublisher

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service bound to cfg's retention windows.
func NewService(cfg *config.RetentionConfig, store *session.Store, publisher *events.EventPublisher) *Service {
	return &Service{config: cfg, store: store, publisher: publisher}
}

// Start launches the background cleanup loop. Safe to call once; a second
// call on an already-started service is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"session_retention_days", s.config.SessionRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for the current pass (if
// any) to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteOldSessions(ctx)
	s.cleanupOrphanedEvents(ctx)
}

func (s *Service) softDeleteOldSessions(ctx context.Context) {
	count, err := s.store.SoftDeleteOldSessions(ctx, s.config.SessionRetentionDays)
	if err != nil {
		slog.Error("retention: soft-delete sessions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: soft-deleted old sessions", "count", count)
	}
}

func (s *Service) cleanupOrphanedEvents(ctx context.Context) {
	count, err := s.publisher.CleanupOrphanedEvents(ctx, s.config.EventTTL)
	if err != nil {
		slog.Error("retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: cleaned up orphaned events", "count", count)
	}
}
