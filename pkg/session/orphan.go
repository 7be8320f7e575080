package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan-detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned sessions. Every pod
// runs this independently; recovery is idempotent (a session is either
// still in_progress with a stale heartbeat, or it has already been marked
// terminal by another pod's scan).
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds in_progress sessions with stale heartbeats
// and marks them timed_out — a terminal state; orphaned sessions are never
// resumed.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.config.OrphanThreshold)

	orphans, err := p.store.Orphans(ctx, threshold)
	if err != nil {
		return fmt.Errorf("querying orphaned sessions: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("detected orphaned sessions", "count", len(orphans))

	recovered, failed := 0, 0
	for _, sess := range orphans {
		if err := p.recoverOrphanedSession(ctx, sess); err != nil {
			slog.Error("failed to recover orphaned session", "session_id", sess.ID, "error", err)
			failed++
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	if failed > 0 {
		slog.Warn("orphan recovery completed with failures", "total_orphans", len(orphans), "recovered", recovered, "failed", failed)
	}
	return nil
}

func (p *WorkerPool) recoverOrphanedSession(ctx context.Context, sess *Session) error {
	log := slog.With("session_id", sess.ID, "old_pod_id", sess.PodID)

	lastHeartbeat := "unknown"
	if sess.HeartbeatAt != nil {
		lastHeartbeat = sess.HeartbeatAt.Format(time.RFC3339)
	}
	podID := "unknown"
	if sess.PodID != nil {
		podID = *sess.PodID
	}

	errMsg := fmt.Sprintf("orphaned: no heartbeat from pod %s since %s", podID, lastHeartbeat)
	if err := p.store.UpdateTerminalStatus(ctx, sess.ID, StatusTimedOut, &errMsg); err != nil {
		return err
	}

	log.Warn("orphaned session marked as timed_out", "last_heartbeat", lastHeartbeat)
	return nil
}

// CleanupStartupOrphans performs a one-time cleanup of sessions owned by
// this pod that were in_progress when the pod previously crashed. Call
// once during startup, before the worker pool begins processing.
func CleanupStartupOrphans(ctx context.Context, store *Store, podID string) error {
	orphans, err := store.OrphansOwnedBy(ctx, podID)
	if err != nil {
		return fmt.Errorf("querying startup orphans: %w", err)
	}
	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("found startup orphans from previous run", "pod_id", podID, "count", len(orphans))

	for _, sess := range orphans {
		errMsg := fmt.Sprintf("orphaned: pod %s restarted while session was in progress", podID)
		if err := store.UpdateTerminalStatus(ctx, sess.ID, StatusTimedOut, &errMsg); err != nil {
			slog.Error("failed to mark startup orphan", "session_id", sess.ID, "error", err)
			continue
		}
		slog.Info("startup orphan recovered", "session_id", sess.ID)
	}
	return nil
}
