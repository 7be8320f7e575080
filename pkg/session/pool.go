package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opencodetree/codetree/pkg/config"
)

// PoolHealth reports the current health of the worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveSessions   int            `json:"active_sessions"`
	MaxConcurrent    int            `json:"max_concurrent"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth reports the current health of a single worker.
type WorkerHealth struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CurrentSessionID  string `json:"current_session_id,omitempty"`
	SessionsProcessed int    `json:"sessions_processed"`
}

// WorkerPool claims queued sessions from Postgres and runs each to
// completion through a bounded set of Worker goroutines.
type WorkerPool struct {
	podID    string
	store    *Store
	config   *config.QueueConfig
	executor Executor
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	activeSessions map[string]context.CancelFunc
	mu             sync.RWMutex
	started        bool

	orphans orphanState
}

func NewWorkerPool(podID string, store *Store, cfg *config.QueueConfig, executor Executor) *WorkerPool {
	return &WorkerPool{
		podID:          podID,
		store:          store,
		config:         cfg,
		executor:       executor,
		workers:        make([]*Worker, 0, cfg.WorkerCount),
		stopCh:         make(chan struct{}),
		activeSessions: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan-detection background task.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.store, p.config, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for in-flight sessions to
// finish (graceful shutdown) before returning.
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")

	active := p.getActiveSessionIDs()
	if len(active) > 0 {
		slog.Info("waiting for active sessions to complete", "count", len(active), "session_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully")
}

// RegisterSession stores a cancel function for manual cancellation (e.g.
// via pkg/api's cancel endpoint).
func (p *WorkerPool) RegisterSession(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeSessions[sessionID] = cancel
}

// UnregisterSession removes the cancel function once processing ends.
func (p *WorkerPool) UnregisterSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeSessions, sessionID)
}

// CancelSession triggers context cancellation for a session running on this
// pod. Returns true if the session was found here.
func (p *WorkerPool) CancelSession(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeSessions[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports the pool's current health for the HTTP /healthz route.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	activeSessions, err := p.store.ActiveCount(ctx)
	dbHealthy := err == nil
	var dbError string
	if err != nil {
		dbError = fmt.Sprintf("active session count query failed: %v", err)
		slog.Error("failed to query active sessions for health check", "pod_id", p.podID, "error", err)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	isHealthy := len(p.workers) > 0 && activeSessions <= p.config.MaxConcurrentSessions && dbHealthy

	p.orphans.mu.Lock()
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	return &PoolHealth{
		IsHealthy:        isHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		ActiveSessions:   activeSessions,
		MaxConcurrent:    p.config.MaxConcurrentSessions,
		WorkerStats:      workerStats,
		OrphansRecovered: orphansRecovered,
	}
}

func (p *WorkerPool) getActiveSessionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sessions := make([]string, 0, len(p.activeSessions))
	for id := range p.activeSessions {
		sessions = append(sessions, id)
	}
	return sessions
}
