package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/opencodetree/codetree/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// SessionRegistry is the subset of WorkerPool a Worker needs for session
// cancel registration.
type SessionRegistry interface {
	RegisterSession(sessionID string, cancel context.CancelFunc)
	UnregisterSession(sessionID string)
}

// Worker polls the session store for queued sessions and runs each to
// completion via an Executor.
type Worker struct {
	id       string
	podID    string
	store    *Store
	config   *config.QueueConfig
	executor Executor
	pool     SessionRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu                sync.RWMutex
	status            WorkerStatus
	currentSessionID  string
	sessionsProcessed int
}

func NewWorker(id, podID string, store *Store, cfg *config.QueueConfig, executor Executor, pool SessionRegistry) *Worker {
	return &Worker{
		id:       id,
		podID:    podID,
		store:    store,
		config:   cfg,
		executor: executor,
		pool:     pool,
		stopCh:   make(chan struct{}),
		status:   WorkerStatusIdle,
	}
}

// Start begins the worker's polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its current session (if
// any) to finish. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health reports the worker's current status for the pool health endpoint.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            string(w.status),
		CurrentSessionID:  w.currentSessionID,
		SessionsProcessed: w.sessionsProcessed,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoSessionsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing session", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a session, and runs it to
// completion.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	activeCount, err := w.store.ActiveCount(ctx)
	if err != nil {
		return fmt.Errorf("checking active sessions: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentSessions {
		return ErrAtCapacity
	}

	sess, err := w.store.ClaimNext(ctx, w.podID)
	if err != nil {
		return err
	}

	log := slog.With("session_id", sess.ID, "worker_id", w.id)
	log.Info("session claimed")

	w.setStatus(WorkerStatusWorking, sess.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	sessionCtx, cancelSession := context.WithTimeout(ctx, w.config.SessionTimeout)
	defer cancelSession()

	w.pool.RegisterSession(sess.ID, cancelSession)
	defer w.pool.UnregisterSession(sess.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(sessionCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, sess.ID)

	result := w.executor.Execute(sessionCtx, sess)

	if result == nil {
		switch {
		case errors.Is(sessionCtx.Err(), context.DeadlineExceeded):
			result = &ExecutionResult{Status: StatusTimedOut, Error: fmt.Errorf("session timed out after %v", w.config.SessionTimeout)}
		case errors.Is(sessionCtx.Err(), context.Canceled):
			result = &ExecutionResult{Status: StatusCancelled, Error: context.Canceled}
		default:
			result = &ExecutionResult{Status: StatusFailed, Error: fmt.Errorf("executor returned nil result")}
		}
	}
	if result.Status == "" && errors.Is(sessionCtx.Err(), context.DeadlineExceeded) {
		result = &ExecutionResult{Status: StatusTimedOut, Error: fmt.Errorf("session timed out after %v", w.config.SessionTimeout)}
	}
	if result.Status == "" && errors.Is(sessionCtx.Err(), context.Canceled) {
		result = &ExecutionResult{Status: StatusCancelled, Error: context.Canceled}
	}

	cancelHeartbeat()

	var errMsg *string
	if result.Error != nil {
		msg := result.Error.Error()
		errMsg = &msg
	}
	if err := w.store.UpdateTerminalStatus(context.Background(), sess.ID, result.Status, errMsg); err != nil {
		log.Error("failed to update session terminal status", "error", err)
		return err
	}

	w.mu.Lock()
	w.sessionsProcessed++
	w.mu.Unlock()

	log.Info("session processing complete", "status", result.Status)
	return nil
}

func (w *Worker) runHeartbeat(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, sessionID); err != nil {
				slog.Warn("heartbeat update failed", "session_id", sessionID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter so replicas don't
// thunder on the queue in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSessionID = sessionID
}
