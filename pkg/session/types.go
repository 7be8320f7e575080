// Package session implements the session service: session identity,
// storage path, and cancellation-token ownership; orchestration of
// pkg/scheduler on behalf of a caller; and the bounded worker pool that
// claims queued sessions from Postgres and runs each to completion.
package session

import (
	"context"
	"errors"
	"time"
)

// Status mirrors the sessions.status column's allowed values.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusTimedOut   Status = "timed_out"
)

// IsTerminal reports whether s is a final status a session never leaves.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Session is one row of the `sessions` table: the identity, storage path,
// and tree/scheduler config the session service owns.
type Session struct {
	ID            string
	RunID         string
	RepoName      string
	Status        Status
	Instruction   string
	RootNodeIndex *int
	MaxDepth      int
	MaxExpansions int
	SingleTraj    bool
	ModelName     string

	// EditorURL addresses the per-session editor process this session's
	// tool dispatch is bound to. BaseCommit anchors the final diff;
	// AccessToken gates pkg/api's HTTP/WS routes for this session.
	EditorURL   string
	BaseCommit  *string
	AccessToken *string

	PodID        *string
	ClaimedAt    *time.Time
	HeartbeatAt  *time.Time
	FinishedAt   *time.Time
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExecutionResult is the terminal outcome of running one session's search
// to completion or budget exhaustion — intentionally lightweight, since all
// intermediate state (nodes, tool calls) was already written to the DB
// progressively via checkpoints.
type ExecutionResult struct {
	Status     Status
	WinnerDiff string
	Reward     float64
	Iterations int
	Error      error
}

// Executor owns the entire session lifecycle internally: builds a
// scheduler.Scheduler for the claimed session and runs it to completion.
// The worker only handles claiming, heartbeat, terminal status update, and
// event publication.
type Executor interface {
	Execute(ctx context.Context, sess *Session) *ExecutionResult
}

// Sentinel errors for queue operations, mirroring pkg/queue's.
var (
	ErrNoSessionsAvailable = errors.New("session: no sessions available")
	ErrAtCapacity          = errors.New("session: at capacity")
)
