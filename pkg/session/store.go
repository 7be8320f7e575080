package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opencodetree/codetree/pkg/tree"
)

// Store is the plain database/sql persistence layer for sessions and their
// search trees: hand-written SQL against pkg/database's sessions/
// action_nodes/tool_calls schema, no ORM.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new queued session and returns its generated ID.
func (s *Store) Create(ctx context.Context, sess *Session) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions
			(id, run_id, repo_name, status, instruction, max_depth, max_expansions, single_traj, model_name,
			 editor_url, base_commit, access_token)
		 VALUES ($1, $2, $3, 'queued', $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, sess.RunID, sess.RepoName, sess.Instruction, sess.MaxDepth, sess.MaxExpansions, sess.SingleTraj, sess.ModelName,
		sess.EditorURL, sess.BaseCommit, sess.AccessToken,
	)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return id, nil
}

// Get loads a session by ID.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, repo_name, status, instruction, root_node_index, max_depth,
		        max_expansions, single_traj, model_name, editor_url, base_commit, access_token,
		        pod_id, claimed_at, heartbeat_at,
		        finished_at, error_message, created_at, updated_at
		 FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ActiveCount returns how many sessions are currently in_progress, for the
// worker pool's global-capacity check.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE status = $1`, StatusInProgress).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active sessions: %w", err)
	}
	return n, nil
}

// ClaimNext atomically claims the oldest queued session using
// SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Store) ClaimNext(ctx context.Context, podID string) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, run_id, repo_name, status, instruction, root_node_index, max_depth,
		        max_expansions, single_traj, model_name, editor_url, base_commit, access_token,
		        pod_id, claimed_at, heartbeat_at,
		        finished_at, error_message, created_at, updated_at
		 FROM sessions
		 WHERE status = $1
		 ORDER BY created_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`, StatusQueued)

	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoSessionsAvailable
		}
		return nil, fmt.Errorf("querying queued session: %w", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET status = $1, pod_id = $2, claimed_at = $3, heartbeat_at = $3, updated_at = $3
		 WHERE id = $4`,
		StatusInProgress, podID, now, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("claiming session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	sess.Status = StatusInProgress
	sess.PodID = &podID
	sess.ClaimedAt = &now
	sess.HeartbeatAt = &now
	return sess, nil
}

// Heartbeat refreshes heartbeat_at for orphan detection.
func (s *Store) Heartbeat(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET heartbeat_at = $1 WHERE id = $2`, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("heartbeat update: %w", err)
	}
	return nil
}

// UpdateTerminalStatus writes the final status/error of a finished session.
func (s *Store) UpdateTerminalStatus(ctx context.Context, sessionID string, status Status, errMsg *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = $1, finished_at = $2, error_message = $3, updated_at = $2 WHERE id = $4`,
		status, time.Now(), errMsg, sessionID)
	if err != nil {
		return fmt.Errorf("updating terminal status: %w", err)
	}
	return nil
}

// SetRootNodeIndex records the winning node picked by the Decider.
func (s *Store) SetRootNodeIndex(ctx context.Context, sessionID string, index int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET root_node_index = $1, updated_at = now() WHERE id = $2`, index, sessionID)
	return err
}

// Orphans returns in_progress sessions whose heartbeat is older than threshold.
func (s *Store) Orphans(ctx context.Context, threshold time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, repo_name, status, instruction, root_node_index, max_depth,
		        max_expansions, single_traj, model_name, editor_url, base_commit, access_token,
		        pod_id, claimed_at, heartbeat_at,
		        finished_at, error_message, created_at, updated_at
		 FROM sessions
		 WHERE status = $1 AND heartbeat_at IS NOT NULL AND heartbeat_at < $2`,
		StatusInProgress, threshold)
	if err != nil {
		return nil, fmt.Errorf("querying orphans: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// OrphansOwnedBy returns in_progress sessions claimed by podID, for
// one-time startup cleanup after a crash.
func (s *Store) OrphansOwnedBy(ctx context.Context, podID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, repo_name, status, instruction, root_node_index, max_depth,
		        max_expansions, single_traj, model_name, editor_url, base_commit, access_token,
		        pod_id, claimed_at, heartbeat_at,
		        finished_at, error_message, created_at, updated_at
		 FROM sessions WHERE status = $1 AND pod_id = $2`,
		StatusInProgress, podID)
	if err != nil {
		return nil, fmt.Errorf("querying startup orphans: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// PersistTree upserts every node of t into action_nodes (and a matching
// tool_calls row per node), so the HTTP/WS API can serve live tree state
// without reading the checkpoint JSON file directly. Called after every
// scheduler iteration, the same cadence as the file checkpoint.
func (s *Store) PersistTree(ctx context.Context, sessionID string, t *tree.SearchTree) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning checkpoint transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, n := range t.Nodes() {
		payload, err := json.Marshal(n.Action)
		if err != nil {
			return fmt.Errorf("marshaling action for node %d: %w", n.Index, err)
		}
		fileTraj, err := json.Marshal(n.FileTrajectory)
		if err != nil {
			return fmt.Errorf("marshaling file trajectory for node %d: %w", n.Index, err)
		}

		var rewardValue *float64
		var rewardExplanation, rewardFeedback *string
		if n.Reward != nil {
			rewardValue = &n.Reward.Value
			rewardExplanation = &n.Reward.Explanation
			rewardFeedback = &n.Reward.Feedback
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO action_nodes
				(session_id, node_index, parent_index, depth, action_type, action_payload,
				 observation, is_duplicate, is_finished, visits, value_accumulator,
				 reward_value, reward_explanation, reward_feedback, file_trajectory)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			 ON CONFLICT (session_id, node_index) DO UPDATE SET
				observation = EXCLUDED.observation,
				is_duplicate = EXCLUDED.is_duplicate,
				is_finished = EXCLUDED.is_finished,
				visits = EXCLUDED.visits,
				value_accumulator = EXCLUDED.value_accumulator,
				reward_value = EXCLUDED.reward_value,
				reward_explanation = EXCLUDED.reward_explanation,
				reward_feedback = EXCLUDED.reward_feedback,
				file_trajectory = EXCLUDED.file_trajectory`,
			sessionID, n.Index, n.ParentIndex, n.Depth, string(n.Action.Type), payload,
			nullIfEmpty(n.Observation), n.IsDuplicate, n.IsFinished, n.Visits, n.ValueAccumulator,
			rewardValue, rewardExplanation, rewardFeedback, fileTraj)
		if err != nil {
			return fmt.Errorf("upserting action node %d: %w", n.Index, err)
		}

		if n.ParentIndex != nil {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO tool_calls (session_id, node_index, call_index, tool_type, input_xml, output, error)
				 VALUES ($1, $2, 0, $3, $4, $5, $6)
				 ON CONFLICT (session_id, node_index, call_index) DO UPDATE SET
					output = EXCLUDED.output,
					error = EXCLUDED.error`,
				sessionID, n.Index, string(n.Action.Type), n.Action.String(),
				nullIfEmpty(n.Observation), dispatchErrorOf(n.Reward))
			if err != nil {
				return fmt.Errorf("upserting tool call %d: %w", n.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}
	return nil
}

// dispatchErrorOf extracts an error string for the tool_calls.error column
// from a node's reward: the scheduler scores dispatch failures at the fixed
// -100 floor with an explanation prefixed "tool dispatch error:".
func dispatchErrorOf(r *tree.Reward) *string {
	if r == nil {
		return nil
	}
	const prefix = "tool dispatch error: "
	if len(r.Explanation) > len(prefix) && r.Explanation[:len(prefix)] == prefix {
		msg := r.Explanation[len(prefix):]
		return &msg
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SoftDeleteOldSessions marks terminal sessions whose finished_at is older
// than retentionDays as deleted, for pkg/cleanup's periodic retention pass.
// Rows are kept (not hard-deleted) so action_nodes/tool_calls/events remain
// available for audit even after a session drops out of normal listings.
func (s *Store) SoftDeleteOldSessions(ctx context.Context, retentionDays int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET deleted_at = now()
		 WHERE deleted_at IS NULL
		   AND finished_at IS NOT NULL
		   AND finished_at < now() - ($1 || ' days')::interval`,
		retentionDays,
	)
	if err != nil {
		return 0, fmt.Errorf("soft-deleting old sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var status string
	if err := row.Scan(&sess.ID, &sess.RunID, &sess.RepoName, &status, &sess.Instruction,
		&sess.RootNodeIndex, &sess.MaxDepth, &sess.MaxExpansions, &sess.SingleTraj, &sess.ModelName,
		&sess.EditorURL, &sess.BaseCommit, &sess.AccessToken,
		&sess.PodID, &sess.ClaimedAt, &sess.HeartbeatAt, &sess.FinishedAt, &sess.ErrorMessage,
		&sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.Status = Status(status)
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var out []*Session
	for rows.Next() {
		var sess Session
		var status string
		if err := rows.Scan(&sess.ID, &sess.RunID, &sess.RepoName, &status, &sess.Instruction,
			&sess.RootNodeIndex, &sess.MaxDepth, &sess.MaxExpansions, &sess.SingleTraj, &sess.ModelName,
			&sess.EditorURL, &sess.BaseCommit, &sess.AccessToken,
			&sess.PodID, &sess.ClaimedAt, &sess.HeartbeatAt, &sess.FinishedAt, &sess.ErrorMessage,
			&sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sess.Status = Status(status)
		out = append(out, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return out, nil
}
