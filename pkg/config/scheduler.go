package config

import (
	"time"
)

// SchedulerConfig holds the operator-supplied baseline for the MCTS search
// budget. A session's own MaxDepth/SingleTraj/MaxExpansions
// fields (see pkg/session.Session) overlay this baseline per-session; see
// DESIGN.md for why the finish-check fields below are config-level rather
// than per-session database columns.
type SchedulerConfig struct {
	// MaxIterations bounds the number of scheduler loop iterations for a
	// session that does not request single-trajectory search.
	MaxIterations int `yaml:"max_iterations" validate:"min=1"`

	// MaxDepth is the default tree depth limit, overridden per-session by
	// Session.MaxDepth when set.
	MaxDepth int `yaml:"max_depth" validate:"min=1"`

	// MaxDuration bounds total wall-clock time spent searching.
	MaxDuration time.Duration `yaml:"max_duration"`

	// MaxExpansions is the default per-node child cap the selector's
	// candidate filter applies (children(n).len() < max_expansions),
	// overridden per-session by Session.MaxExpansions when set. Typically 1
	// or 2 — see scheduler.Budget.MaxExpansions.
	MaxExpansions int `yaml:"max_expansions"`

	// MaxFinishedNodes/MinFinishedNodes/RewardThreshold drive the
	// finish-check described in scheduler.Budget. All zero disables it.
	MaxFinishedNodes int     `yaml:"max_finished_nodes"`
	MinFinishedNodes int     `yaml:"min_finished_nodes"`
	RewardThreshold  float64 `yaml:"reward_threshold"`

	// CheckpointDir is where per-session tree snapshots are written
	// (tree.SaveCheckpoint), named "mcts-<session-id>.json".
	CheckpointDir string `yaml:"checkpoint_dir" validate:"required"`
}

// DefaultSchedulerConfig returns sane defaults for local/dev use.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxIterations:    50,
		MaxDepth:         30,
		MaxDuration:      30 * time.Minute,
		MaxExpansions:    2,
		MaxFinishedNodes: 0,
		MinFinishedNodes: 0,
		RewardThreshold:  0,
		CheckpointDir:    "/tmp/codetree/checkpoints",
	}
}
