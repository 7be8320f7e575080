package tool

import (
	"context"
	"fmt"

	"github.com/opencodetree/codetree/pkg/action"
)

// ExploreFunc runs a bounded read-only investigation of the codebase and
// returns a digest of what it found. The concrete runner lives with the
// scheduler (it drives a shallow sub-search over the read-only tools); this
// indirection keeps the tool package free of a scheduler dependency.
type ExploreFunc func(ctx context.Context, question string) (string, error)

// ExploreTool delegates a focused read-only question ("where is X handled?",
// "what calls Y?") to a shallow sub-search so the main trajectory spends its
// depth budget on edits rather than navigation.
type ExploreTool struct {
	run ExploreFunc
}

func NewExploreTool(run ExploreFunc) *ExploreTool { return &ExploreTool{run: run} }

func (t *ExploreTool) Type() action.ToolType { return action.ToolExplore }
func (t *ExploreTool) Description() string {
	return "Delegate a focused read-only question about the codebase to a short exploration pass and get back a digest of the findings. Use for navigation questions; it cannot edit files."
}
func (t *ExploreTool) InputFormat() string {
	return "<explore><question>...</question></explore>"
}
func (t *ExploreTool) EvaluationCriteria(int) []string {
	return []string{"Was the question focused enough for a short exploration to answer?", "Did the findings advance the task?"}
}
func (t *ExploreTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -20, MaxValue: 40, Description: "Delegated navigation; rewarded like a good search"}}
}

func (t *ExploreTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	if act.Query == "" {
		return "", fmt.Errorf("%w: explore requires a question", ErrWrongToolInput)
	}
	if t.run == nil {
		return "exploration unavailable in this session", nil
	}
	return t.run(ctx, act.Query)
}
