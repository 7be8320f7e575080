package tool

import (
	"context"

	"github.com/opencodetree/codetree/pkg/action"
)

// ThinkTool records a scratch-pad thought; it has no side effect on the
// editor and its observation is simply an echo. Thinking is a free,
// un-penalized planning step.
type ThinkTool struct{}

func NewThinkTool() *ThinkTool             { return &ThinkTool{} }
func (t *ThinkTool) Type() action.ToolType { return action.ToolThink }
func (t *ThinkTool) Description() string {
	return "Record reasoning about the current state without taking any other action."
}
func (t *ThinkTool) InputFormat() string { return "<think><thought>...</thought></think>" }
func (t *ThinkTool) EvaluationCriteria(int) []string {
	return []string{"Did the reasoning correctly identify the next necessary step?"}
}
func (t *ThinkTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: 0, MaxValue: 5, Description: "Free planning step, near-zero reward either way"}}
}
func (t *ThinkTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	return act.Thought, nil
}

// AttemptCompletionTool is the terminal tool: it has no side effect, it just
// marks the node as finished (action.Action.IsTerminal handles the search
// tree's side of that). Its observation is the summary itself so it reads
// naturally in a printed trajectory.
type AttemptCompletionTool struct{}

func NewAttemptCompletionTool() *AttemptCompletionTool { return &AttemptCompletionTool{} }
func (t *AttemptCompletionTool) Type() action.ToolType { return action.ToolAttemptCompletion }
func (t *AttemptCompletionTool) Description() string {
	return "Declare the task complete and summarize what was done."
}
func (t *AttemptCompletionTool) InputFormat() string {
	return "<attempt_completion><result>...</result><command>?</command></attempt_completion>"
}
func (t *AttemptCompletionTool) EvaluationCriteria(int) []string {
	return []string{"Is the task actually complete and does the summary match the trajectory's diff?"}
}
func (t *AttemptCompletionTool) RewardScale(int) []RewardScale {
	return []RewardScale{
		{MinValue: -100, MaxValue: -1, Description: "Declared done while the task is not actually solved"},
		{MinValue: 0, MaxValue: 100, Description: "Task genuinely complete, scaled by solution quality"},
	}
}
func (t *AttemptCompletionTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	return act.Summary, nil
}

// RegisterMetaTools registers the editor-bridge-independent tools.
func RegisterMetaTools(registry *Registry) {
	registry.Register(NewThinkTool())
	registry.Register(NewAttemptCompletionTool())
}
