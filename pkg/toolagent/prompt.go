package toolagent

import (
	"fmt"
	"strings"

	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/tool"
)

// TrajectoryStep is one prior (action, observation) pair along the path
// from the tree root to the node currently being expanded — the digest the
// prompt is built from.
type TrajectoryStep struct {
	ActionSummary string
	Observation   string
}

// BuildRequest describes everything needed to assemble one "propose the
// next action" prompt.
type BuildRequest struct {
	Instructions string // task description / goal, e.g. the issue text
	Trajectory   []TrajectoryStep
	FeedbackHint string // optional feedback from a prior reward/correction

	// ObservationBudget caps how many bytes of each trajectory step's
	// observation are replayed into the prompt. Zero means the default
	// (defaultObservationBudget); provider configs size it from their
	// max_tool_result_tokens setting.
	ObservationBudget int
}

const defaultObservationBudget = 2000

// BuildMessages assembles the system + user messages for a Propose call: a
// system prompt listing every registered tool's description/input-format/
// evaluation-criteria (so the model knows both how to call a tool and how
// its choice will be scored), followed by a user message replaying the
// trajectory so far.
func BuildMessages(req BuildRequest, registry *tool.Registry) []llmbroker.Message {
	trajectoryLen := len(req.Trajectory)

	var sys strings.Builder
	sys.WriteString("You are an autonomous code-editing agent. At each step you must choose exactly one tool and emit it as a single XML block using the exact tags shown below. Do not emit more than one tool call per response.\n\n")
	sys.WriteString("Available tools:\n\n")
	for _, t := range registry.All() {
		fmt.Fprintf(&sys, "### %s\n%s\nInput format: %s\nEvaluated on: %s\n\n",
			t.Type(), t.Description(), t.InputFormat(), strings.Join(t.EvaluationCriteria(trajectoryLen), "; "))
	}
	sys.WriteString("Respond with your reasoning as plain text followed by exactly one tool tag block. When the task is fully solved, use attempt_completion.\n")

	obsBudget := req.ObservationBudget
	if obsBudget <= 0 {
		obsBudget = defaultObservationBudget
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Task:\n%s\n\n", req.Instructions)
	if trajectoryLen > 0 {
		user.WriteString("Trajectory so far:\n")
		for i, step := range req.Trajectory {
			fmt.Fprintf(&user, "%d. %s\n   observation: %s\n", i+1, step.ActionSummary, truncate(step.Observation, obsBudget))
		}
		user.WriteString("\n")
	}
	if req.FeedbackHint != "" {
		fmt.Fprintf(&user, "Feedback on the prior attempt: %s\n\n", req.FeedbackHint)
	}
	user.WriteString("What is the next action?")

	return []llmbroker.Message{
		{Role: llmbroker.RoleSystem, Content: sys.String()},
		{Role: llmbroker.RoleUser, Content: user.String()},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}
