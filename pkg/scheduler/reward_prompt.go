package scheduler

import (
	"fmt"
	"strings"

	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/tool"
	"github.com/opencodetree/codetree/pkg/tree"
)

// rewardMessages assembles the rubric prompt for scoring a single node: the
// task instructions, the action taken and its observation, and the
// evaluation criteria / reward scale the dispatched tool declares for a
// trajectory of this length. The model is asked to reply with exactly the
// <reward> block pkg/reward.ParseOutput expects.
func rewardMessages(instructions string, node *tree.ActionNode, registry *tool.Registry) []llmbroker.Message {
	trajectoryLen := int(node.Depth)

	var sys strings.Builder
	sys.WriteString("You are grading one step of an autonomous code-editing agent's trajectory. ")
	sys.WriteString("Read the task, the action taken, and its observation, then respond with exactly one block of the form:\n\n")
	sys.WriteString("<reward>\n<explanation>\n...\n</explanation>\n<feedback>\n...\n</feedback>\n<value>\nN\n</value>\n</reward>\n\n")
	sys.WriteString("explanation justifies the score, feedback is actionable guidance for the next step, and value is a single integer on the scale below.\n")

	return []llmbroker.Message{
		{Role: llmbroker.RoleSystem, Content: sys.String()},
		{Role: llmbroker.RoleUser, Content: rewardUserPrompt(instructions, node, trajectoryLen, registry)},
	}
}

func rewardUserPrompt(instructions string, node *tree.ActionNode, trajectoryLen int, registry *tool.Registry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", instructions)
	fmt.Fprintf(&b, "Action taken (%s):\n%s\n\n", node.Action.Type, node.Action.String())
	fmt.Fprintf(&b, "Observation:\n%s\n\n", node.Observation)

	if t, ok := registry.Get(node.Action.Type); ok {
		criteria := t.EvaluationCriteria(trajectoryLen)
		if len(criteria) > 0 {
			fmt.Fprintf(&b, "Evaluate on: %s\n\n", strings.Join(criteria, "; "))
		}
		scale := t.RewardScale(trajectoryLen)
		if len(scale) > 0 {
			b.WriteString("Reward scale:\n")
			for _, s := range scale {
				fmt.Fprintf(&b, "- %d to %d: %s\n", s.MinValue, s.MaxValue, s.Description)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("Grade this step.")
	return b.String()
}

// feedbackMessages assembles the prompt for the optional secondary feedback
// pass: the model compares the just-scored node against its siblings and
// distills what the next expansion under the same parent should try
// differently. The response format is the <feedback_generation> block
// pkg/reward.ParseFeedbackOutput expects.
func feedbackMessages(instructions string, node *tree.ActionNode, siblings []*tree.ActionNode) []llmbroker.Message {
	var sys strings.Builder
	sys.WriteString("You are reviewing alternative steps an autonomous code-editing agent tried from the same state. ")
	sys.WriteString("Compare the latest attempt against its siblings and distill what the next attempt should do differently. Respond with exactly one block of the form:\n\n")
	sys.WriteString("<feedback_generation>\n<analysis>\n...\n</analysis>\n<feedback>\n...\n</feedback>\n</feedback_generation>\n")

	var user strings.Builder
	fmt.Fprintf(&user, "Task:\n%s\n\n", instructions)
	fmt.Fprintf(&user, "Latest attempt (%s):\n%s\nobservation: %s\n", node.Action.Type, node.Action.String(), node.Observation)
	if node.Reward != nil {
		fmt.Fprintf(&user, "scored: %.0f (%s)\n", node.Reward.Value, node.Reward.Explanation)
	}
	user.WriteString("\nSibling attempts from the same state:\n")
	for i, sib := range siblings {
		fmt.Fprintf(&user, "%d. %s\n   observation: %s\n", i+1, sib.Action.String(), sib.Observation)
		if sib.Reward != nil {
			fmt.Fprintf(&user, "   scored: %.0f (%s)\n", sib.Reward.Value, sib.Reward.Explanation)
		}
	}
	user.WriteString("\nWhat should the next attempt from this state try differently?")

	return []llmbroker.Message{
		{Role: llmbroker.RoleSystem, Content: sys.String()},
		{Role: llmbroker.RoleUser, Content: user.String()},
	}
}
