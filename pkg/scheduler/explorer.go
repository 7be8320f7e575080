package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/tool"
	"github.com/opencodetree/codetree/pkg/toolagent"
)

// Explorer answers a read-only question about the codebase by running a
// short linear trajectory over navigation tools only — no tree, no
// selector, no reward pass. The main search delegates to it through the
// explore tool so navigation doesn't consume the primary depth budget.
type Explorer struct {
	Agent      *toolagent.Agent
	Dispatcher *tool.Dispatcher
	MaxSteps   int
}

// readOnlyToolTypes is the tool subset an exploration may use. Anything
// that mutates files, runs commands, or terminates a trajectory is out.
var readOnlyToolTypes = map[action.ToolType]bool{
	action.ToolListFiles:       true,
	action.ToolReadFile:        true,
	action.ToolFindFile:        true,
	action.ToolSearchFiles:     true,
	action.ToolGoToDefinition:  true,
	action.ToolGoToReferences:  true,
	action.ToolHover:           true,
	action.ToolFileDiagnostics: true,
}

// ReadOnlyRegistry filters registry down to the navigation tools an
// Explorer is allowed to dispatch.
func ReadOnlyRegistry(registry *tool.Registry) *tool.Registry {
	out := tool.NewRegistry()
	for _, t := range registry.All() {
		if readOnlyToolTypes[t.Type()] {
			out.Register(t)
		}
	}
	return out
}

// Explore runs up to MaxSteps propose/dispatch rounds and returns a digest
// of every step taken. It stops early when the model proposes anything
// outside the read-only set — by then it has usually seen enough, and a
// digest of partial findings still beats an error.
func (e *Explorer) Explore(ctx context.Context, question string) (string, error) {
	maxSteps := e.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 5
	}

	var digest strings.Builder
	fmt.Fprintf(&digest, "exploration: %s\n", question)

	var trajectory []toolagent.TrajectoryStep
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return digest.String(), err
		}

		proposal, err := e.Agent.Propose(ctx, toolagent.BuildRequest{
			Instructions: "Answer this question about the codebase using only the navigation tools available. Do not edit anything.\n\n" + question,
			Trajectory:   trajectory,
		})
		if err != nil {
			if isTerminalProviderErr(err) {
				return "", err
			}
			break
		}
		if !readOnlyToolTypes[proposal.Action.Type] {
			break
		}

		observation, err := e.Dispatcher.Dispatch(ctx, proposal.Action)
		if err != nil {
			observation = fmt.Sprintf("error: %s", err.Error())
		}
		trajectory = append(trajectory, toolagent.TrajectoryStep{
			ActionSummary: proposal.Action.String(),
			Observation:   observation,
		})
		fmt.Fprintf(&digest, "%d. %s\n%s\n", step+1, proposal.Action.String(), observation)
	}

	if len(trajectory) == 0 {
		return digest.String() + "no findings\n", nil
	}
	return digest.String(), nil
}
