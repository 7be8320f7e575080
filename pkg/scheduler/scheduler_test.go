package scheduler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/reward"
	"github.com/opencodetree/codetree/pkg/selector"
	"github.com/opencodetree/codetree/pkg/tool"
	"github.com/opencodetree/codetree/pkg/toolagent"
	"github.com/opencodetree/codetree/pkg/tree"
)

type scriptedClient struct {
	texts []string
	i     int
}

func (c *scriptedClient) Stream(ctx context.Context, req llmbroker.ChatRequest) <-chan llmbroker.Chunk {
	text := c.texts[c.i]
	if c.i < len(c.texts)-1 {
		c.i++
	}
	out := make(chan llmbroker.Chunk, 2)
	out <- llmbroker.TextChunk{Text: text}
	out <- llmbroker.DoneChunk{FinishReason: "stop"}
	close(out)
	return out
}

func newTestScheduler(t *testing.T, proposeTexts []string, rewardText string) *Scheduler {
	t.Helper()

	broker := llmbroker.NewBroker("", 1)
	broker.Register("propose", &scriptedClient{texts: proposeTexts}, nil)

	rewardBroker := llmbroker.NewBroker("", 1)
	rewardBroker.Register("score", &scriptedClient{texts: []string{rewardText}}, nil)

	registry := tool.NewRegistry()
	tool.RegisterMetaTools(registry)
	dispatcher := tool.NewDispatcher(registry, nil)

	return &Scheduler{
		Tree:         tree.New(action.Action{Type: action.ToolThink, Thought: "solve the issue"}),
		Selector:     selector.New(selector.DefaultWeights()),
		ToolAgent:    toolagent.NewAgent(broker, registry, "propose", "test-model"),
		Dispatcher:   dispatcher,
		Registry:     registry,
		Reward:       reward.NewGenerator(rewardBroker, "score", "test-model"),
		Budget:       Budget{MaxIterations: 5},
		Instructions: "fix the failing test",
	}
}

const wellFormedReward = `<reward>
<explanation>
Task resolved correctly.
</explanation>
<feedback>
None.
</feedback>
<value>
80
</value>
</reward>`

func TestSchedulerRunSingleStepCompletion(t *testing.T) {
	proposal := "The fix is complete.\n<attempt_completion>\n<summary>Fixed the off-by-one bug.</summary>\n</attempt_completion>"
	s := newTestScheduler(t, []string{proposal}, wellFormedReward)
	s.Budget = Budget{MaxIterations: 1}

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Iterations)

	winner := s.Tree.Get(outcome.WinnerIndex)
	require.NotNil(t, winner)
	assert.Equal(t, action.ToolAttemptCompletion, winner.Action.Type)
	assert.True(t, winner.IsFinished)
	assert.Equal(t, 80.0, winner.RewardValue())
}

func TestSchedulerRunStopsAtIterationBudget(t *testing.T) {
	thinking := "Still working on it.\n<think><thought>need another look</thought></think>"
	s := newTestScheduler(t, []string{thinking}, wellFormedReward)
	s.Budget = Budget{MaxIterations: 3}

	outcome, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrNoFinishedNode)
	assert.Equal(t, 3, outcome.Iterations)
}

func TestSchedulerRunStopsOnFinishCheck(t *testing.T) {
	proposal := "Looks solved.\n<attempt_completion>\n<summary>Fixed it.</summary>\n</attempt_completion>"
	s := newTestScheduler(t, []string{proposal}, wellFormedReward)
	s.Budget = Budget{MaxIterations: 10, MinFinishedNodes: 1, RewardThreshold: 50}

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Equal(t, "finish-check satisfied", outcome.StoppedReason)

	winner := s.Tree.Get(outcome.WinnerIndex)
	require.NotNil(t, winner)
	assert.Equal(t, 80.0, winner.RewardValue())
}

func TestSchedulerRunSingleTrajectoryMode(t *testing.T) {
	proposal := "Done.\n<attempt_completion>\n<summary>Solved it.</summary>\n</attempt_completion>"
	s := newTestScheduler(t, []string{proposal}, wellFormedReward)
	// Every proposal immediately finishes its one-node trajectory, so the
	// scheduler must start a fresh depth-first trajectory from the root
	// each time rather than consulting the selector or stopping after the
	// first completion.
	s.Budget = Budget{MaxSearchTry: 3, MaxIterations: 20}

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "single-trajectory search exhausted", outcome.StoppedReason)
	// Three independent trajectories, one node expanded each.
	assert.Equal(t, 3, outcome.Iterations)
	assert.Equal(t, 4, s.Tree.Len()) // root + 3 single-node trajectories
}

func TestSchedulerRunScoresDispatchErrorAtFloor(t *testing.T) {
	// find_file is a recognized action type but newTestScheduler's registry
	// only registers the meta tools, so dispatch fails with ErrUnknownTool.
	proposal := "Looking for the file.\n<find_file><query>needle</query></find_file>"
	s := newTestScheduler(t, []string{proposal}, wellFormedReward)
	s.Budget = Budget{MaxIterations: 1}

	_, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrNoFinishedNode)

	child := s.Tree.Get(1)
	require.NotNil(t, child)
	require.NotNil(t, child.Reward)
	assert.Equal(t, -100.0, child.Reward.Value)
}

func TestDecidePicksHighestReward(t *testing.T) {
	tr := tree.New(action.Action{Type: action.ToolThink, Thought: "root"})
	low, err := tr.Expand(0, action.Action{Type: action.ToolAttemptCompletion, Summary: "weak"}, "done")
	require.NoError(t, err)
	low.Reward = &tree.Reward{Value: 10}

	high, err := tr.Expand(0, action.Action{Type: action.ToolAttemptCompletion, Summary: "strong"}, "done")
	require.NoError(t, err)
	high.Reward = &tree.Reward{Value: 90}

	winner, err := Decide(tr)
	require.NoError(t, err)
	assert.Equal(t, high.Index, winner.Index)
}

func TestDecideErrorsWithoutFinishedNode(t *testing.T) {
	tr := tree.New(action.Action{Type: action.ToolThink, Thought: "root"})
	_, err := Decide(tr)
	assert.ErrorIs(t, err, ErrNoFinishedNode)
}

type failingClient struct{ err error }

func (c *failingClient) Stream(ctx context.Context, req llmbroker.ChatRequest) <-chan llmbroker.Chunk {
	out := make(chan llmbroker.Chunk, 1)
	out <- llmbroker.ErrorChunk{Err: c.err}
	close(out)
	return out
}

func TestSchedulerRunAbortsOnUnauthorized(t *testing.T) {
	s := newTestScheduler(t, []string{"unused"}, wellFormedReward)

	broker := llmbroker.NewBroker("", 0)
	broker.Register("propose", &failingClient{
		err: fmt.Errorf("anthropic: status 401: %w", llmbroker.ErrUnauthorized),
	}, nil)
	s.ToolAgent = toolagent.NewAgent(broker, s.Registry, "propose", "test-model")
	s.Budget = Budget{MaxIterations: 10}

	outcome, err := s.Run(context.Background())
	require.ErrorIs(t, err, llmbroker.ErrUnauthorized)
	assert.Equal(t, "provider error", outcome.StoppedReason)
	assert.Equal(t, 0, outcome.Iterations)
	assert.Equal(t, 1, s.Tree.Len()) // root only, nothing scored
}

func TestSchedulerRunStopsPromptlyOnCancel(t *testing.T) {
	thinking := "Still working.\n<think><thought>keep digging</thought></think>"
	s := newTestScheduler(t, []string{thinking}, wellFormedReward)
	s.Budget = Budget{MaxIterations: 100}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Checkpoint = func(tr *tree.SearchTree) error {
		cancel() // trip the token after the first completed iteration
		return nil
	}

	outcome, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "context done", outcome.StoppedReason)
	assert.Equal(t, 1, outcome.Iterations)

	// The iteration in flight when the token tripped was still recorded in
	// full: action, reward, and consistent parent/child links.
	child := s.Tree.Get(1)
	require.NotNil(t, child)
	require.NotNil(t, child.Reward)
	require.NotNil(t, child.ParentIndex)
	assert.Contains(t, s.Tree.Get(*child.ParentIndex).Children, child.Index)
}
