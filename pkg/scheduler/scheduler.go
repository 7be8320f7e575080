// Package scheduler implements the outer MCTS loop: select a
// node to expand via the UCT selector, generate a candidate action via the
// tool-use agent, execute it via the tool dispatcher, score it via the
// reward generator, and backpropagate the result — repeating until a budget
// or finish condition is hit, then handing off to the Decider to pick the
// best finished trajectory. Each iteration runs claim → execute → record
// terminal state → checkpoint, so a crash mid-search loses at most one
// iteration of work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/reward"
	"github.com/opencodetree/codetree/pkg/selector"
	"github.com/opencodetree/codetree/pkg/tool"
	"github.com/opencodetree/codetree/pkg/toolagent"
	"github.com/opencodetree/codetree/pkg/tree"
)

// Budget bounds one scheduler Run: whichever limit is hit first stops the
// search. A zero field means "no limit" for that dimension, except where
// noted below.
type Budget struct {
	MaxIterations int
	MaxDepth      int
	MaxDuration   time.Duration

	// MaxExpansions caps how many children a single node may accumulate
	// before the selector treats it as fully expanded and excludes it from
	// the candidate set. Zero means unlimited, matching this Budget's other
	// zero-is-no-limit fields; typical configurations set this to 1 or 2.
	MaxExpansions int

	// MaxFinishedNodes/MinFinishedNodes/RewardThreshold drive the
	// finish-check: once an AttemptCompletion node has been scored, the
	// search stops early if at least MinFinishedNodes trajectories have
	// finished and either MaxFinishedNodes of them have finished or the
	// best finished reward has reached RewardThreshold. Leaving all three
	// at zero disables the finish-check entirely (the search only ever
	// stops on the other budgets or on exhaustion).
	MaxFinishedNodes int
	MinFinishedNodes int
	RewardThreshold  float64

	// MaxSearchTry switches the scheduler into single-trajectory mode: the
	// UCT selector is bypassed and the scheduler instead runs MaxSearchTry
	// independent depth-first trajectories, each time always expanding the
	// deepest non-finished node of the trajectory currently in progress.
	// Zero keeps the normal MCTS select/expand behavior.
	MaxSearchTry int
}

func (b Budget) exceeded(iterations int, elapsed time.Duration) bool {
	if b.MaxIterations > 0 && iterations >= b.MaxIterations {
		return true
	}
	if b.MaxDuration > 0 && elapsed >= b.MaxDuration {
		return true
	}
	return false
}

// finishCheckConfigured reports whether any of the finish-check budgets was
// set, so Run can skip the bookkeeping entirely for callers that don't use it.
func (b Budget) finishCheckConfigured() bool {
	return b.MaxFinishedNodes > 0 || b.MinFinishedNodes > 0 || b.RewardThreshold > 0
}

// errorReward is the fixed penalty assigned to any node whose tool
// dispatch or reward generation failed outright, so the selector reliably
// steers future expansions away from it.
const errorReward = -100

// CheckpointFunc is called after every iteration so the caller can persist
// the tree (e.g. to pkg/tree.SaveCheckpoint against a session-scoped path)
// without this package needing to know about session identity or storage.
type CheckpointFunc func(t *tree.SearchTree) error

// EventFunc notifies the caller of search progress, for streaming to the
// session's UI event channel. Both are optional (nil is a no-op).
type EventFunc func(event string, nodeIndex uint32, detail string)

// Scheduler owns one session's search: the tree plus the components needed
// to expand it. Single-trajectory mode (Budget.MaxIterations == 1, or
// explicitly requested via Run's degenerate flag below) collapses select to
// "always pick the most recently expanded leaf," matching a plain linear
// ReAct loop.
type Scheduler struct {
	Tree       *tree.SearchTree
	Selector   *selector.Selector
	ToolAgent  *toolagent.Agent
	Dispatcher *tool.Dispatcher
	Registry   *tool.Registry
	Reward     *reward.Generator
	Budget     Budget

	Instructions string

	Checkpoint CheckpointFunc
	OnEvent    EventFunc

	Logger *slog.Logger
}

// Outcome is the result of a Run: the winning node (picked by the Decider)
// plus bookkeeping about how the search ended.
type Outcome struct {
	WinnerIndex   uint32
	Iterations    int
	StoppedReason string
}

// Run drives the select/expand/simulate/execute/backpropagate loop until a
// budget is exceeded or no expandable candidate remains, then asks Decide
// for the best finished node.
func (s *Scheduler) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	iterations := 0

	singleTraj := s.Budget.MaxSearchTry > 0
	trajectoriesCompleted := 0
	currentLeaf := s.Tree.Root().Index

	stoppedReason := "budget or exhaustion"

runLoop:
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{Iterations: iterations, StoppedReason: "context done"}, err
		}
		if s.Budget.exceeded(iterations, time.Since(start)) {
			break
		}

		var candidate *tree.ActionNode
		if singleTraj {
			if trajectoriesCompleted >= s.Budget.MaxSearchTry {
				break
			}
			candidate = s.Tree.Get(currentLeaf)
			if candidate == nil {
				break
			}
			if candidate.IsFinished {
				trajectoriesCompleted++
				if trajectoriesCompleted >= s.Budget.MaxSearchTry {
					stoppedReason = "single-trajectory search exhausted"
					break
				}
				// Start the next independent depth-first trajectory from
				// the root; selector stays bypassed throughout.
				currentLeaf = s.Tree.Root().Index
				candidate = s.Tree.Root()
			}
		} else {
			candidate = s.selectCandidate()
			if candidate == nil {
				break
			}
		}
		s.emit("node_selected", candidate.Index, candidate.Action.String())

		if s.Budget.MaxDepth > 0 && candidate.Depth >= s.Budget.MaxDepth {
			// This branch has hit the depth ceiling; treat it as finished so
			// the selector's finished-trajectory penalty steers future
			// selections elsewhere, without literally terminating the node.
			candidate.IsFinished = true
			iterations++
			continue
		}

		child, err := s.expandOnce(ctx, candidate)
		if err != nil {
			if isTerminalProviderErr(err) {
				// Unauthorized/RateLimited are terminal for the whole
				// session: bubble out immediately rather than let the
				// retry-and-continue path below burn the rest of the
				// iteration budget on a failure that cannot self-resolve.
				return Outcome{Iterations: iterations, StoppedReason: "provider error"}, err
			}
			s.logger().Warn("iteration failed", "parent", candidate.Index, "error", err)
			iterations++
			continue
		}

		if singleTraj {
			currentLeaf = child.Index
		}

		iterations++

		if s.Checkpoint != nil {
			if err := s.Checkpoint(s.Tree); err != nil {
				s.logger().Warn("checkpoint failed", "error", err)
			}
		}

		if child.IsFinished {
			s.emit("node_finished", child.Index, "")

			if !singleTraj && child.Action.Type == action.ToolAttemptCompletion && s.Budget.finishCheckConfigured() {
				if s.finishCheck() {
					stoppedReason = "finish-check satisfied"
					break runLoop
				}
			}
		}
	}

	winner, err := Decide(s.Tree)
	if err != nil {
		return Outcome{Iterations: iterations, StoppedReason: "no finished node"}, err
	}
	return Outcome{WinnerIndex: winner.Index, Iterations: iterations, StoppedReason: stoppedReason}, nil
}

// finishCheck decides whether the search may stop early: once enough
// trajectories have finished, or once a finished trajectory's reward is
// good enough, there is no point running to budget exhaustion.
func (s *Scheduler) finishCheck() bool {
	b := s.Budget
	finished := 0
	best := math.Inf(-1)
	for _, n := range s.Tree.Nodes() {
		if !n.IsFinished || n.Action.Type != action.ToolAttemptCompletion {
			continue
		}
		finished++
		if v := n.RewardValue(); v > best {
			best = v
		}
	}
	if finished == 0 || finished < b.MinFinishedNodes {
		return false
	}
	if b.MaxFinishedNodes > 0 && finished >= b.MaxFinishedNodes {
		return true
	}
	if b.RewardThreshold > 0 && best >= b.RewardThreshold {
		return true
	}
	return false
}

// selectCandidate implements the selection step: compute UCT
// scores for every node in the tree that is still eligible for expansion,
// and return the argmax. A node is eligible iff it is not marked duplicate,
// not finished, within max_depth, has fewer than max_expansions children,
// and the tree's cumulative finished-node count hasn't already reached
// max_finished_nodes. If no node qualifies, the search ends.
func (s *Scheduler) selectCandidate() *tree.ActionNode {
	nodes := s.Tree.Nodes()

	if s.Budget.MaxFinishedNodes > 0 && s.finishedCount(nodes) >= s.Budget.MaxFinishedNodes {
		return nil
	}

	var candidates []selector.Candidate
	for _, n := range nodes {
		if n.IsDuplicate || n.IsFinished {
			continue
		}
		if s.Budget.MaxDepth > 0 && n.Depth >= s.Budget.MaxDepth {
			continue
		}
		if s.Budget.MaxExpansions > 0 && len(n.Children) >= s.Budget.MaxExpansions {
			continue
		}

		var parent *tree.ActionNode
		var siblings []*tree.ActionNode
		if n.ParentIndex != nil {
			parent = s.Tree.Get(*n.ParentIndex)
			if parent != nil {
				siblings = make([]*tree.ActionNode, 0, len(parent.Children))
				for _, idx := range parent.Children {
					siblings = append(siblings, s.Tree.Get(idx))
				}
			}
		}

		candidates = append(candidates, selector.Candidate{
			Node:     n,
			Parent:   parent,
			Siblings: siblings,
			Tree:     s.Tree,
		})
	}

	return s.Selector.SelectBest(candidates)
}

func (s *Scheduler) finishedCount(nodes []*tree.ActionNode) int {
	count := 0
	for _, n := range nodes {
		if n.IsFinished {
			count++
		}
	}
	return count
}

// expandOnce runs one simulate→execute→score→backpropagate cycle rooted at
// parent: propose an action via the tool-use agent, dispatch it, score the
// resulting node, and propagate the reward back up the tree.
func (s *Scheduler) expandOnce(ctx context.Context, parent *tree.ActionNode) (*tree.ActionNode, error) {
	req := toolagent.BuildRequest{
		Instructions: s.Instructions,
		Trajectory:   trajectoryFromPath(s.Tree.PathToRoot(parent.Index)),
		FeedbackHint: s.siblingFeedback(parent),
	}

	proposal, err := s.ToolAgent.Propose(ctx, req)
	if err != nil && errors.Is(err, toolagent.ErrMalformedAction) {
		// One clarifying retry before giving up on the parse: tell the
		// model its previous output was invalid and ask it to reply using
		// the documented tag format.
		retryReq := req
		retryReq.FeedbackHint = "your previous output was invalid; reply with exactly one tool tag block in the documented format"
		proposal, err = s.ToolAgent.Propose(ctx, retryReq)
	}
	if err != nil {
		if isTerminalProviderErr(err) {
			return nil, err
		}
		// A malformed proposal still gets recorded as a Think node carrying
		// the raw text, so the trajectory shows the failed attempt rather
		// than silently discarding the iteration.
		proposal = toolagent.Proposal{
			Action:  action.Action{Type: action.ToolThink, Thought: proposal.RawText},
			RawText: proposal.RawText,
		}
	}

	observation, dispatchErr := s.Dispatcher.Dispatch(ctx, proposal.Action)
	if dispatchErr != nil {
		observation = fmt.Sprintf("error: %s", dispatchErr.Error())
	}

	child, err := s.Tree.Expand(parent.Index, proposal.Action, observation)
	if err != nil {
		return nil, err
	}

	if proposal.Action.Type == action.ToolCodeEdit && dispatchErr == nil {
		child.RecordFileChange(proposal.Action.FilePath, observation)
	}

	var r tree.Reward
	if dispatchErr != nil {
		// A tool error attached to a node is scored at the floor, not
		// left to the reward generator: there is nothing meaningful to
		// evaluate about a failed dispatch.
		r = tree.Reward{Value: errorReward, Explanation: "tool dispatch error: " + dispatchErr.Error()}
	} else {
		generated, err := s.scoreNode(ctx, child)
		if err != nil {
			if isTerminalProviderErr(err) {
				return nil, err
			}
			s.logger().Warn("reward generation failed, scoring at floor", "node", child.Index, "error", err)
			r = tree.Reward{Value: errorReward, Explanation: "reward generation failed: " + err.Error()}
		} else {
			r = generated
		}
	}
	child.Reward = &r

	if dispatchErr == nil && r.Feedback == "" {
		s.generateSiblingFeedback(ctx, child)
	}

	s.Tree.Backpropagate(child.Index, r.Value)
	return child, nil
}

// siblingFeedback returns the most recent feedback recorded under parent's
// already-expanded children, routed into the next sibling's prompt as
// "what to try differently."
func (s *Scheduler) siblingFeedback(parent *tree.ActionNode) string {
	for i := len(parent.Children) - 1; i >= 0; i-- {
		sib := s.Tree.Get(parent.Children[i])
		if sib != nil && sib.Reward != nil && sib.Reward.Feedback != "" {
			return sib.Reward.Feedback
		}
	}
	return ""
}

// generateSiblingFeedback runs the optional secondary feedback pass once a
// node has at least one already-scored sibling to compare against. Failures
// are soft — a node without feedback just doesn't steer its next sibling.
func (s *Scheduler) generateSiblingFeedback(ctx context.Context, child *tree.ActionNode) {
	if s.Reward == nil || child.ParentIndex == nil {
		return
	}
	parent := s.Tree.Get(*child.ParentIndex)
	if parent == nil || len(parent.Children) < 2 {
		return
	}
	siblings := make([]*tree.ActionNode, 0, len(parent.Children)-1)
	for _, idx := range parent.Children {
		if sib := s.Tree.Get(idx); sib != nil && sib.Index != child.Index && sib.Reward != nil {
			siblings = append(siblings, sib)
		}
	}
	if len(siblings) == 0 {
		return
	}

	feedback, err := s.Reward.GenerateFeedback(ctx, feedbackMessages(s.Instructions, child, siblings))
	if err != nil {
		s.logger().Debug("sibling feedback generation failed", "node", child.Index, "error", err)
		return
	}
	child.Reward.Feedback = feedback
}

// isTerminalProviderErr reports whether err is an Unauthorized or
// RateLimited failure from the LLM broker, which the error-handling
// design marks terminal for the whole session rather than recoverable at
// this layer.
func isTerminalProviderErr(err error) bool {
	return errors.Is(err, llmbroker.ErrUnauthorized) || errors.Is(err, llmbroker.ErrRateLimited)
}

func (s *Scheduler) scoreNode(ctx context.Context, node *tree.ActionNode) (tree.Reward, error) {
	if s.Reward == nil {
		return tree.Reward{}, nil
	}
	messages := rewardMessages(s.Instructions, node, s.Registry)
	res, err := s.Reward.Generate(ctx, messages)
	if err != nil {
		return tree.Reward{}, err
	}
	return tree.Reward{Value: float64(res.Value), Explanation: res.Explanation, Feedback: res.Feedback}, nil
}

func (s *Scheduler) emit(event string, nodeIndex uint32, detail string) {
	if s.OnEvent != nil {
		s.OnEvent(event, nodeIndex, detail)
	}
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func trajectoryFromPath(path []*tree.ActionNode) []toolagent.TrajectoryStep {
	if len(path) == 0 {
		return nil
	}
	// skip the root (its Action is the task instruction, not a tool call)
	steps := make([]toolagent.TrajectoryStep, 0, len(path)-1)
	for _, n := range path[1:] {
		steps = append(steps, toolagent.TrajectoryStep{
			ActionSummary: n.Action.String(),
			Observation:   n.Observation,
		})
	}
	return steps
}
