// Package selector implements the UCT-style candidate scoring used by the
// scheduler's select step. The score is a weighted sum of exploitation,
// exploration, and a set of shaped bonuses/penalties (depth, diversity,
// duplicates, finished trajectories); all sixteen tunables are injected
// via Weights.
package selector

import (
	"math"
	"sort"

	"github.com/opencodetree/codetree/pkg/tree"
)

// Weights holds every tunable of the UCT-style scoring formula.
type Weights struct {
	ExploitationWeight float64
	UseAverageReward   bool
	ExplorationWeight  float64
	DepthWeight        float64
	DepthBonusFactor   float64
	SoftDepthLimit     float64

	HighValueThreshold     float64
	LowValueThreshold      float64
	VeryHighValueThreshold float64

	HighValueLeafBonusConstant        float64 // K1
	HighValueBadChildrenBonusConstant float64 // K2
	HighValueChildPenaltyConstant     float64 // K3
	HighValueParentBonusConstant      float64 // K4

	FinishedTrajectoryPenalty float64 // K5
	ExpectCorrectionBonus     float64 // K6

	// CheckForBadChildActions names action-type strings (see
	// action.ToolType) that count as "bad" for the bad-children bonus and
	// the expect-correction bonus. An empty list — the default — means no
	// action type is treated as bad, i.e. both terms never fire; this is
	// spelled out here because the zero value silently disabling two whole
	// terms is easy to mistake for a bug.
	CheckForBadChildActions []string

	DiversityWeight                float64
	DuplicateChildPenaltyConstant  float64 // K7
	DuplicateActionPenaltyConstant float64 // K8
}

// DefaultWeights returns the stock constants the scoring formula ships
// with, suitable as a starting configuration.
func DefaultWeights() Weights {
	return Weights{
		ExploitationWeight: 1.0,
		UseAverageReward:   false,
		ExplorationWeight:  1.0,
		DepthWeight:        0.8,
		DepthBonusFactor:   0.0,
		SoftDepthLimit:     10.0,

		HighValueThreshold:     50.0,
		LowValueThreshold:      0.0,
		VeryHighValueThreshold: 75.0,

		HighValueLeafBonusConstant:        50.0,
		HighValueBadChildrenBonusConstant: 20.0,
		HighValueChildPenaltyConstant:     5.0,
		HighValueParentBonusConstant:      20.0,

		FinishedTrajectoryPenalty: 50.0,
		ExpectCorrectionBonus:     50.0,

		CheckForBadChildActions: nil,

		DiversityWeight:                100.0,
		DuplicateChildPenaltyConstant:  25.0,
		DuplicateActionPenaltyConstant: 50.0,
	}
}

// Selector scores candidate nodes for the scheduler's select step and picks
// the highest-scoring one, breaking ties deterministically by lowest node
// index (so a given tree + weights always replay identically).
type Selector struct {
	w Weights
}

func New(w Weights) *Selector {
	return &Selector{w: w}
}

// Candidate pairs a node with the context its score needs: its parent (for
// the parent-reward bonus and the exploration term's parent visit count),
// its siblings (for the diversity and duplicate-sibling terms), and the
// tree itself (to walk ancestors for duplicate_action_penalty and
// descendants for finished_trajectory_penalty).
type Candidate struct {
	Node     *tree.ActionNode
	Parent   *tree.ActionNode
	Siblings []*tree.ActionNode
	Tree     *tree.SearchTree
}

// Score computes the UCT-style weighted sum for one candidate.
func (s *Selector) Score(c Candidate) float64 {
	w := s.w
	n := c.Node

	exploitation := n.RewardValue()
	if w.UseAverageReward {
		exploitation = n.AverageValue()
	}
	exploitation = (exploitation / 100) * w.ExploitationWeight

	parentVisits := 0
	if c.Parent != nil {
		parentVisits = c.Parent.Visits
	}
	exploration := w.ExplorationWeight * math.Sqrt(math.Log(float64(parentVisits)+1)/float64(n.Visits+1))

	depthBonus := w.DepthWeight * math.Pow(float64(n.Depth), w.DepthBonusFactor)
	depthPenalty := -w.DepthWeight * math.Max(0, float64(n.Depth)-w.SoftDepthLimit)

	reward := n.RewardValue()

	highValueLeafBonus := 0.0
	if len(n.Children) == 0 && reward > w.HighValueThreshold {
		highValueLeafBonus = w.HighValueLeafBonusConstant
	}

	highValueBadChildrenBonus := 0.0
	highValueChildPenalty := 0.0
	if len(n.Children) > 0 {
		lowRewardChildren := 0
		highRewardChildren := 0
		for _, idx := range n.Children {
			child := c.Tree.Get(idx)
			if child == nil {
				continue
			}
			if child.RewardValue() < w.LowValueThreshold {
				lowRewardChildren++
			}
			if child.RewardValue() > w.VeryHighValueThreshold {
				highRewardChildren++
			}
		}
		if reward > w.HighValueThreshold && lowRewardChildren*2 > len(n.Children) {
			highValueBadChildrenBonus = w.HighValueBadChildrenBonusConstant
		}
		highValueChildPenalty = w.HighValueChildPenaltyConstant * float64(highRewardChildren)
	}

	highValueParentBonus := 0.0
	if c.Parent != nil && c.Parent.RewardValue() > w.HighValueThreshold {
		highValueParentBonus = w.HighValueParentBonusConstant
	}

	finishedTrajectoryPenalty := 0.0
	if hasFinishedDescendant(c.Tree, n) {
		finishedTrajectoryPenalty = w.FinishedTrajectoryPenalty
	}

	expectCorrectionBonus := 0.0
	if c.Parent != nil && c.Parent.RewardValue() > w.HighValueThreshold &&
		containsActionType(w.CheckForBadChildActions, string(n.Action.Type)) {
		expectCorrectionBonus = w.ExpectCorrectionBonus
	}

	diversityBonus := diversityScore(n, c.Siblings) * w.DiversityWeight

	duplicateSiblings := 0
	for _, sib := range c.Siblings {
		if sib.Index != n.Index && sib.IsDuplicate {
			duplicateSiblings++
		}
	}
	duplicateChildPenalty := w.DuplicateChildPenaltyConstant * float64(duplicateSiblings)

	duplicateActionPenalty := w.DuplicateActionPenaltyConstant * float64(countAncestorsWithSameAction(c.Tree, n))

	return exploitation + exploration + depthBonus + depthPenalty +
		highValueLeafBonus + highValueBadChildrenBonus - highValueChildPenalty +
		highValueParentBonus - finishedTrajectoryPenalty + expectCorrectionBonus +
		diversityBonus - duplicateChildPenalty - duplicateActionPenalty
}

// hasFinishedDescendant reports whether n itself or any node in its subtree
// is finished (an AttemptCompletion already landed somewhere on this
// branch), per finished_trajectory_penalty's "on this branch" clause.
func hasFinishedDescendant(t *tree.SearchTree, n *tree.ActionNode) bool {
	if n.IsFinished {
		return true
	}
	for _, idx := range n.Children {
		child := t.Get(idx)
		if child == nil {
			continue
		}
		if hasFinishedDescendant(t, child) {
			return true
		}
	}
	return false
}

// countAncestorsWithSameAction walks n's parent chain to the root and
// counts ancestors whose action equals n's, for duplicate_action_penalty.
func countAncestorsWithSameAction(t *tree.SearchTree, n *tree.ActionNode) int {
	count := 0
	idx := n.ParentIndex
	for idx != nil {
		ancestor := t.Get(*idx)
		if ancestor == nil {
			break
		}
		if ancestor.Action.Equal(n.Action) {
			count++
		}
		idx = ancestor.ParentIndex
	}
	return count
}

// diversityScore approximates "minimum action distance to siblings": 1.0
// when no sibling shares this node's action type, shrinking as more
// siblings do, encouraging the search to branch into tool types it hasn't
// tried yet at this point in the trajectory.
func diversityScore(n *tree.ActionNode, siblings []*tree.ActionNode) float64 {
	if len(siblings) == 0 {
		return 1.0
	}
	sameType := 0
	for _, sib := range siblings {
		if sib.Index != n.Index && sib.Action.Type == n.Action.Type {
			sameType++
		}
	}
	return 1.0 / float64(1+sameType)
}

func containsActionType(list []string, t string) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// SelectBest scores every candidate and returns the winner, breaking ties
// by lowest node index for determinism.
func (s *Selector) SelectBest(candidates []Candidate) *tree.ActionNode {
	if len(candidates) == 0 {
		return nil
	}
	type scored struct {
		node  *tree.ActionNode
		score float64
	}
	results := make([]scored, len(candidates))
	for i, c := range candidates {
		results[i] = scored{node: c.Node, score: s.Score(c)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].node.Index < results[j].node.Index
	})
	return results[0].node
}
