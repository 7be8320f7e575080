package selector

import (
	"testing"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBestPrefersHigherReward(t *testing.T) {
	st := tree.New(action.Action{Type: action.ToolThink})
	root := st.Root()
	low, err := st.Expand(0, action.Action{Type: action.ToolFindFile, Query: "a"}, "")
	require.NoError(t, err)
	low.Reward = &tree.Reward{Value: 10}

	high, err := st.Expand(0, action.Action{Type: action.ToolSearchFiles, Query: "b"}, "")
	require.NoError(t, err)
	high.Reward = &tree.Reward{Value: 90}

	sel := New(DefaultWeights())
	siblings := []*tree.ActionNode{low, high}
	best := sel.SelectBest([]Candidate{
		{Node: low, Parent: root, Siblings: siblings, Tree: st},
		{Node: high, Parent: root, Siblings: siblings, Tree: st},
	})
	assert.Equal(t, high.Index, best.Index)
}

func TestSelectBestTieBreaksByLowestIndex(t *testing.T) {
	st := tree.New(action.Action{Type: action.ToolThink})
	root := st.Root()
	a, _ := st.Expand(0, action.Action{Type: action.ToolFindFile, Query: "a"}, "")
	b, _ := st.Expand(0, action.Action{Type: action.ToolFindFile, Query: "b"}, "")
	sel := New(DefaultWeights())
	siblings := []*tree.ActionNode{a, b}
	best := sel.SelectBest([]Candidate{
		{Node: b, Parent: root, Siblings: siblings, Tree: st},
		{Node: a, Parent: root, Siblings: siblings, Tree: st},
	})
	assert.Equal(t, a.Index, best.Index)
}

func TestDuplicatePenaltyLowersScore(t *testing.T) {
	st := tree.New(action.Action{Type: action.ToolThink})
	root := st.Root()
	plain, _ := st.Expand(0, action.Action{Type: action.ToolFindFile, Query: "a"}, "")
	dup, _ := st.Expand(0, action.Action{Type: action.ToolFindFile, Query: "a"}, "")
	require.True(t, dup.IsDuplicate)

	sel := New(DefaultWeights())
	siblings := []*tree.ActionNode{plain, dup}
	scorePlain := sel.Score(Candidate{Node: plain, Parent: root, Siblings: siblings, Tree: st})
	scoreDup := sel.Score(Candidate{Node: dup, Parent: root, Siblings: siblings, Tree: st})
	assert.Less(t, scoreDup, scorePlain)
}
