package scheduler

import (
	"errors"
	"sort"

	"github.com/opencodetree/codetree/pkg/tree"
)

// ErrNoFinishedNode is returned by Decide when no node in the tree ever
// reached IsFinished.
var ErrNoFinishedNode = errors.New("scheduler: no finished node in tree")

// Decide picks the winning trajectory out of a search tree: among all
// finished nodes, sort by reward value descending and take the first.
// Ties break toward the earlier node index.
func Decide(t *tree.SearchTree) (*tree.ActionNode, error) {
	var finished []*tree.ActionNode
	for _, n := range t.Nodes() {
		if n.IsFinished {
			finished = append(finished, n)
		}
	}
	if len(finished) == 0 {
		return nil, ErrNoFinishedNode
	}

	sort.SliceStable(finished, func(i, j int) bool {
		return finished[i].RewardValue() > finished[j].RewardValue()
	})
	return finished[0], nil
}
