// Package tree implements the append-only arena of ActionNodes that makes
// up a session's MCTS search tree. Nodes are addressed by a
// stable uint32 index that never changes once assigned, so the tree can be
// persisted and reloaded (checkpointed JSON, see scheduler) without
// invalidating parent/child references held elsewhere.
package tree

import (
	"fmt"
	"sync"

	"github.com/opencodetree/codetree/pkg/action"
)

// FileTrajectoryEntry records one observed change to a file as the
// trajectory from the root to a node touches it, so a node can answer
// "what does this file look like right now" without replaying every
// ancestor action.
type FileTrajectoryEntry struct {
	FilePath  string `json:"file_path"`
	Content   string `json:"content"`
	NodeIndex uint32 `json:"node_index"`
}

// Reward is the scalar feedback attached to a node once it has been
// scored; it is set at most once. Value follows a -100..100 integer
// convention on the wire, and is stored as float64 in memory because the
// UCT formula blends it continuously with other terms.
type Reward struct {
	Value       float64 `json:"value"`
	Explanation string  `json:"explanation"`
	Feedback    string  `json:"feedback"`
}

// ActionNode is one vertex of the search tree: the action taken to reach
// it, the observation that resulted, and the MCTS bookkeeping (visits,
// accumulated value) needed by the selector.
type ActionNode struct {
	Index       uint32
	ParentIndex *uint32
	Depth       int

	Action      action.Action
	Observation string

	IsDuplicate bool
	IsFinished  bool

	// Visits/ValueAccumulator follow the node-hits convention: every time
	// this node is chosen as the outcome of a selection descent (not every
	// time it is merely crossed on the way to a deeper node), Visits is
	// incremented and ValueAccumulator += reward. See DESIGN.md's Open
	// Question resolution for why node-hits was chosen over
	// selection-crossings.
	Visits           int
	ValueAccumulator float64

	Reward *Reward

	FileTrajectory []FileTrajectoryEntry

	Children []uint32
}

// RewardValue returns the node's own scored reward, or 0 if unscored yet.
func (n *ActionNode) RewardValue() float64 {
	if n.Reward == nil {
		return 0
	}
	return n.Reward.Value
}

// AverageValue returns ValueAccumulator/Visits, or 0 for an unvisited node.
func (n *ActionNode) AverageValue() float64 {
	if n.Visits == 0 {
		return 0
	}
	return n.ValueAccumulator / float64(n.Visits)
}

// SearchTree is the append-only arena of nodes for a single session. All
// mutation goes through its methods, which hold the mutex for the duration —
// the tree is read and written from the single-threaded session event loop
// plus occasional concurrent readers (UI event snapshotting), so a plain
// RWMutex is enough; there is never write/write contention within a session.
type SearchTree struct {
	mu    sync.RWMutex
	nodes []*ActionNode
}

// New creates an empty tree with a root Think node representing the initial
// instruction. The root always has index 0.
func New(rootAction action.Action) *SearchTree {
	t := &SearchTree{}
	t.nodes = append(t.nodes, &ActionNode{
		Index:  0,
		Depth:  0,
		Action: rootAction,
	})
	return t
}

// Root returns the root node (index 0). A freshly-constructed tree always
// has one, so this never returns nil.
func (t *SearchTree) Root() *ActionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[0]
}

// Get returns the node at index, or nil if out of range.
func (t *SearchTree) Get(index uint32) *ActionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(index) >= len(t.nodes) {
		return nil
	}
	return t.nodes[index]
}

// Len returns the number of nodes in the tree, including the root.
func (t *SearchTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Nodes returns a snapshot slice of all nodes (shallow copy of the slice
// header only; callers must not mutate node fields without calling back
// through SearchTree methods that take the lock).
func (t *SearchTree) Nodes() []*ActionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ActionNode, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Expand appends a new child of parentIndex and returns it. The child's
// FileTrajectory starts as a copy of the parent's, so observers only ever
// need to look at the newest node to see a file's current content on that
// branch.
func (t *SearchTree) Expand(parentIndex uint32, act action.Action, observation string) (*ActionNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(parentIndex) >= len(t.nodes) {
		return nil, fmt.Errorf("tree: parent index %d out of range", parentIndex)
	}
	parent := t.nodes[parentIndex]

	child := &ActionNode{
		Index:       uint32(len(t.nodes)),
		ParentIndex: &parentIndex,
		Depth:       parent.Depth + 1,
		Action:      act,
		Observation: observation,
		IsFinished:  act.IsTerminal(),
		IsDuplicate: t.isDuplicateLocked(parentIndex, act),
	}
	child.FileTrajectory = append(child.FileTrajectory, parent.FileTrajectory...)

	t.nodes = append(t.nodes, child)
	parent.Children = append(parent.Children, child.Index)
	return child, nil
}

// isDuplicateLocked reports whether act is equal (per action.Action.Equal)
// to a sibling already expanded under parentIndex, or to any ancestor's
// action on the path from parentIndex to the root. Caller must hold t.mu.
func (t *SearchTree) isDuplicateLocked(parentIndex uint32, act action.Action) bool {
	parent := t.nodes[parentIndex]
	for _, siblingIdx := range parent.Children {
		if t.nodes[siblingIdx].Action.Equal(act) {
			return true
		}
	}
	idx := &parentIndex
	for idx != nil {
		node := t.nodes[*idx]
		if node.Action.Equal(act) {
			return true
		}
		idx = node.ParentIndex
	}
	return false
}

// RecordFileChange appends (or replaces, if the same file already has an
// entry on this node) a FileTrajectoryEntry for a CodeEdit observation.
func (n *ActionNode) RecordFileChange(filePath, content string) {
	for i := range n.FileTrajectory {
		if n.FileTrajectory[i].FilePath == filePath {
			n.FileTrajectory[i].Content = content
			n.FileTrajectory[i].NodeIndex = n.Index
			return
		}
	}
	n.FileTrajectory = append(n.FileTrajectory, FileTrajectoryEntry{
		FilePath:  filePath,
		Content:   content,
		NodeIndex: n.Index,
	})
}

// Backpropagate applies reward up the parent chain starting at nodeIndex,
// incrementing Visits and accumulating Value at each ancestor including the
// node itself.
func (t *SearchTree) Backpropagate(nodeIndex uint32, reward float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := &nodeIndex
	for idx != nil {
		if int(*idx) >= len(t.nodes) {
			return
		}
		node := t.nodes[*idx]
		node.Visits++
		node.ValueAccumulator += reward
		idx = node.ParentIndex
	}
}

// PathToRoot returns the chain of nodes from nodeIndex up to (and
// including) the root, root first.
func (t *SearchTree) PathToRoot(nodeIndex uint32) []*ActionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var chain []*ActionNode
	idx := &nodeIndex
	for idx != nil {
		if int(*idx) >= len(t.nodes) {
			break
		}
		node := t.nodes[*idx]
		chain = append(chain, node)
		idx = node.ParentIndex
	}
	// reverse to root-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// GitDiffFromRoot synthesizes a unified-diff-shaped string describing every
// file this node's trajectory has touched relative to the root's (empty)
// trajectory. It does not shell out to git — the editor process is the
// source of truth for real diffs (see editor.Bridge); this is a best-effort
// textual summary used for the Decider's solution comparison and for
// printing trees.
func (n *ActionNode) GitDiffFromRoot() string {
	if len(n.FileTrajectory) == 0 {
		return ""
	}
	out := ""
	for _, entry := range n.FileTrajectory {
		out += fmt.Sprintf("--- %s\n+++ %s (as of node %d)\n%s\n", entry.FilePath, entry.FilePath, entry.NodeIndex, entry.Content)
	}
	return out
}
