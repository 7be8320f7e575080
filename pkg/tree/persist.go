package tree

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/opencodetree/codetree/pkg/action"
)

// nodeDoc is the on-disk shape of an ActionNode: a flat array of nodes
// rather than a nested tree, so it round-trips a *SearchTree without
// recursion and stays diff-friendly across checkpoints.
type nodeDoc struct {
	Index            uint32                `json:"index"`
	ParentIndex      *uint32               `json:"parent_index,omitempty"`
	Depth            int                   `json:"depth"`
	Action           action.Action         `json:"action"`
	Observation      string                `json:"observation,omitempty"`
	IsDuplicate      bool                  `json:"is_duplicate"`
	IsFinished       bool                  `json:"is_finished"`
	Visits           int                   `json:"visits"`
	ValueAccumulator float64               `json:"value_accumulator"`
	Reward           *Reward               `json:"reward,omitempty"`
	FileTrajectory   []FileTrajectoryEntry `json:"file_trajectory,omitempty"`
}

type treeDoc struct {
	Nodes []nodeDoc `json:"nodes"`
}

// MarshalJSON snapshots the whole tree into the persisted format.
func (t *SearchTree) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	doc := treeDoc{Nodes: make([]nodeDoc, len(t.nodes))}
	for i, n := range t.nodes {
		doc.Nodes[i] = nodeDoc{
			Index:            n.Index,
			ParentIndex:      n.ParentIndex,
			Depth:            n.Depth,
			Action:           n.Action,
			Observation:      n.Observation,
			IsDuplicate:      n.IsDuplicate,
			IsFinished:       n.IsFinished,
			Visits:           n.Visits,
			ValueAccumulator: n.ValueAccumulator,
			Reward:           n.Reward,
			FileTrajectory:   n.FileTrajectory,
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON restores a tree from a checkpoint. The receiver must be a
// zero-value *SearchTree (e.g. &SearchTree{}).
func (t *SearchTree) UnmarshalJSON(data []byte) error {
	var doc treeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	t.nodes = make([]*ActionNode, len(doc.Nodes))
	for i, d := range doc.Nodes {
		t.nodes[i] = &ActionNode{
			Index:            d.Index,
			ParentIndex:      d.ParentIndex,
			Depth:            d.Depth,
			Action:           d.Action,
			Observation:      d.Observation,
			IsDuplicate:      d.IsDuplicate,
			IsFinished:       d.IsFinished,
			Visits:           d.Visits,
			ValueAccumulator: d.ValueAccumulator,
			Reward:           d.Reward,
			FileTrajectory:   d.FileTrajectory,
		}
	}
	// rebuild Children back-links
	for _, n := range t.nodes {
		if n.ParentIndex != nil {
			parent := t.nodes[*n.ParentIndex]
			parent.Children = append(parent.Children, n.Index)
		}
	}
	return nil
}

// SaveCheckpoint atomically writes the tree to path via a temp-file-then-
// rename, so a crash mid-write never leaves a truncated checkpoint behind.
func SaveCheckpoint(t *SearchTree, path string) error {
	data, err := t.MarshalJSON()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tree-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadCheckpoint reads a tree previously written by SaveCheckpoint.
func LoadCheckpoint(path string) (*SearchTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := &SearchTree{}
	if err := t.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return t, nil
}
