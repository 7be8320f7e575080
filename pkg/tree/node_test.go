package tree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandAndBackpropagate(t *testing.T) {
	st := New(action.Action{Type: action.ToolThink, Thought: "root"})

	child, err := st.Expand(0, action.Action{Type: action.ToolFindFile, Query: "foo"}, "found 3 matches")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), child.Index)
	assert.Equal(t, 1, child.Depth)

	grandchild, err := st.Expand(child.Index, action.Action{Type: action.ToolAttemptCompletion, Summary: "done"}, "")
	require.NoError(t, err)
	assert.True(t, grandchild.IsFinished)

	st.Backpropagate(grandchild.Index, 80)

	assert.Equal(t, 1, st.Root().Visits)
	assert.Equal(t, 1, child.Visits)
	assert.Equal(t, 1, grandchild.Visits)
	assert.Equal(t, 80.0, grandchild.AverageValue())
}

func TestExpandUnknownParent(t *testing.T) {
	st := New(action.Action{Type: action.ToolThink})
	_, err := st.Expand(42, action.Action{Type: action.ToolThink}, "")
	assert.Error(t, err)
}

func TestFileTrajectoryInheritance(t *testing.T) {
	st := New(action.Action{Type: action.ToolThink})
	child, err := st.Expand(0, action.Action{Type: action.ToolCodeEdit, FilePath: "a.go"}, "")
	require.NoError(t, err)
	child.RecordFileChange("a.go", "package a\n")

	grandchild, err := st.Expand(child.Index, action.Action{Type: action.ToolThink}, "")
	require.NoError(t, err)
	require.Len(t, grandchild.FileTrajectory, 1)
	assert.Equal(t, "package a\n", grandchild.FileTrajectory[0].Content)
}

func TestActionEqualCodeEditStrictText(t *testing.T) {
	a := action.Action{Type: action.ToolCodeEdit, FilePath: "a.go", OldText: "x", NewText: "y"}
	b := action.Action{Type: action.ToolCodeEdit, FilePath: "a.go", OldText: "x", NewText: "y"}
	c := action.Action{Type: action.ToolCodeEdit, FilePath: "a.go", OldText: "x", NewText: "z"}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestExpandMarksSiblingDuplicate(t *testing.T) {
	st := New(action.Action{Type: action.ToolThink, Thought: "root"})

	first, err := st.Expand(0, action.Action{Type: action.ToolFindFile, Query: "foo"}, "found 1 match")
	require.NoError(t, err)
	assert.False(t, first.IsDuplicate)

	second, err := st.Expand(0, action.Action{Type: action.ToolFindFile, Query: "foo"}, "found 1 match")
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)

	third, err := st.Expand(0, action.Action{Type: action.ToolFindFile, Query: "bar"}, "found 0 matches")
	require.NoError(t, err)
	assert.False(t, third.IsDuplicate)
}

func TestExpandMarksAncestorDuplicate(t *testing.T) {
	st := New(action.Action{Type: action.ToolThink, Thought: "root"})

	child, err := st.Expand(0, action.Action{Type: action.ToolReadFile, FilePath: "a.go"}, "contents")
	require.NoError(t, err)
	assert.False(t, child.IsDuplicate)

	grandchild, err := st.Expand(child.Index, action.Action{Type: action.ToolReadFile, FilePath: "a.go"}, "contents")
	require.NoError(t, err)
	assert.True(t, grandchild.IsDuplicate)
}

func TestCheckpointRoundTrip(t *testing.T) {
	st := New(action.Action{Type: action.ToolThink, Thought: "root"})
	child, err := st.Expand(0, action.Action{Type: action.ToolCodeEdit, FilePath: "a.go", NewText: "z"}, "ok")
	require.NoError(t, err)
	st.Backpropagate(child.Index, 42)

	path := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, SaveCheckpoint(st, path))

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())
	assert.Equal(t, 42.0, loaded.Get(1).ValueAccumulator)
	assert.Equal(t, "a.go", loaded.Get(1).Action.FilePath)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
